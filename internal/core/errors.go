package core

// Error codes reference
//
// Codes let operators quote a failure to support staff without the
// technical detail. Families:
//
//	FILE001 - No CSV in the request
//	FILE002 - CSV could not be parsed (bad quoting, ragged rows)
//	FILE003 - CSV has a header but no data rows
//	FILE004 - Upload exceeds the size limit
//	IMP001  - Too many concurrent imports
//	IMP002  - Import timed out
//	IMP003  - Import cancelled by the client
//	DB001   - Unique constraint violated
//	DB002   - Foreign key constraint violated
//	DB003   - A value could not be converted to its column type
//	DB004   - A required column was NULL
//	DB005   - Database unreachable
//	STU001  - Student not found
//	STU002  - Update carried no accepted fields
//	REQ001  - Request body is not valid JSON
//	ERR000  - Anything else

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNoCSV means the request carried no CSV payload.
	ErrNoCSV = errors.New(`CSV not provided. Send multipart "file" or raw text/csv or JSON { csv }`)

	// ErrNoDataRows means the CSV held no data rows after the header.
	ErrNoDataRows = errors.New("CSV contains no data rows.")

	// ErrFileTooLarge means the upload exceeded the configured size limit.
	ErrFileTooLarge = errors.New("file too large")

	// ErrTooManyImports means no import slot freed up within the wait time.
	ErrTooManyImports = errors.New("too many concurrent imports, please try again later")

	// ErrStudentNotFound means no student row has the requested stuid.
	ErrStudentNotFound = errors.New("Student not found")

	// ErrNoUpdatableFields means an update body named no accepted column.
	ErrNoUpdatableFields = errors.New("No updatable fields provided.")

	// ErrInvalidBody means a JSON request body could not be decoded.
	ErrInvalidBody = errors.New("request body is not valid JSON")
)

// InputError reports a CSV the parser rejected. No transaction is opened
// for an import that fails this way.
type InputError struct {
	Err error
}

func (e *InputError) Error() string {
	return "CSV parse error: " + describeParseError(e.Err)
}

func (e *InputError) Unwrap() error {
	return e.Err
}

// IsInputError reports whether err is a client-side input problem: a missing,
// malformed, empty, or oversized CSV.
func IsInputError(err error) bool {
	var ie *InputError
	return errors.As(err, &ie) ||
		errors.Is(err, ErrNoCSV) ||
		errors.Is(err, ErrNoDataRows) ||
		errors.Is(err, ErrFileTooLarge)
}

// UserMessage is the operator-facing rendering of an error.
type UserMessage struct {
	Message string `json:"message"`
	Action  string `json:"action"`
	Code    string `json:"code"`
}

var sentinelMessages = []struct {
	target error
	msg    UserMessage
}{
	{ErrNoCSV, UserMessage{"No CSV was provided", "Attach the file as multipart field \"file\", send text/csv, or post JSON { \"csv\": ... }", "FILE001"}},
	{ErrNoDataRows, UserMessage{"The CSV has no data rows", "Add at least one row below the header", "FILE003"}},
	{ErrFileTooLarge, UserMessage{"File exceeds the maximum upload size", "Split the file into smaller parts", "FILE004"}},
	{ErrTooManyImports, UserMessage{"Too many imports are running", "Please wait a moment before trying again", "IMP001"}},
	{context.DeadlineExceeded, UserMessage{"The import timed out", "Try a smaller file or try again later", "IMP002"}},
	{context.Canceled, UserMessage{"The import was cancelled", "Start the import again if this was unintended", "IMP003"}},
	{ErrStudentNotFound, UserMessage{"Student not found", "Check the student id", "STU001"}},
	{ErrNoUpdatableFields, UserMessage{"No updatable fields provided", "Send at least one student column other than stuid", "STU002"}},
	{ErrInvalidBody, UserMessage{"The request body is not valid JSON", "Send a JSON object with Content-Type application/json", "REQ001"}},
}

var parseErrorMessage = UserMessage{
	Message: "The file is not a valid CSV",
	Action:  "Ensure the file is comma-separated with the same number of columns on every row",
	Code:    "FILE002",
}

// sqlStateMessages maps PostgreSQL SQLSTATE classes and codes to messages.
// Exact codes are checked before two-character classes.
var sqlStateMessages = map[string]UserMessage{
	"23505": {"A record with this value already exists", "Check for duplicate ids or numbers in your CSV", "DB001"},
	"23503": {"Referenced record does not exist", "Ensure the referenced course or institute exists", "DB002"},
	"23502": {"A required value is missing", "Fill in every column the student table requires", "DB004"},
	"22":    {"A value does not match its column type", "Use YYYY-MM-DD for dates and digits only for numeric ids", "DB003"},
}

var connectionPatterns = []string{
	"connection refused",
	"connection reset",
	"failed to connect",
	"no such host",
	"broken pipe",
}

var connectionMessage = UserMessage{
	Message: "Unable to reach the database",
	Action:  "Please try again in a few moments",
	Code:    "DB005",
}

// defaultMessage is returned when nothing matches. Support staff should check
// the logs for the technical error when users report ERR000.
var defaultMessage = UserMessage{
	Message: "Internal server error during bulk insert.",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-facing message. Sentinels
// are matched with errors.Is, PostgreSQL errors by SQLSTATE, and connection
// failures by their text.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, s := range sentinelMessages {
		if errors.Is(err, s.target) {
			return s.msg
		}
	}

	var ie *InputError
	if errors.As(err, &ie) {
		return parseErrorMessage
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if msg, ok := sqlStateMessages[pgErr.Code]; ok {
			return msg
		}
		if len(pgErr.Code) >= 2 {
			if msg, ok := sqlStateMessages[pgErr.Code[:2]]; ok {
				return msg
			}
		}
		return defaultMessage
	}

	lower := strings.ToLower(err.Error())
	for _, p := range connectionPatterns {
		if strings.Contains(lower, p) {
			return connectionMessage
		}
	}

	return defaultMessage
}

// FormatUserError renders err as "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than
// the ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
