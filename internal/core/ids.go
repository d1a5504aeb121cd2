package core

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/campusops/admin/internal/config"
	"github.com/campusops/admin/internal/logging"
)

// Defaults for the pattern id strategy.
const (
	DefaultIDPrefix = "STU_ID_"
	DefaultIDPad    = 3
)

var trailingDigits = regexp.MustCompile(`^(.*?)(\d+)$`)

// NextIncrementID returns the id following last. When last ends in a digit
// run, the run is incremented and left-padded to its original width, so
// "STU_ID_009" becomes "STU_ID_010" and "STU_ID_999" becomes "STU_ID_1000".
// Otherwise the result is prefix followed by 1 padded to pad digits.
func NextIncrementID(last, prefix string, pad int) string {
	if pad < 1 {
		pad = 1
	}
	m := trailingDigits.FindStringSubmatch(last)
	if m == nil {
		return prefix + leftPad("1", pad)
	}

	return m[1] + incrementDigits(m[2])
}

// incrementDigits adds one to a decimal digit string, keeping its width
// unless the value overflows it: "009" -> "010", "99" -> "100".
func incrementDigits(digits string) string {
	b := []byte(digits)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < '9' {
			b[i]++
			return string(b)
		}
		b[i] = '0'
	}
	return "1" + string(b)
}

func leftPad(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat("0", width-len(s)) + s
}

// IDAllocator answers "what is the last / next student id" questions.
// Both strategies read committed state and reserve nothing, so two callers
// may be told the same next id.
type IDAllocator struct {
	db DBTX

	lastNumeric   string
	sequenceNext  string
	lastByPattern string
	seqSchema     string
	seqName       string
}

// NewIDAllocator prepares id queries against the catalog's student table.
func NewIDAllocator(db DBTX, cat config.Catalog) *IDAllocator {
	table := quoteQualified(cat.StudentTable)
	id := quoteIdent(string(ColStudentID))
	schema, seq := splitQualified(cat.IDSequence)

	return &IDAllocator{
		db:          db,
		lastNumeric: fmt.Sprintf("SELECT COALESCE(MAX(%s), 0)::bigint FROM %s", id, table),
		sequenceNext: `SELECT COALESCE(last_value + increment_by, start_value)
			FROM pg_catalog.pg_sequences
			WHERE schemaname = $1 AND sequencename = $2`,
		lastByPattern: fmt.Sprintf(
			`SELECT %[1]s::text FROM %[2]s
			WHERE %[1]s::text ~ '\d'
			ORDER BY COALESCE(substring(%[1]s::text FROM '(\d+)$'), '0')::numeric DESC, %[1]s::text DESC
			LIMIT 1`, id, table),
		seqSchema: schema,
		seqName:   seq,
	}
}

// LastNumericID returns MAX(stuid), or 0 for an empty table.
func (a *IDAllocator) LastNumericID(ctx context.Context) (int64, error) {
	var last int64
	if err := a.db.QueryRow(ctx, a.lastNumeric).Scan(&last); err != nil {
		return 0, fmt.Errorf("last numeric id: %w", err)
	}
	return last, nil
}

// NextNumericID returns the next value the id sequence will hand out without
// consuming it. When the sequence cannot be read it falls back to
// LastNumericID + 1.
func (a *IDAllocator) NextNumericID(ctx context.Context) (int64, error) {
	var next pgtype.Int8
	err := a.db.QueryRow(ctx, a.sequenceNext, a.seqSchema, a.seqName).Scan(&next)
	if err == nil && next.Valid {
		return next.Int64, nil
	}
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		logging.FromContext(ctx).Debug("sequence read failed, using MAX+1",
			"sequence", a.seqSchema+"."+a.seqName, "error", err)
	}

	last, err := a.LastNumericID(ctx)
	if err != nil {
		return 0, err
	}
	return last + 1, nil
}

// LastPatternID returns the id whose trailing digit run is numerically
// greatest, ties broken by the id text descending. ok is false when no id
// contains a digit.
func (a *IDAllocator) LastPatternID(ctx context.Context) (last string, ok bool, err error) {
	err = a.db.QueryRow(ctx, a.lastByPattern).Scan(&last)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("last pattern id: %w", err)
	}
	return last, true, nil
}

// NextPatternID returns NextIncrementID applied to LastPatternID.
func (a *IDAllocator) NextPatternID(ctx context.Context, prefix string, pad int) (string, error) {
	last, ok, err := a.LastPatternID(ctx)
	if err != nil {
		return "", err
	}
	if !ok {
		last = ""
	}
	return NextIncrementID(last, prefix, pad), nil
}
