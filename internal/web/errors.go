package web

// errors.go provides unified error response handling for the web layer.
//
// The error flow:
//  1. Handler encounters an error
//  2. Calls respondError(w, r, err)
//  3. Error is mapped via core.MapError to a user message and code
//  4. Technical error is logged with the request id for correlation
//  5. JSON envelope is written; technical detail is included outside production

import (
	"context"
	"errors"
	"net/http"

	"github.com/campusops/admin/internal/core"
	"github.com/campusops/admin/internal/logging"
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
	Detail  string `json:"detail,omitempty"`
}

// statusFor picks the HTTP status for err.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case core.IsInputError(err),
		errors.Is(err, core.ErrNoUpdatableFields),
		errors.Is(err, core.ErrInvalidBody):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrStudentNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrTooManyImports):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// respondError logs err and writes the JSON error envelope.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	s.respondErrorFallback(w, r, err, "")
}

// respondErrorFallback is respondError with a route-specific message for
// errors that map to no specific code.
func (s *Server) respondErrorFallback(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	status := statusFor(err)
	msg := core.MapError(err)

	level := logging.FromContext(r.Context()).Error
	if status < http.StatusInternalServerError {
		level = logging.FromContext(r.Context()).Warn
	}
	level("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", msg.Code,
	)

	resp := ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	}
	switch {
	case core.IsInputError(err), errors.Is(err, core.ErrStudentNotFound), errors.Is(err, core.ErrNoUpdatableFields):
		// These texts are written for end users.
		resp.Error = rootMessage(err)
	case !core.IsUserFacing(err) && fallback != "":
		resp.Error = fallback
		resp.Message = fallback
	}
	if !s.cfg.App.IsProduction() {
		resp.Detail = err.Error()
	}

	writeJSON(w, status, resp)
}

// rootMessage returns the text of the innermost user-facing error in err's
// chain, skipping wrapping context such as "import <id>:".
func rootMessage(err error) string {
	var ie *core.InputError
	if errors.As(err, &ie) {
		return ie.Error()
	}
	for _, target := range []error{core.ErrNoCSV, core.ErrNoDataRows, core.ErrStudentNotFound, core.ErrNoUpdatableFields} {
		if errors.Is(err, target) {
			return target.Error()
		}
	}
	return err.Error()
}
