package protocol

import (
	"errors"
	"fmt"
	"net/http"
)

// StatusError is a protocol violation that maps to a client-facing HTTP
// status. The connection that raised it answers with an error response and
// closes.
type StatusError struct {
	Code     int    // HTTP status code
	Detail   string // human readable detail, sent as PGErrorDetail
	CIMError string // optional CIMError header value
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return e.Status()
	}
	return fmt.Sprintf("%s: %s", e.Status(), e.Detail)
}

// Status returns the status line fragment, e.g. "400 Bad Request".
func (e *StatusError) Status() string {
	return StatusLine(e.Code)
}

// StatusLine returns "<code> <reason phrase>".
func StatusLine(code int) string {
	return fmt.Sprintf("%d %s", code, http.StatusText(code))
}

// BadRequest returns a 400 status error.
func BadRequest(detail string) *StatusError {
	return &StatusError{Code: http.StatusBadRequest, Detail: detail}
}

// TooLarge returns a 413 status error.
func TooLarge(detail string) *StatusError {
	return &StatusError{Code: http.StatusRequestEntityTooLarge, Detail: detail}
}

// NotImplemented returns a 501 status error.
func NotImplemented(detail string) *StatusError {
	return &StatusError{Code: http.StatusNotImplemented, Detail: detail}
}

// Internal returns a 500 status error.
func Internal(detail string) *StatusError {
	return &StatusError{Code: http.StatusInternalServerError, Detail: detail}
}

// AsStatusError unwraps err to a *StatusError. Errors of any other kind are
// reported as 500.
func AsStatusError(err error) *StatusError {
	var se *StatusError
	if errors.As(err, &se) {
		return se
	}
	return Internal(err.Error())
}
