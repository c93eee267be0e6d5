package api

import (
	"errors"
	"fmt"
	"net/http"
)

// Machine-readable codes attached to normalized errors. The server may send
// its own codes in the error body; these are the ones the client produces
// itself.
const (
	CodeNetworkError  = "network_error"
	CodeExportExpired = "export_expired"
)

// Error is the single normalized failure shape every client operation
// returns. Status is the HTTP status of the rejected request, or 0 when no
// response arrived at all so callers can tell "the server rejected this"
// from "the server was unreachable".
type Error struct {
	Status  int
	Message string
	Code    string
}

func (e *Error) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("api: %s", e.Message)
	}
	return fmt.Sprintf("api: %s (status %d)", e.Message, e.Status)
}

// AsError extracts a normalized *Error from err, if there is one.
func AsError(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsTransport reports whether the request never produced a response
// (connection refused, timeout, DNS failure).
func IsTransport(err error) bool {
	e, ok := AsError(err)
	return ok && e.Status == 0
}

// IsValidation reports a user-correctable bad-input rejection.
func IsValidation(err error) bool {
	e, ok := AsError(err)
	return ok && (e.Status == http.StatusBadRequest || e.Status == http.StatusUnprocessableEntity)
}

// IsNotFound reports that the entity vanished server-side. Callers treat
// this as stale local state. An expired export URL is reported the same way.
func IsNotFound(err error) bool {
	e, ok := AsError(err)
	return ok && (e.Status == http.StatusNotFound || e.Code == CodeExportExpired)
}

// IsInvalidState reports that the action is not valid for the job's current
// status, e.g. restarting a running job.
func IsInvalidState(err error) bool {
	e, ok := AsError(err)
	return ok && e.Status == http.StatusConflict
}

// IsServer reports a 5xx rejection, eligible for manual retry.
func IsServer(err error) bool {
	e, ok := AsError(err)
	return ok && e.Status >= 500
}
