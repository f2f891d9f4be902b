package server

import (
	"errors"
	"net/http"
)

// apiError carries the failure category for an operation so handlers can map
// it to a status code and JSON body in one place. Benign idempotency
// conflicts are not errors; they are reported as success with a flag.
type apiError struct {
	status  int
	message string
}

func (e *apiError) Error() string { return e.message }

func errValidation(message string) *apiError {
	return &apiError{status: http.StatusBadRequest, message: message}
}

func errForbidden(message string) *apiError {
	return &apiError{status: http.StatusForbidden, message: message}
}

func errNotFound(message string) *apiError {
	return &apiError{status: http.StatusNotFound, message: message}
}

func errPrecondition(message string) *apiError {
	return &apiError{status: http.StatusConflict, message: message}
}

func errUpstream(message string) *apiError {
	return &apiError{status: http.StatusBadGateway, message: message}
}

func errExhausted(message string) *apiError {
	return &apiError{status: http.StatusServiceUnavailable, message: message}
}

func errInternal(message string) *apiError {
	return &apiError{status: http.StatusInternalServerError, message: message}
}

// writeOperationError renders an apiError, falling back to a generic 500 for
// anything unclassified (driver errors and the like).
func writeOperationError(w http.ResponseWriter, err error) {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		writeError(w, apiErr.status, apiErr.message)
		return
	}
	writeError(w, http.StatusInternalServerError, "internal error")
}
