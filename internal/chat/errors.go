package chat

import "errors"

// Domain error taxonomy. Callers classify with errors.Is; the HTTP layer
// maps each sentinel to a status code and snake_case error code.
var (
	ErrValidation   = errors.New("validation failed")
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
)
