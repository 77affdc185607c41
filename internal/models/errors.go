package models

import "errors"

// Error kinds surfaced by the telemetry core. Callers match them with errors.Is.
var (
	ErrMalformedPayload   = errors.New("malformed payload")
	ErrInvalidRange       = errors.New("invalid range")
	ErrAccessDenied       = errors.New("access denied")
	ErrStorageUnavailable = errors.New("storage unavailable")

	ErrNoData         = errors.New("no data for basin")
	ErrUnknownUser    = errors.New("unknown user")
	ErrNotFound       = errors.New("not found")
	ErrDuplicate      = errors.New("duplicate resource")
	ErrInvalidRequest = errors.New("invalid request")
)
