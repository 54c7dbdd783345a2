package domain

import "errors"

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExists   = errors.New("session id already taken")
	ErrForbidden       = errors.New("session belongs to another user")
	ErrValidation      = errors.New("invalid request")
	ErrInvalidMode     = errors.New("invalid mode")
	ErrModeMismatch    = errors.New("session mode does not match request")
	ErrConfig          = errors.New("provider not configured")
	ErrObjectStore     = errors.New("object store upload failed")
	ErrUnauthenticated = errors.New("unauthenticated")
)
