package types

import "errors"

// Validation errors shared by the registry and the HTTP layer
var (
	ErrInvalidOwnerName = errors.New("owner name must be 1-100 characters")
	ErrInvalidPIN       = errors.New("pin must be exactly 6 digits")
	ErrInvalidRole      = errors.New("invalid role: must be 'desktop' or 'mobile'")
	ErrInvalidSessionID = errors.New("invalid session id")
)
