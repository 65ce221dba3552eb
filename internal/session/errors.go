package session

import (
	"errors"

	"coachrelay/pkg/types"
)

// Session registry error types
var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionExpired   = errors.New("session has expired")
	ErrPinExhausted     = errors.New("could not allocate a unique pin")
	ErrInvalidOwnerName = types.ErrInvalidOwnerName

	// errPinCollision is retried internally and never returned
	errPinCollision = errors.New("pin already in use")
)
