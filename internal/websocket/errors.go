package websocket

import "errors"

// Connection-related errors
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrWriteTimeout     = errors.New("write timeout")
	ErrInvalidJSON      = errors.New("invalid JSON data")
)

// Relay-related errors
var (
	ErrNilChannel      = errors.New("channel cannot be nil")
	ErrSessionNotFound = errors.New("session not found")
)

// Handler-related errors
var (
	ErrInvalidParameters = errors.New("invalid connection parameters")
)
