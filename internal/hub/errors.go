package hub

import "errors"

// Hub-specific error types
var (
	ErrHubAlreadyRunning = errors.New("hub is already running")
	ErrHubNotRunning     = errors.New("hub is not running")
	ErrQueueFull         = errors.New("question queue is full")
	ErrRateLimited       = errors.New("too many questions, slow down")
	ErrSessionNotFound   = errors.New("session not found")
)
