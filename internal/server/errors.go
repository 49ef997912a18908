package server

import "errors"

// Server-specific errors
var (
	ErrServerClosed         = errors.New("server is closed")
	ErrServerNotRunning     = errors.New("server is not running")
	ErrServerAlreadyRunning = errors.New("server is already running")
	ErrMaxClientsReached    = errors.New("maximum clients reached")
	ErrInvalidMessage       = errors.New("invalid message")
	ErrListenerFailed       = errors.New("failed to create listener")
	ErrActorNotFound        = errors.New("actor not found")
)
