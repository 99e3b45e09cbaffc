package server

import "errors"

// Server-specific errors
var (
	ErrServerClosed         = errors.New("server is closed")
	ErrServerAlreadyRunning = errors.New("server is already running")
	ErrInvalidConfig        = errors.New("invalid server configuration")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrInboxFull            = errors.New("command inbox is full")
	ErrUnknownCommand       = errors.New("unknown command")
)
