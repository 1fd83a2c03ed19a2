package client

import "errors"

var (
	// ErrDaemonNotRunning is returned when the dashboard server is not running
	ErrDaemonNotRunning = errors.New("dashboard server not running")

	// ErrPermissionDenied is returned when the user may not access the server socket
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNotFound is returned when 404 is returned from the server
	ErrNotFound = errors.New("404 not found")
)
