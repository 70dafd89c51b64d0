// internal/reader/errors.go
package reader

import "errors"

var (
	// ErrAlreadyRunning is returned by Start on a reader that is still running
	ErrAlreadyRunning = errors.New("reader already running")
	// ErrSourceDisconnected ends the loop when the line source reports it is no longer connected
	ErrSourceDisconnected = errors.New("line source disconnected")
)
