// internal/connection/errors.go
package connection

import "errors"

var (
	// ErrNotConnected is returned by I/O on a connection that is not open
	ErrNotConnected = errors.New("not connected")
	// ErrConnectInProgress is returned while a connect or disconnect is running
	ErrConnectInProgress = errors.New("connect or disconnect already in progress")
	// ErrIncompleteWrite is returned when the transport accepted fewer bytes than requested
	ErrIncompleteWrite = errors.New("incomplete write")
	// ErrTransportNotOpen is returned when a freshly opened transport reports itself closed
	ErrTransportNotOpen = errors.New("transport did not open")
	// ErrInvalidSettings is returned when the requested framing or timeouts are rejected
	ErrInvalidSettings = errors.New("invalid settings")
	// ErrWriteInProgress is returned while a timed out write is still blocked in the transport
	ErrWriteInProgress = errors.New("previous write still in progress")
	// ErrNoPort is returned by Reconnect when no port was ever connected
	ErrNoPort = errors.New("no port to reconnect to")
)
