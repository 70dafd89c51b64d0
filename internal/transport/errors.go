// internal/transport/errors.go
package transport

import "errors"

var (
	// ErrClosed is returned by operations on a closed transport
	ErrClosed = errors.New("transport closed")
	// ErrUnsupportedScheme is returned when no opener handles a port address
	ErrUnsupportedScheme = errors.New("unsupported port scheme")
)
