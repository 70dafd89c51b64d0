// internal/manager/errors.go
package manager

import "errors"

var (
	// ErrResponseTimeout is returned when no response arrives in time
	ErrResponseTimeout = errors.New("response timeout")
	// ErrNotConnected is returned by command operations while disconnected
	ErrNotConnected = errors.New("not connected")
	// ErrInvalidExpectation is returned for an expected-response pattern that does not compile
	ErrInvalidExpectation = errors.New("invalid expected response pattern")
	// ErrShuttingDown is returned by operations started after GracefulShutdown
	ErrShuttingDown = errors.New("manager is shutting down")
)
