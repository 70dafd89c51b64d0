// internal/worker/errors.go
package worker

import "errors"

var (
	// ErrStopRequested is the cancellation cause set by Stop
	ErrStopRequested = errors.New("stop requested")
	// ErrInterrupted is the cancellation cause set by Interrupt and Force
	ErrInterrupted = errors.New("worker interrupted")
	// ErrAlreadyStarted is returned when Start is called twice
	ErrAlreadyStarted = errors.New("worker already started")
	// ErrWorkerTimeout is returned by Manager.Run when the call does not finish in time
	ErrWorkerTimeout = errors.New("worker timed out")
)
