// internal/sequence/errors.go
package sequence

import "errors"

var (
	// ErrUnknownSequence is returned for a name that is not in the library
	ErrUnknownSequence = errors.New("unknown sequence")
	// ErrRecursion is returned when a sequence includes itself directly or indirectly
	ErrRecursion = errors.New("recursive sequence")
	// ErrTooDeep is returned when nesting exceeds the library depth limit
	ErrTooDeep = errors.New("sequence nesting too deep")
	// ErrEmptySequence is returned for a sequence without steps
	ErrEmptySequence = errors.New("empty sequence")
	// ErrInvalidStep is returned for a malformed directive
	ErrInvalidStep = errors.New("invalid step")
	// ErrUnbalanced is returned for if/else/endif blocks that do not pair up
	ErrUnbalanced = errors.New("unbalanced conditional block")
	// ErrStopped is returned when a stop_if_not condition is false
	ErrStopped = errors.New("sequence stopped by condition")
	// ErrCommandFailed is returned when a device rejects a command
	ErrCommandFailed = errors.New("command failed")
	// ErrNotConnected is returned when a run starts without a connection
	ErrNotConnected = errors.New("device not connected")
	// ErrAlreadyRunning is returned when a run is requested while another is active
	ErrAlreadyRunning = errors.New("sequence already running")
)
