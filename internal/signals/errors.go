// internal/signals/errors.go
package signals

import "errors"

var (
	// ErrInvalidMapping is returned for a mapping that is not "variable (type)"
	ErrInvalidMapping = errors.New("invalid signal mapping")
	// ErrInvalidSignalName is returned for names with characters other than letters, digits and underscores
	ErrInvalidSignalName = errors.New("invalid signal name")
	// ErrMalformedLine is returned for lines without a NAME:VALUE shape
	ErrMalformedLine = errors.New("malformed signal line")
	// ErrUnknownSignal is returned for a signal with no registered mapping
	ErrUnknownSignal = errors.New("unknown signal")
	// ErrConversion is returned when a value does not fit its declared type
	ErrConversion = errors.New("signal value conversion failed")
)
