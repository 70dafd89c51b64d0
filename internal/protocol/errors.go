// internal/protocol/errors.go
package protocol

import (
	"errors"
	"strings"
)

var (
	// ErrUnknownFlavor is returned for an unsupported protocol flavor
	ErrUnknownFlavor = errors.New("unknown protocol flavor")
	// ErrInvalidPattern is returned when a response pattern does not compile
	ErrInvalidPattern = errors.New("invalid response pattern")
)

// ValidationError lists every problem found in a command
type ValidationError struct {
	Command  string
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid command: " + strings.Join(e.Problems, "; ")
}
