// internal/pool/errors.go
package pool

import "errors"

var (
	// ErrPoolFull is returned when the pool already holds its maximum number of ports
	ErrPoolFull = errors.New("connection pool is full")
	// ErrPortInUse is returned when the port already has a record
	ErrPortInUse = errors.New("port already in use")
)
