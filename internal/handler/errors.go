// internal/handler/errors.go
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"serial-service/internal/connection"
	"serial-service/internal/manager"
	"serial-service/internal/pool"
	"serial-service/internal/protocol"
	"serial-service/internal/sequence"
	"serial-service/internal/transport"
	"serial-service/internal/utils"
	"serial-service/internal/worker"
)

// statusFor maps a domain error onto an HTTP status code
func statusFor(err error) int {
	var validation *protocol.ValidationError
	switch {
	case errors.As(err, &validation),
		errors.Is(err, manager.ErrInvalidExpectation),
		errors.Is(err, connection.ErrInvalidSettings),
		errors.Is(err, connection.ErrNoPort),
		errors.Is(err, transport.ErrUnsupportedScheme),
		errors.Is(err, sequence.ErrInvalidStep),
		errors.Is(err, sequence.ErrUnbalanced),
		errors.Is(err, sequence.ErrEmptySequence),
		errors.Is(err, sequence.ErrRecursion),
		errors.Is(err, sequence.ErrTooDeep):
		return http.StatusBadRequest
	case errors.Is(err, sequence.ErrUnknownSequence):
		return http.StatusNotFound
	case errors.Is(err, pool.ErrPortInUse),
		errors.Is(err, connection.ErrConnectInProgress),
		errors.Is(err, connection.ErrNotConnected),
		errors.Is(err, manager.ErrNotConnected),
		errors.Is(err, sequence.ErrNotConnected),
		errors.Is(err, sequence.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, manager.ErrResponseTimeout),
		errors.Is(err, worker.ErrWorkerTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, sequence.ErrCommandFailed),
		errors.Is(err, connection.ErrIncompleteWrite),
		errors.Is(err, connection.ErrTransportNotOpen):
		return http.StatusBadGateway
	case errors.Is(err, pool.ErrPoolFull),
		errors.Is(err, connection.ErrWriteInProgress),
		errors.Is(err, manager.ErrShuttingDown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, message string, err error) {
	utils.ErrorResponse(c, statusFor(err), message, err)
}
