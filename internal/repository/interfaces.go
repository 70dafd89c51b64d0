// internal/repository/interfaces.go
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"serial-service/internal/model"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("record not found")

// CommandRepository defines command journal data access operations
type CommandRepository interface {
	// CRUD operations
	Create(ctx context.Context, record *model.CommandRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.CommandRecord, error)

	// Listing and filtering
	List(ctx context.Context, filter *model.JournalFilter) ([]*model.CommandRecord, int, error)
	ListByCorrelation(ctx context.Context, correlationID string) ([]*model.CommandRecord, error)

	// Analytics
	GetStats(ctx context.Context, since *time.Time) (*CommandStats, error)

	// Cleanup
	DeleteOlderThan(ctx context.Context, olderThan time.Time) (int64, error)
}

// CommandStats summarises journaled commands
type CommandStats struct {
	Total             int                          `json:"total_commands"`
	ByStatus          map[model.ResponseStatus]int `json:"by_status"`
	AvgResponseTimeMs float64                      `json:"average_response_time_ms"`
	LastCommand       *time.Time                   `json:"last_command,omitempty"`
}
