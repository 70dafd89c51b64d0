// internal/service/journal_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"serial-service/internal/model"
	"serial-service/internal/repository"
	"serial-service/internal/utils"
)

// ErrNotCommandEvent is returned by Record for events other than command_completed
var ErrNotCommandEvent = errors.New("event is not a completed command")

// JournalStats counts journal writes
type JournalStats struct {
	Recorded int64 `json:"recorded"`
	Failed   int64 `json:"failed"`
	Purged   int64 `json:"purged"`
}

// JournalService persists completed command round trips
type JournalService struct {
	repo      repository.CommandRepository
	retention time.Duration
	logger    *utils.ServiceLogger

	recorded atomic.Int64
	failed   atomic.Int64
	purged   atomic.Int64
}

// NewJournalService creates a journal. A non-positive retention keeps
// records forever.
func NewJournalService(repo repository.CommandRepository, retention time.Duration, logger *zap.Logger) *JournalService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JournalService{
		repo:      repo,
		retention: retention,
		logger:    utils.NewServiceLogger(logger, "journal-service"),
	}
}

// Run records every command_completed event from events until ctx is done
// or the channel closes
func (s *JournalService) Run(ctx context.Context, events <-chan model.Event) {
	s.logger.Info("Command journal started")
	defer s.logger.Info("Command journal stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if event.Type != model.EventCommandCompleted {
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := s.Record(writeCtx, event); err != nil {
				s.logger.Error("Failed to journal command", zap.Error(err))
			}
			cancel()
		}
	}
}

// Record converts a command_completed event to a record and stores it
func (s *JournalService) Record(ctx context.Context, event model.Event) error {
	record, err := RecordFromEvent(event)
	if err != nil {
		return err
	}

	if err := s.repo.Create(ctx, record); err != nil {
		s.failed.Add(1)
		return fmt.Errorf("failed to record command: %w", err)
	}
	s.recorded.Add(1)
	return nil
}

// RecordFromEvent maps command_completed event data onto a CommandRecord
func RecordFromEvent(event model.Event) (*model.CommandRecord, error) {
	if event.Type != model.EventCommandCompleted {
		return nil, fmt.Errorf("%w: %s", ErrNotCommandEvent, event.Type)
	}

	record := &model.CommandRecord{
		ID:             uuid.New(),
		Port:           stringField(event.Data, "port"),
		Command:        stringField(event.Data, "command"),
		Response:       stringField(event.Data, "response"),
		Status:         model.ResponseStatus(stringField(event.Data, "status")),
		ResponseTimeMs: intField(event.Data, "response_time_ms"),
		CorrelationID:  stringField(event.Data, "correlation_id"),
		Metadata:       model.JSONObject{"event_id": event.ID.String(), "source": event.Source},
		CreatedAt:      event.Timestamp,
	}
	if record.Command == "" {
		return nil, fmt.Errorf("%w: missing command", ErrNotCommandEvent)
	}
	if record.Status == "" {
		record.Status = model.StatusInvalid
	}
	if msg := stringField(event.Data, "error"); msg != "" {
		record.ErrorMessage = &msg
	}
	return record, nil
}

// List returns journaled commands matching filter
func (s *JournalService) List(ctx context.Context, filter *model.JournalFilter) ([]*model.CommandRecord, int, error) {
	return s.repo.List(ctx, filter)
}

// Summary aggregates the journal since the given time (all when nil)
func (s *JournalService) Summary(ctx context.Context, since *time.Time) (*repository.CommandStats, error) {
	return s.repo.GetStats(ctx, since)
}

// Cleanup removes records older than the retention period
func (s *JournalService) Cleanup(ctx context.Context) (int64, error) {
	if s.retention <= 0 {
		return 0, nil
	}
	deleted, err := s.repo.DeleteOlderThan(ctx, time.Now().Add(-s.retention))
	if err != nil {
		return 0, err
	}
	s.purged.Add(deleted)
	return deleted, nil
}

// RunRetention calls Cleanup every interval until ctx is done
func (s *JournalService) RunRetention(ctx context.Context, interval time.Duration) {
	if s.retention <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Cleanup(ctx); err != nil {
				s.logger.Error("Journal cleanup failed", zap.Error(err))
			}
		}
	}
}

// Stats returns write counters
func (s *JournalService) Stats() JournalStats {
	return JournalStats{
		Recorded: s.recorded.Load(),
		Failed:   s.failed.Load(),
		Purged:   s.purged.Load(),
	}
}

func stringField(data map[string]any, key string) string {
	switch v := data[key].(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func intField(data map[string]any, key string) int64 {
	switch v := data[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case time.Duration:
		return v.Milliseconds()
	default:
		return 0
	}
}
