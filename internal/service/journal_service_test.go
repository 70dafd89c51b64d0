package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"serial-service/internal/model"
	"serial-service/internal/repository"
)

type memoryRepository struct {
	mutex     sync.Mutex
	records   []*model.CommandRecord
	createErr error
	cutoff    time.Time
}

func (r *memoryRepository) Create(_ context.Context, record *model.CommandRecord) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	r.records = append(r.records, record)
	return nil
}

func (r *memoryRepository) GetByID(_ context.Context, id uuid.UUID) (*model.CommandRecord, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	for _, rec := range r.records {
		if rec.ID == id {
			return rec, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memoryRepository) List(_ context.Context, _ *model.JournalFilter) ([]*model.CommandRecord, int, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return append([]*model.CommandRecord(nil), r.records...), len(r.records), nil
}

func (r *memoryRepository) ListByCorrelation(_ context.Context, id string) ([]*model.CommandRecord, error) {
	return nil, nil
}

func (r *memoryRepository) GetStats(_ context.Context, _ *time.Time) (*repository.CommandStats, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return &repository.CommandStats{Total: len(r.records)}, nil
}

func (r *memoryRepository) DeleteOlderThan(_ context.Context, olderThan time.Time) (int64, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.cutoff = olderThan
	var kept []*model.CommandRecord
	var deleted int64
	for _, rec := range r.records {
		if rec.CreatedAt.Before(olderThan) {
			deleted++
			continue
		}
		kept = append(kept, rec)
	}
	r.records = kept
	return deleted, nil
}

func (r *memoryRepository) count() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.records)
}

func completedEvent(data map[string]any) model.Event {
	return model.NewEvent(model.EventCommandCompleted, "serial_manager", data)
}

func TestRecordFromEvent(t *testing.T) {
	event := completedEvent(map[string]any{
		"command":          "STATUS",
		"port":             "/dev/ttyACM0",
		"response":         "OK",
		"status":           "success",
		"response_time_ms": int64(42),
		"correlation_id":   "abc",
	})

	rec, err := RecordFromEvent(event)
	require.NoError(t, err)
	assert.Equal(t, "STATUS", rec.Command)
	assert.Equal(t, "/dev/ttyACM0", rec.Port)
	assert.Equal(t, model.StatusSuccess, rec.Status)
	assert.Equal(t, int64(42), rec.ResponseTimeMs)
	assert.Equal(t, "abc", rec.CorrelationID)
	assert.Nil(t, rec.ErrorMessage)
	assert.Equal(t, event.Timestamp, rec.CreatedAt)
	assert.Equal(t, event.ID.String(), rec.Metadata["event_id"])
}

func TestRecordFromEvent_Timeout(t *testing.T) {
	rec, err := RecordFromEvent(completedEvent(map[string]any{
		"command": "PING",
		"status":  "timeout",
		"error":   "response timeout after 1s",
	}))
	require.NoError(t, err)
	assert.Equal(t, model.StatusTimeout, rec.Status)
	require.NotNil(t, rec.ErrorMessage)
	assert.Equal(t, "response timeout after 1s", *rec.ErrorMessage)
	assert.Equal(t, int64(0), rec.ResponseTimeMs)
}

func TestRecordFromEvent_Rejects(t *testing.T) {
	_, err := RecordFromEvent(model.NewEvent(model.EventDataReceived, "x", nil))
	assert.ErrorIs(t, err, ErrNotCommandEvent)

	_, err = RecordFromEvent(completedEvent(map[string]any{"status": "success"}))
	assert.ErrorIs(t, err, ErrNotCommandEvent)
}

func TestJournalService_Run(t *testing.T) {
	repo := &memoryRepository{}
	svc := NewJournalService(repo, 0, zaptest.NewLogger(t))

	events := make(chan model.Event, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		svc.Run(ctx, events)
		close(done)
	}()

	events <- completedEvent(map[string]any{"command": "A", "status": "success"})
	events <- model.NewEvent(model.EventDataReceived, "serial_reader", map[string]any{"line": "noise"})
	events <- completedEvent(map[string]any{"command": "B", "status": "error"})

	require.Eventually(t, func() bool { return repo.count() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(2), svc.Stats().Recorded)

	close(events)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("journal did not stop when the channel closed")
	}
}

func TestJournalService_RecordFailure(t *testing.T) {
	repo := &memoryRepository{createErr: errors.New("disk full")}
	svc := NewJournalService(repo, 0, zaptest.NewLogger(t))

	err := svc.Record(context.Background(), completedEvent(map[string]any{"command": "A", "status": "success"}))
	assert.ErrorContains(t, err, "disk full")
	assert.Equal(t, int64(1), svc.Stats().Failed)
}

func TestJournalService_Cleanup(t *testing.T) {
	repo := &memoryRepository{}
	svc := NewJournalService(repo, time.Hour, zaptest.NewLogger(t))
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &model.CommandRecord{Command: "OLD", CreatedAt: time.Now().Add(-2 * time.Hour)}))
	require.NoError(t, repo.Create(ctx, &model.CommandRecord{Command: "NEW", CreatedAt: time.Now()}))

	deleted, err := svc.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	assert.Equal(t, int64(1), svc.Stats().Purged)
	assert.WithinDuration(t, time.Now().Add(-time.Hour), repo.cutoff, time.Second)

	forever := NewJournalService(repo, 0, zaptest.NewLogger(t))
	deleted, err = forever.Cleanup(ctx)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestJournalService_ListAndSummary(t *testing.T) {
	repo := &memoryRepository{}
	svc := NewJournalService(repo, 0, zaptest.NewLogger(t))
	ctx := context.Background()

	require.NoError(t, svc.Record(ctx, completedEvent(map[string]any{"command": "A", "status": "success"})))

	records, total, err := svc.List(ctx, &model.JournalFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "A", records[0].Command)

	summary, err := svc.Summary(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Total)
}
