package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"serial-service/internal/config"
	"serial-service/internal/database"
	"serial-service/internal/model"
)

func newTestRepository(t *testing.T) CommandRepository {
	cfg := &config.DatabaseConfig{
		Enabled: true,
		Driver:  database.DriverSQLite,
		Path:    filepath.Join(t.TempDir(), "journal.db"),
	}
	db, err := database.NewConnection(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, database.NewMigrator(db, zaptest.NewLogger(t)).Up())
	return NewCommandRepository(db, zaptest.NewLogger(t))
}

func record(port, command string, status model.ResponseStatus, ms int64, at time.Time) *model.CommandRecord {
	return &model.CommandRecord{
		Port:           port,
		Command:        command,
		Response:       "OK",
		Status:         status,
		ResponseTimeMs: ms,
		CorrelationID:  "corr-" + command,
		CreatedAt:      at,
	}
}

func TestCommandRepository_CreateAndGet(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	errMsg := "device said no"
	rec := record("/dev/ttyUSB0", "STATUS", model.StatusError, 12, time.Time{})
	rec.ErrorMessage = &errMsg
	rec.Metadata = model.JSONObject{"attempt": float64(2)}

	require.NoError(t, repo.Create(ctx, rec))
	assert.NotEqual(t, uuid.Nil, rec.ID)
	assert.False(t, rec.CreatedAt.IsZero())

	got, err := repo.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, "/dev/ttyUSB0", got.Port)
	assert.Equal(t, model.StatusError, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, errMsg, *got.ErrorMessage)
	assert.Equal(t, model.JSONObject{"attempt": float64(2)}, got.Metadata)
	assert.WithinDuration(t, rec.CreatedAt, got.CreatedAt, time.Millisecond)

	_, err = repo.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCommandRepository_ListFilters(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	require.NoError(t, repo.Create(ctx, record("A", "ONE", model.StatusSuccess, 10, base)))
	require.NoError(t, repo.Create(ctx, record("A", "TWO", model.StatusError, 20, base.Add(time.Minute))))
	require.NoError(t, repo.Create(ctx, record("B", "THREE", model.StatusSuccess, 30, base.Add(2*time.Minute))))

	all, total, err := repo.List(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, all, 3)
	assert.Equal(t, "THREE", all[0].Command, "newest first")

	byPort, total, err := repo.List(ctx, &model.JournalFilter{Port: "A"})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, byPort, 2)

	ok, total, err := repo.List(ctx, &model.JournalFilter{Status: model.StatusSuccess, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, ok, 1)
	assert.Equal(t, "THREE", ok[0].Command)

	since := base.Add(30 * time.Second)
	recent, total, err := repo.List(ctx, &model.JournalFilter{Since: &since})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, recent, 2)

	page, _, err := repo.List(ctx, &model.JournalFilter{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "ONE", page[0].Command)
}

func TestCommandRepository_ListByCorrelation(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	first := record("A", "X", model.StatusTimeout, 0, time.Now().Add(-time.Second))
	second := record("A", "X", model.StatusSuccess, 5, time.Now())
	require.NoError(t, repo.Create(ctx, first))
	require.NoError(t, repo.Create(ctx, second))

	records, err := repo.ListByCorrelation(ctx, "corr-X")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, model.StatusTimeout, records[0].Status)
	assert.Equal(t, model.StatusSuccess, records[1].Status)
}

func TestCommandRepository_Stats(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	empty, err := repo.GetStats(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Total)
	assert.Nil(t, empty.LastCommand)

	now := time.Now()
	require.NoError(t, repo.Create(ctx, record("A", "1", model.StatusSuccess, 10, now.Add(-2*time.Hour))))
	require.NoError(t, repo.Create(ctx, record("A", "2", model.StatusSuccess, 20, now.Add(-time.Minute))))
	require.NoError(t, repo.Create(ctx, record("A", "3", model.StatusError, 30, now)))

	stats, err := repo.GetStats(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.ByStatus[model.StatusSuccess])
	assert.Equal(t, 1, stats.ByStatus[model.StatusError])
	assert.InDelta(t, 20.0, stats.AvgResponseTimeMs, 0.001)
	require.NotNil(t, stats.LastCommand)
	assert.WithinDuration(t, now, *stats.LastCommand, time.Millisecond)

	since := now.Add(-time.Hour)
	recent, err := repo.GetStats(ctx, &since)
	require.NoError(t, err)
	assert.Equal(t, 2, recent.Total)
	assert.InDelta(t, 25.0, recent.AvgResponseTimeMs, 0.001)
}

func TestCommandRepository_DeleteOlderThan(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, repo.Create(ctx, record("A", "OLD", model.StatusSuccess, 1, now.Add(-48*time.Hour))))
	require.NoError(t, repo.Create(ctx, record("A", "NEW", model.StatusSuccess, 1, now)))

	deleted, err := repo.DeleteOlderThan(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	remaining, total, err := repo.List(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "NEW", remaining[0].Command)
}
