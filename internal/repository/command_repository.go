// internal/repository/command_repository.go
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"serial-service/internal/database"
	"serial-service/internal/model"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000

	commandColumns = `id, port, command, response, status, error_message,
		response_time_ms, correlation_id, metadata, created_at`
)

// commandRepository implements CommandRepository on postgres or sqlite
type commandRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewCommandRepository creates a new command journal repository
func NewCommandRepository(db *database.DB, logger *zap.Logger) CommandRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &commandRepository{
		db:     db,
		logger: logger.With(zap.String("component", "command_repository")),
	}
}

// Create stores a record, assigning an ID and timestamp when missing
func (r *commandRepository) Create(ctx context.Context, record *model.CommandRecord) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	record.CreatedAt = record.CreatedAt.UTC().Truncate(time.Microsecond)

	query := fmt.Sprintf(`
		INSERT INTO command_journal (%s)
		VALUES (%s)
	`, commandColumns, r.placeholders(1, 10))

	_, err := r.db.ExecContext(ctx, query,
		record.ID.String(), record.Port, record.Command, record.Response,
		string(record.Status), record.ErrorMessage, record.ResponseTimeMs,
		record.CorrelationID, record.Metadata, record.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create command record", zap.Error(err))
		return fmt.Errorf("failed to create command record: %w", err)
	}

	return nil
}

// GetByID retrieves a record by ID
func (r *commandRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.CommandRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM command_journal WHERE id = %s`, commandColumns, r.db.Placeholder(1))

	record, err := scanRecord(r.db.QueryRowContext(ctx, query, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: command record %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get command record: %w", err)
	}
	return record, nil
}

// List returns matching records newest first, plus the total match count
func (r *commandRepository) List(ctx context.Context, filter *model.JournalFilter) ([]*model.CommandRecord, int, error) {
	if filter == nil {
		filter = &model.JournalFilter{}
	}

	whereConditions := []string{}
	args := []interface{}{}
	argIndex := 1

	if filter.Port != "" {
		whereConditions = append(whereConditions, "port = "+r.db.Placeholder(argIndex))
		args = append(args, filter.Port)
		argIndex++
	}

	if filter.Status != "" {
		whereConditions = append(whereConditions, "status = "+r.db.Placeholder(argIndex))
		args = append(args, string(filter.Status))
		argIndex++
	}

	if filter.Since != nil {
		whereConditions = append(whereConditions, "created_at >= "+r.db.Placeholder(argIndex))
		args = append(args, filter.Since.UTC())
		argIndex++
	}

	whereClause := ""
	if len(whereConditions) > 0 {
		whereClause = "WHERE " + strings.Join(whereConditions, " AND ")
	}

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM command_journal %s", whereClause)
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count command records: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(`
		SELECT %s FROM command_journal %s
		ORDER BY created_at DESC
		LIMIT %s OFFSET %s
	`, commandColumns, whereClause, r.db.Placeholder(argIndex), r.db.Placeholder(argIndex+1))
	args = append(args, limit, offset)

	records, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list command records: %w", err)
	}
	return records, total, nil
}

// ListByCorrelation returns every record sharing a correlation ID
func (r *commandRepository) ListByCorrelation(ctx context.Context, correlationID string) ([]*model.CommandRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM command_journal WHERE correlation_id = %s ORDER BY created_at ASC`,
		commandColumns, r.db.Placeholder(1))

	records, err := r.query(ctx, query, correlationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list command records by correlation: %w", err)
	}
	return records, nil
}

// GetStats aggregates records created at or after since (all when nil)
func (r *commandRepository) GetStats(ctx context.Context, since *time.Time) (*CommandStats, error) {
	whereClause := ""
	args := []interface{}{}
	if since != nil {
		whereClause = "WHERE created_at >= " + r.db.Placeholder(1)
		args = append(args, since.UTC())
	}

	stats := &CommandStats{ByStatus: make(map[model.ResponseStatus]int)}

	rows, err := r.db.QueryContext(ctx,
		fmt.Sprintf("SELECT status, COUNT(*) FROM command_journal %s GROUP BY status", whereClause), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get command stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan command stats: %w", err)
		}
		stats.ByStatus[model.ResponseStatus(status)] = count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate command stats: %w", err)
	}

	if stats.Total == 0 {
		return stats, nil
	}

	var avg sql.NullFloat64
	avgQuery := fmt.Sprintf("SELECT AVG(response_time_ms) FROM command_journal %s", whereClause)
	if err := r.db.QueryRowContext(ctx, avgQuery, args...).Scan(&avg); err != nil {
		return nil, fmt.Errorf("failed to get average response time: %w", err)
	}
	stats.AvgResponseTimeMs = avg.Float64

	var last time.Time
	lastQuery := fmt.Sprintf("SELECT created_at FROM command_journal %s ORDER BY created_at DESC LIMIT 1", whereClause)
	if err := r.db.QueryRowContext(ctx, lastQuery, args...).Scan(&last); err != nil {
		return nil, fmt.Errorf("failed to get last command time: %w", err)
	}
	stats.LastCommand = &last

	return stats, nil
}

// DeleteOlderThan removes records created before olderThan
func (r *commandRepository) DeleteOlderThan(ctx context.Context, olderThan time.Time) (int64, error) {
	query := "DELETE FROM command_journal WHERE created_at < " + r.db.Placeholder(1)

	result, err := r.db.ExecContext(ctx, query, olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old command records: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	r.logger.Info("Deleted old command records",
		zap.Int64("rows_deleted", rowsAffected),
		zap.Time("older_than", olderThan),
	)

	return rowsAffected, nil
}

func (r *commandRepository) query(ctx context.Context, query string, args ...interface{}) ([]*model.CommandRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*model.CommandRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func (r *commandRepository) placeholders(from, count int) string {
	parts := make([]string, count)
	for i := range parts {
		parts[i] = r.db.Placeholder(from + i)
	}
	return strings.Join(parts, ", ")
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*model.CommandRecord, error) {
	var (
		record model.CommandRecord
		id     string
		status string
	)
	err := row.Scan(
		&id, &record.Port, &record.Command, &record.Response, &status,
		&record.ErrorMessage, &record.ResponseTimeMs, &record.CorrelationID,
		&record.Metadata, &record.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid record id %q: %w", id, err)
	}
	record.ID = parsed
	record.Status = model.ResponseStatus(status)
	return &record, nil
}
