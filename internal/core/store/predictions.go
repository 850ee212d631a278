package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/solanago/solanago/internal/core"
)

// DefaultHistoryLimit bounds history queries that do not set a limit.
const DefaultHistoryLimit = 50

// PredictionFilter narrows ListPredictions.
type PredictionFilter struct {
	Status     core.PredictionStatus
	EndpointID *int
	Since      time.Time
	Limit      int
}

// RecordPrediction stores the outcome of a prediction request.
func (s *Store) RecordPrediction(ctx context.Context, record core.PredictionRecord) error {
	if err := s.ready(); err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("prediction id is required")
	}

	var value sql.NullFloat64
	if record.Value != nil {
		value = sql.NullFloat64{Float64: float64(*record.Value), Valid: true}
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO predictions (id, signature, endpoint_id, address, status, message, value, latency_ms, requested_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			signature = excluded.signature,
			status = excluded.status,
			message = excluded.message,
			value = excluded.value,
			latency_ms = excluded.latency_ms,
			resolved_at = excluded.resolved_at
	`, record.ID, record.Signature, record.EndpointID, record.Address, string(record.Status), record.Message,
		value, record.Latency.Milliseconds(), record.RequestedAt.UTC().UnixMilli(), record.ResolvedAt.UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("store prediction: %w", err)
	}
	return nil
}

// ListPredictions returns recorded predictions, newest first.
func (s *Store) ListPredictions(ctx context.Context, filter PredictionFilter) ([]core.PredictionRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		clauses []string
		args    []any
	)
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.EndpointID != nil {
		clauses = append(clauses, "endpoint_id = ?")
		args = append(args, *filter.EndpointID)
	}
	if !filter.Since.IsZero() {
		clauses = append(clauses, "requested_at >= ?")
		args = append(args, filter.Since.UTC().UnixMilli())
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	query := `SELECT id, signature, endpoint_id, address, status, message, value, latency_ms, requested_at, resolved_at FROM predictions`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY requested_at DESC, id LIMIT ?"
	args = append(args, limit)

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list predictions: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	var records []core.PredictionRecord
	for rows.Next() {
		var (
			record      core.PredictionRecord
			signature   sql.NullString
			address     sql.NullString
			status      string
			message     sql.NullString
			value       sql.NullFloat64
			latencyMS   int64
			requestedAt int64
			resolvedAt  int64
		)
		if err := rows.Scan(&record.ID, &signature, &record.EndpointID, &address, &status, &message,
			&value, &latencyMS, &requestedAt, &resolvedAt); err != nil {
			return nil, fmt.Errorf("scan prediction: %w", err)
		}

		record.Signature = signature.String
		record.Address = address.String
		record.Status = core.PredictionStatus(status)
		record.Message = message.String
		if value.Valid {
			v := float32(value.Float64)
			record.Value = &v
		}
		record.Latency = time.Duration(latencyMS) * time.Millisecond
		record.RequestedAt = time.UnixMilli(requestedAt).UTC()
		record.ResolvedAt = time.UnixMilli(resolvedAt).UTC()
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list predictions: %w", err)
	}

	return records, nil
}

// CountPredictions returns the number of recorded predictions per status.
func (s *Store) CountPredictions(ctx context.Context) (map[core.PredictionStatus]int, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	rows, err := s.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM predictions GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count predictions: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	counts := make(map[core.PredictionStatus]int)
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan prediction count: %w", err)
		}
		counts[core.PredictionStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("count predictions: %w", err)
	}
	return counts, nil
}

// PrunePredictions deletes predictions requested before cutoff.
func (s *Store) PrunePredictions(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	result, err := s.DB.ExecContext(ctx, `DELETE FROM predictions WHERE requested_at < ?`, cutoff.UTC().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune predictions: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune predictions: %w", err)
	}
	return count, nil
}
