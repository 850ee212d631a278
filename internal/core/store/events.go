package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/solanago/solanago/internal/core"
)

// RecordEndpointEvent appends an endpoint state transition.
func (s *Store) RecordEndpointEvent(ctx context.Context, event core.EndpointEvent) error {
	if err := s.ready(); err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	occurred := event.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now()
	}

	var disabledUntil sql.NullInt64
	if event.DisabledUntil != nil {
		disabledUntil = sql.NullInt64{Int64: event.DisabledUntil.UTC().UnixMilli(), Valid: true}
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO endpoint_events (endpoint_id, address, state, reason, occurred_at, disabled_until)
		VALUES (?, ?, ?, ?, ?, ?)
	`, event.EndpointID, event.Address, string(event.State), event.Reason, occurred.UTC().UnixMilli(), disabledUntil)
	if err != nil {
		return fmt.Errorf("store endpoint event: %w", err)
	}
	return nil
}

// ListEndpointEvents returns recent events, newest first. A negative
// endpointID lists events for every endpoint.
func (s *Store) ListEndpointEvents(ctx context.Context, endpointID int, limit int) ([]core.EndpointEvent, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	query := `SELECT endpoint_id, address, state, reason, occurred_at, disabled_until FROM endpoint_events`
	args := []any{}
	if endpointID >= 0 {
		query += ` WHERE endpoint_id = ?`
		args = append(args, endpointID)
	}
	query += ` ORDER BY occurred_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list endpoint events: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	var events []core.EndpointEvent
	for rows.Next() {
		var (
			event         core.EndpointEvent
			state         string
			reason        sql.NullString
			occurredAt    int64
			disabledUntil sql.NullInt64
		)
		if err := rows.Scan(&event.EndpointID, &event.Address, &state, &reason, &occurredAt, &disabledUntil); err != nil {
			return nil, fmt.Errorf("scan endpoint event: %w", err)
		}
		event.State = core.EndpointState(state)
		event.Reason = reason.String
		event.OccurredAt = time.UnixMilli(occurredAt).UTC()
		if disabledUntil.Valid {
			until := time.UnixMilli(disabledUntil.Int64).UTC()
			event.DisabledUntil = &until
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list endpoint events: %w", err)
	}
	return events, nil
}

// LastEndpointEvents returns the most recent event for each endpoint that
// has one, keyed by endpoint id.
func (s *Store) LastEndpointEvents(ctx context.Context) (map[int]core.EndpointEvent, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT e.endpoint_id, e.address, e.state, e.reason, e.occurred_at
		FROM endpoint_events e
		WHERE e.id = (
			SELECT id FROM endpoint_events
			WHERE endpoint_id = e.endpoint_id
			ORDER BY occurred_at DESC, id DESC
			LIMIT 1
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("last endpoint events: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	latest := make(map[int]core.EndpointEvent)
	for rows.Next() {
		var (
			event      core.EndpointEvent
			state      string
			reason     sql.NullString
			occurredAt int64
		)
		if err := rows.Scan(&event.EndpointID, &event.Address, &state, &reason, &occurredAt); err != nil {
			return nil, fmt.Errorf("scan endpoint event: %w", err)
		}
		event.State = core.EndpointState(state)
		event.Reason = reason.String
		event.OccurredAt = time.UnixMilli(occurredAt).UTC()
		latest[event.EndpointID] = event
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("last endpoint events: %w", err)
	}
	return latest, nil
}
