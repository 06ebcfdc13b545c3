package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"golang.org/x/sync/errgroup"
)

// Store is the read and retention side of the audit trail.
type Store interface {
	// Search returns events matching the filter, newest first by default.
	Search(ctx context.Context, filter SearchFilter) ([]*Event, error)

	// Get retrieves one event by id. Returns nil when it does not exist.
	Get(ctx context.Context, id int64) (*Event, error)

	// GetStats summarizes events inside the optional time range.
	GetStats(ctx context.Context, startTime, endTime *time.Time) (*Stats, error)

	// Export serializes matching events in the requested format.
	Export(ctx context.Context, filter SearchFilter, format ExportFormat) ([]byte, error)

	// Cleanup archives (when the policy says so) and deletes events older
	// than the retention window, returning how many were removed.
	Cleanup(ctx context.Context, policy RetentionPolicy) (int64, error)
}

// DBStore implements Store over the audit_events table written by DBLogger.
type DBStore struct {
	db       *sql.DB
	archiver Archiver
}

// NewDBStore creates a database-backed audit store. archiver may be nil, in
// which case Cleanup deletes without archiving regardless of policy.
func NewDBStore(db *sql.DB, archiver Archiver) *DBStore {
	return &DBStore{
		db:       db,
		archiver: archiver,
	}
}

const eventColumns = `
	id, timestamp, event_type, status,
	user_id, organization_id,
	resource_type, resource_id,
	ip_address, user_agent, request_id,
	method, path, status_code,
	message, error_message, metadata`

// scanEvent reads one row in eventColumns order.
func scanEvent(rows interface{ Scan(...interface{}) error }) (*Event, error) {
	event := &Event{}
	var metadataJSON []byte

	err := rows.Scan(
		&event.ID, &event.Timestamp, &event.EventType, &event.Status,
		&event.UserID, &event.OrganizationID,
		&event.ResourceType, &event.ResourceID,
		&event.IPAddress, &event.UserAgent, &event.RequestID,
		&event.Method, &event.Path, &event.StatusCode,
		&event.Message, &event.ErrorMessage, &metadataJSON,
	)
	if err != nil {
		return nil, err
	}

	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &event.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return event, nil
}

// Search searches audit events based on filters.
func (s *DBStore) Search(ctx context.Context, filter SearchFilter) ([]*Event, error) {
	query := "SELECT" + eventColumns + " FROM audit_events WHERE 1=1"

	args := []interface{}{}
	argCount := 1

	if filter.StartTime != nil {
		query += fmt.Sprintf(" AND timestamp >= $%d", argCount)
		args = append(args, *filter.StartTime)
		argCount++
	}

	if filter.EndTime != nil {
		query += fmt.Sprintf(" AND timestamp <= $%d", argCount)
		args = append(args, *filter.EndTime)
		argCount++
	}

	if filter.UserID != nil {
		query += fmt.Sprintf(" AND user_id = $%d", argCount)
		args = append(args, *filter.UserID)
		argCount++
	}

	if filter.OrganizationID != nil {
		query += fmt.Sprintf(" AND organization_id = $%d", argCount)
		args = append(args, *filter.OrganizationID)
		argCount++
	}

	if len(filter.EventTypes) > 0 {
		query += fmt.Sprintf(" AND event_type = ANY($%d)", argCount)
		eventTypes := make([]string, len(filter.EventTypes))
		for i, et := range filter.EventTypes {
			eventTypes[i] = string(et)
		}
		args = append(args, pq.Array(eventTypes))
		argCount++
	}

	if filter.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argCount)
		args = append(args, string(*filter.Status))
		argCount++
	}

	if filter.ResourceType != "" {
		query += fmt.Sprintf(" AND resource_type = $%d", argCount)
		args = append(args, string(filter.ResourceType))
		argCount++
	}

	if filter.ResourceID != "" {
		query += fmt.Sprintf(" AND resource_id = $%d", argCount)
		args = append(args, filter.ResourceID)
		argCount++
	}

	// Sorting is fixed to the timestamp column; only the direction is
	// caller-controlled.
	if filter.SortOrder == "asc" {
		query += " ORDER BY timestamp ASC, id ASC"
	} else {
		query += " ORDER BY timestamp DESC, id DESC"
	}

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argCount)
		args = append(args, filter.Limit)
		argCount++
	}

	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argCount)
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit events: %w", err)
	}
	defer rows.Close()

	events := make([]*Event, 0)
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit events: %w", err)
	}

	return events, nil
}

// Get retrieves a specific audit event by ID.
func (s *DBStore) Get(ctx context.Context, id int64) (*Event, error) {
	row := s.db.QueryRowContext(ctx, "SELECT"+eventColumns+" FROM audit_events WHERE id = $1", id)

	event, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get audit event: %w", err)
	}

	return event, nil
}

// GetStats retrieves audit statistics for the optional time range.
func (s *DBStore) GetStats(ctx context.Context, startTime, endTime *time.Time) (*Stats, error) {
	stats := &Stats{
		EventsByType:   make(map[EventType]int64),
		EventsByStatus: make(map[Status]int64),
	}

	whereClause := "WHERE 1=1"
	args := []interface{}{}
	argCount := 1

	if startTime != nil {
		whereClause += fmt.Sprintf(" AND timestamp >= $%d", argCount)
		args = append(args, *startTime)
		argCount++
		if stats.TimeRange == nil {
			stats.TimeRange = &TimeRange{}
		}
		stats.TimeRange.Start = *startTime
	}

	if endTime != nil {
		whereClause += fmt.Sprintf(" AND timestamp <= $%d", argCount)
		args = append(args, *endTime)
		if stats.TimeRange == nil {
			stats.TimeRange = &TimeRange{}
		}
		stats.TimeRange.End = *endTime
	}

	// The aggregates are independent, so they run concurrently against the
	// pool. Each goroutine writes only its own field or map.
	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM audit_events %s", whereClause), args...).Scan(&stats.TotalEvents)
		if err != nil {
			return fmt.Errorf("failed to get total events: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT event_type, COUNT(*) FROM audit_events %s GROUP BY event_type", whereClause), args...)
		if err != nil {
			return fmt.Errorf("failed to get events by type: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var eventType EventType
			var count int64
			if err := rows.Scan(&eventType, &count); err != nil {
				return err
			}
			stats.EventsByType[eventType] = count
		}
		return rows.Err()
	})

	eg.Go(func() error {
		rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT status, COUNT(*) FROM audit_events %s GROUP BY status", whereClause), args...)
		if err != nil {
			return fmt.Errorf("failed to get events by status: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var status Status
			var count int64
			if err := rows.Scan(&status, &count); err != nil {
				return err
			}
			stats.EventsByStatus[status] = count
		}
		return rows.Err()
	})

	eg.Go(func() error {
		err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(DISTINCT user_id) FROM audit_events %s AND user_id IS NOT NULL", whereClause), args...).Scan(&stats.UniqueUsers)
		if err != nil {
			return fmt.Errorf("failed to get unique users: %w", err)
		}
		return nil
	})

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	stats.Denials = stats.EventsByStatus[StatusDenied]

	return stats, nil
}

// Export exports matching events in the requested format.
func (s *DBStore) Export(ctx context.Context, filter SearchFilter, format ExportFormat) ([]byte, error) {
	events, err := s.Search(ctx, filter)
	if err != nil {
		return nil, err
	}

	switch format {
	case ExportFormatCSV:
		return exportCSV(events)
	case ExportFormatNDJSON:
		return exportNDJSON(events)
	default:
		return exportJSON(events)
	}
}

// archiveBatchSize bounds how many expired events are held in memory while
// archiving.
const archiveBatchSize = 1000

// Cleanup removes events older than the retention window. With archiving
// enabled and an archiver configured, each batch is uploaded before its rows
// are deleted, so a failed upload never loses events.
func (s *DBStore) Cleanup(ctx context.Context, policy RetentionPolicy) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -policy.RetentionDays)

	if !policy.ArchiveEnabled || s.archiver == nil {
		result, err := s.db.ExecContext(ctx, "DELETE FROM audit_events WHERE timestamp < $1", cutoff)
		if err != nil {
			return 0, fmt.Errorf("failed to delete expired audit events: %w", err)
		}
		return result.RowsAffected()
	}

	var removed int64
	for {
		events, err := s.Search(ctx, SearchFilter{
			EndTime:   &cutoff,
			Limit:     archiveBatchSize,
			SortOrder: "asc",
		})
		if err != nil {
			return removed, err
		}
		if len(events) == 0 {
			return removed, nil
		}

		if _, err := s.archiver.Archive(ctx, events, cutoff); err != nil {
			return removed, fmt.Errorf("failed to archive audit events: %w", err)
		}

		ids := make([]int64, len(events))
		for i, event := range events {
			ids[i] = event.ID
		}
		result, err := s.db.ExecContext(ctx, "DELETE FROM audit_events WHERE id = ANY($1)", pq.Array(ids))
		if err != nil {
			return removed, fmt.Errorf("failed to delete archived audit events: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return removed, err
		}
		removed += n

		if len(events) < archiveBatchSize {
			return removed, nil
		}
	}
}
