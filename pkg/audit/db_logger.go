package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// DBLoggerConfig tunes the buffered writer.
type DBLoggerConfig struct {
	// BufferSize is how many events may queue before Log degrades to a
	// synchronous insert. Events are never dropped.
	BufferSize int

	// BatchSize is the most events written in one INSERT.
	BatchSize int

	// FlushInterval bounds how long a queued event waits before it is
	// written even when the batch is not full.
	FlushInterval time.Duration
}

// DefaultDBLoggerConfig returns the production defaults.
func DefaultDBLoggerConfig() DBLoggerConfig {
	return DBLoggerConfig{
		BufferSize:    1024,
		BatchSize:     64,
		FlushInterval: 2 * time.Second,
	}
}

// DBLogger writes audit events to PostgreSQL through a bounded buffer. A
// background goroutine batches inserts so request handlers never wait on the
// audit table; Close drains the buffer.
type DBLogger struct {
	db  *sql.DB
	cfg DBLoggerConfig

	events    chan *Event
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewDBLogger creates a database-backed audit logger and starts its flush
// goroutine. Zero config fields fall back to DefaultDBLoggerConfig.
func NewDBLogger(db *sql.DB, cfg DBLoggerConfig) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	defaults := DefaultDBLoggerConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaults.BufferSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaults.FlushInterval
	}

	logger := &DBLogger{
		db:     db,
		cfg:    cfg,
		events: make(chan *Event, cfg.BufferSize),
		done:   make(chan struct{}),
	}

	if err := logger.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure audit_events table: %w", err)
	}

	logger.wg.Add(1)
	go logger.run()

	return logger, nil
}

// ensureTable creates the audit_events table if it doesn't exist
func (l *DBLogger) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_events (
		id BIGSERIAL PRIMARY KEY,
		timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
		event_type VARCHAR(100) NOT NULL,
		status VARCHAR(20) NOT NULL,
		user_id BIGINT,
		organization_id BIGINT,
		resource_type VARCHAR(50),
		resource_id VARCHAR(255),
		ip_address VARCHAR(45),
		user_agent TEXT,
		request_id VARCHAR(100),
		method VARCHAR(10),
		path TEXT,
		status_code INTEGER,
		message TEXT,
		error_message TEXT,
		metadata JSONB,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_events_event_type ON audit_events(event_type);
	CREATE INDEX IF NOT EXISTS idx_audit_events_organization_id ON audit_events(organization_id);
	CREATE INDEX IF NOT EXISTS idx_audit_events_user_id ON audit_events(user_id);
	CREATE INDEX IF NOT EXISTS idx_audit_events_resource ON audit_events(resource_type, resource_id);
	CREATE INDEX IF NOT EXISTS idx_audit_events_status ON audit_events(status);
	`

	_, err := l.db.Exec(query)
	return err
}

// Log queues the event for the background writer. When the buffer is full or
// the logger is closed it falls back to a synchronous insert; either way the
// event is persisted.
func (l *DBLogger) Log(ctx context.Context, event *Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	select {
	case <-l.done:
		return l.insert(ctx, []*Event{event})
	default:
	}

	select {
	case l.events <- event:
		return nil
	default:
		return l.insert(ctx, []*Event{event})
	}
}

// Close stops the flush goroutine after draining queued events. The shared
// *sql.DB is left open.
func (l *DBLogger) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
	})
	l.wg.Wait()
	return nil
}

// run is the flush loop: collect until the batch fills or the interval
// elapses, then write.
func (l *DBLogger) run() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]*Event, 0, l.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := l.insert(context.Background(), batch); err != nil {
			// Audit writes must not take the service down. The failure is
			// visible on stderr and the events are lost.
			fmt.Fprintf(os.Stderr, "audit: failed to flush %d events: %v\n", len(batch), err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case event := <-l.events:
			batch = append(batch, event)
			if len(batch) >= l.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-l.done:
			for {
				select {
				case event := <-l.events:
					batch = append(batch, event)
					if len(batch) >= l.cfg.BatchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

const insertColumns = 16

// insert writes a batch with one multi-row INSERT.
func (l *DBLogger) insert(ctx context.Context, events []*Event) error {
	if len(events) == 0 {
		return nil
	}

	var query strings.Builder
	query.WriteString(`INSERT INTO audit_events (
		timestamp, event_type, status,
		user_id, organization_id,
		resource_type, resource_id,
		ip_address, user_agent, request_id,
		method, path, status_code,
		message, error_message, metadata
	) VALUES `)

	args := make([]interface{}, 0, len(events)*insertColumns)
	for i, event := range events {
		var metadataJSON []byte
		if event.Metadata != nil {
			b, err := json.Marshal(event.Metadata)
			if err != nil {
				return fmt.Errorf("failed to marshal metadata: %w", err)
			}
			metadataJSON = b
		}

		if i > 0 {
			query.WriteString(", ")
		}
		query.WriteString("(")
		for j := 1; j <= insertColumns; j++ {
			if j > 1 {
				query.WriteString(", ")
			}
			fmt.Fprintf(&query, "$%d", i*insertColumns+j)
		}
		query.WriteString(")")

		args = append(args,
			event.Timestamp, event.EventType, event.Status,
			event.UserID, event.OrganizationID,
			event.ResourceType, event.ResourceID,
			event.IPAddress, event.UserAgent, event.RequestID,
			event.Method, event.Path, event.StatusCode,
			event.Message, event.ErrorMessage, metadataJSON,
		)
	}

	if _, err := l.db.ExecContext(ctx, query.String(), args...); err != nil {
		return fmt.Errorf("failed to insert audit events: %w", err)
	}

	return nil
}
