package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ultransit/collector/go/internal/models"
	"github.com/ultransit/collector/go/internal/sqlutil"
)

// DBTX defines what the repository needs from the database layer
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Repository implements outbox data access operations. The event log is
// append-only: entries are never edited in place, only flagged processed.
type Repository struct {
	db DBTX
}

// NewRepository creates a new outbox repository
func NewRepository(db DBTX) *Repository {
	return &Repository{db: db}
}

// ListFilter narrows the management API's view of the event log.
type ListFilter struct {
	EventType string
	Processed *bool
	Since     *time.Time
	Until     *time.Time
	Limit     int
}

const eventColumns = `id, event_type, payload, processed, created_at, processed_at`

// Append durably writes a new unprocessed event record and returns its id.
// This is a write-ahead step: no delivery is attempted before the insert
// commits, so a crash after Append still leaves the event recoverable by the
// next reconciliation pass.
func (r *Repository) Append(ctx context.Context, eventType string, payload json.RawMessage) (uuid.UUID, error) {
	id := uuid.New()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO event_log (id, event_type, payload, processed, created_at)
		 VALUES ($1, $2, $3, FALSE, $4)`,
		id, eventType, []byte(payload), time.Now().UTC(),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to append event record: %w", err)
	}
	return id, nil
}

// QueryUnprocessed returns unprocessed records oldest-first. An empty
// eventType matches all types. The explicit processed = FALSE predicate is
// deliberate; records are replayed in FIFO creation order.
func (r *Repository) QueryUnprocessed(ctx context.Context, eventType string) ([]models.EventRecord, error) {
	query := `SELECT ` + eventColumns + ` FROM event_log WHERE processed = FALSE`
	var args []any
	if eventType != "" {
		query += ` AND event_type = $1`
		args = append(args, eventType)
	}
	query += ` ORDER BY created_at ASC`

	return r.queryRecords(ctx, query, args...)
}

// MarkProcessed flips a record to processed. Idempotent: marking an already
// processed record is a no-op and keeps the original processed_at.
func (r *Repository) MarkProcessed(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE event_log SET processed = TRUE, processed_at = $2
		 WHERE id = $1 AND processed = FALSE`,
		id, at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to mark event record processed: %w", err)
	}
	return nil
}

// CountUnprocessed returns the current backlog size.
func (r *Repository) CountUnprocessed(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM event_log WHERE processed = FALSE`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count unprocessed event records: %w", err)
	}
	return n, nil
}

// List returns event records newest-first for the management API. Limit is
// clamped to 1..1000 with a default of 100.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]models.EventRecord, error) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.EventType != "" {
		conds = append(conds, "event_type = "+arg(filter.EventType))
	}
	if filter.Processed != nil {
		if *filter.Processed {
			conds = append(conds, "processed = TRUE")
		} else {
			conds = append(conds, "processed = FALSE")
		}
	}
	if filter.Since != nil {
		conds = append(conds, "created_at >= "+arg(filter.Since.UTC()))
	}
	if filter.Until != nil {
		conds = append(conds, "created_at <= "+arg(filter.Until.UTC()))
	}

	query := `SELECT ` + eventColumns + ` FROM event_log`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}

	limit := filter.Limit
	if limit < 1 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	query += ` ORDER BY created_at DESC LIMIT ` + arg(limit)

	return r.queryRecords(ctx, query, args...)
}

func (r *Repository) queryRecords(ctx context.Context, query string, args ...any) ([]models.EventRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query event records: %w", err)
	}
	defer rows.Close()

	var records []models.EventRecord
	for rows.Next() {
		var (
			rec         models.EventRecord
			payload     []byte
			processedAt sql.NullTime
		)
		if err := rows.Scan(&rec.ID, &rec.EventType, &payload, &rec.Processed,
			&rec.CreatedAt, &processedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event record: %w", err)
		}
		rec.Payload = json.RawMessage(payload)
		rec.ProcessedAt = sqlutil.FromSqlTime(processedAt)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query event records: %w", err)
	}

	return records, nil
}
