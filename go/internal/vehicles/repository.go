package vehicles

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ultransit/collector/go/internal/models"
	"github.com/ultransit/collector/go/internal/sqlutil"
)

// Repository implements vehicle position data access operations
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new vehicle positions repository
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const positionColumns = `id, vehicle_id, route_id, latitude, longitude, bearing, speed, timestamp, recorded_at`

// UpsertBatch stores one feed snapshot transactionally so a failed collection
// cycle leaves no partial snapshot behind.
func (r *Repository) UpsertBatch(ctx context.Context, positions []models.VehiclePosition) error {
	if len(positions) == 0 {
		return nil
	}

	err := sqlutil.Run(ctx, r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO vehicle_positions (id, vehicle_id, route_id, latitude, longitude, bearing, speed, timestamp, recorded_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		now := time.Now().UTC()
		for _, pos := range positions {
			id := pos.ID
			if id == uuid.Nil {
				id = uuid.New()
			}
			if _, err := stmt.ExecContext(ctx, id, pos.VehicleID, pos.RouteID,
				pos.Latitude, pos.Longitude,
				sqlutil.ToSqlFloat64(pos.Bearing), sqlutil.ToSqlFloat64(pos.Speed),
				pos.Timestamp.UTC(), now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store vehicle positions: %w", err)
	}

	return nil
}

// LatestPositions returns the most recent position of every known vehicle
func (r *Repository) LatestPositions(ctx context.Context) ([]models.VehiclePosition, error) {
	return r.queryPositions(ctx,
		`SELECT DISTINCT ON (vehicle_id) `+positionColumns+`
		 FROM vehicle_positions
		 ORDER BY vehicle_id, timestamp DESC`)
}

// ListByRoute returns the latest position per vehicle on a route
func (r *Repository) ListByRoute(ctx context.Context, routeID string) ([]models.VehiclePosition, error) {
	return r.queryPositions(ctx,
		`SELECT DISTINCT ON (vehicle_id) `+positionColumns+`
		 FROM vehicle_positions
		 WHERE route_id = $1
		 ORDER BY vehicle_id, timestamp DESC`, routeID)
}

// History returns past positions of one vehicle, newest-first
func (r *Repository) History(ctx context.Context, vehicleID string, since, until *time.Time, limit int) ([]models.VehiclePosition, error) {
	query := `SELECT ` + positionColumns + ` FROM vehicle_positions WHERE vehicle_id = $1`
	args := []any{vehicleID}

	if since != nil {
		args = append(args, since.UTC())
		query += fmt.Sprintf(` AND timestamp >= $%d`, len(args))
	}
	if until != nil {
		args = append(args, until.UTC())
		query += fmt.Sprintf(` AND timestamp <= $%d`, len(args))
	}

	if limit < 1 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY timestamp DESC LIMIT $%d`, len(args))

	return r.queryPositions(ctx, query, args...)
}

func (r *Repository) queryPositions(ctx context.Context, query string, args ...any) ([]models.VehiclePosition, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query vehicle positions: %w", err)
	}
	defer rows.Close()

	var positions []models.VehiclePosition
	for rows.Next() {
		var (
			pos     models.VehiclePosition
			bearing sql.NullFloat64
			speed   sql.NullFloat64
		)
		if err := rows.Scan(&pos.ID, &pos.VehicleID, &pos.RouteID, &pos.Latitude, &pos.Longitude,
			&bearing, &speed, &pos.Timestamp, &pos.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan vehicle position: %w", err)
		}
		pos.Bearing = sqlutil.FromSqlFloat64(bearing)
		pos.Speed = sqlutil.FromSqlFloat64(speed)
		positions = append(positions, pos)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query vehicle positions: %w", err)
	}

	return positions, nil
}
