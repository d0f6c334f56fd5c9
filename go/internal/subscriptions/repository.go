package subscriptions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ultransit/collector/go/internal/models"
)

// DBTX defines what the repository needs from the database layer
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Repository implements subscription data access operations
type Repository struct {
	db DBTX
}

// NewRepository creates a new subscriptions repository
func NewRepository(db DBTX) *Repository {
	return &Repository{db: db}
}

const subscriptionColumns = `id, client_id, event_type, callback_url, is_active, created_at, updated_at`

// CreateSubscription inserts a new active subscription. The write is durable
// before the call returns.
func (r *Repository) CreateSubscription(ctx context.Context, clientID, eventType, callbackURL string) (*models.Subscription, error) {
	now := time.Now().UTC()
	sub := models.Subscription{
		ID:          uuid.New(),
		ClientID:    clientID,
		EventType:   eventType,
		CallbackURL: callbackURL,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO subscriptions (id, client_id, event_type, callback_url, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		sub.ID, sub.ClientID, sub.EventType, sub.CallbackURL, sub.IsActive, sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}

	return &sub, nil
}

// GetSubscription retrieves a subscription by ID
func (r *Repository) GetSubscription(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id)

	sub, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}

	return sub, nil
}

// ListSubscriptions retrieves all subscriptions
func (r *Repository) ListSubscriptions(ctx context.Context) ([]models.Subscription, error) {
	return r.querySubscriptions(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions`)
}

// ListSubscriptionsByClient retrieves all subscriptions for a client
func (r *Repository) ListSubscriptionsByClient(ctx context.Context, clientID string) ([]models.Subscription, error) {
	return r.querySubscriptions(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE client_id = $1`, clientID)
}

// ListSubscriptionsByEventType retrieves all subscriptions for an event type
func (r *Repository) ListSubscriptionsByEventType(ctx context.Context, eventType string) ([]models.Subscription, error) {
	return r.querySubscriptions(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE event_type = $1`, eventType)
}

// ListActiveSubscriptionsByEventType retrieves subscriptions the reconciler
// must deliver to. The predicate is an explicit is_active = TRUE comparison:
// inactive subscriptions are never returned here.
func (r *Repository) ListActiveSubscriptionsByEventType(ctx context.Context, eventType string) ([]models.Subscription, error) {
	return r.querySubscriptions(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE event_type = $1 AND is_active = TRUE`, eventType)
}

// UpdateSubscriptionActive sets the active flag and bumps updated_at
func (r *Repository) UpdateSubscriptionActive(ctx context.Context, id uuid.UUID, isActive bool) (*models.Subscription, error) {
	row := r.db.QueryRowContext(ctx,
		`UPDATE subscriptions SET is_active = $2, updated_at = $3 WHERE id = $1
		 RETURNING `+subscriptionColumns,
		id, isActive, time.Now().UTC())

	sub, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to update subscription: %w", err)
	}

	return sub, nil
}

// DeleteSubscription removes a subscription. Returns true if a row was removed.
// Deletion is not retroactive: outbox entries awaiting this subscription are
// simply skipped once it is gone.
func (r *Repository) DeleteSubscription(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete subscription: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to delete subscription: %w", err)
	}

	return affected > 0, nil
}

func (r *Repository) querySubscriptions(ctx context.Context, query string, args ...any) ([]models.Subscription, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []models.Subscription
	for rows.Next() {
		var sub models.Subscription
		if err := rows.Scan(&sub.ID, &sub.ClientID, &sub.EventType, &sub.CallbackURL,
			&sub.IsActive, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}

	return subs, nil
}

func scanSubscription(row *sql.Row) (*models.Subscription, error) {
	var sub models.Subscription
	if err := row.Scan(&sub.ID, &sub.ClientID, &sub.EventType, &sub.CallbackURL,
		&sub.IsActive, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
		return nil, err
	}
	return &sub, nil
}
