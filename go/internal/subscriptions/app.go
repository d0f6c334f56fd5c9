package subscriptions

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/ultransit/collector/go/internal/models"
)

// SubscriptionRepository defines what the app layer needs from the repository
type SubscriptionRepository interface {
	CreateSubscription(ctx context.Context, clientID, eventType, callbackURL string) (*models.Subscription, error)
	GetSubscription(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	ListSubscriptions(ctx context.Context) ([]models.Subscription, error)
	ListSubscriptionsByClient(ctx context.Context, clientID string) ([]models.Subscription, error)
	ListSubscriptionsByEventType(ctx context.Context, eventType string) ([]models.Subscription, error)
	ListActiveSubscriptionsByEventType(ctx context.Context, eventType string) ([]models.Subscription, error)
	UpdateSubscriptionActive(ctx context.Context, id uuid.UUID, isActive bool) (*models.Subscription, error)
	DeleteSubscription(ctx context.Context, id uuid.UUID) (bool, error)
}

// CreateSubscriptionRequest carries the input for a new webhook subscription
type CreateSubscriptionRequest struct {
	ClientID    string `json:"client_id" validate:"required"`
	EventType   string `json:"event_type" validate:"required"`
	CallbackURL string `json:"callback_url" validate:"required,http_url"`
}

// App handles subscription business logic
type App struct {
	repo     SubscriptionRepository
	validate *validator.Validate
}

// NewApp creates a new subscriptions App
func NewApp(repo SubscriptionRepository) *App {
	return &App{
		repo:     repo,
		validate: validator.New(),
	}
}

// CreateSubscription validates the request and persists a new subscription
func (a *App) CreateSubscription(ctx context.Context, req CreateSubscriptionRequest) (*models.Subscription, error) {
	if err := a.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return nil, &ValidationError{Field: verrs[0].Field(), Reason: "failed " + verrs[0].Tag() + " check"}
		}
		return nil, &ValidationError{Field: "request", Reason: err.Error()}
	}

	sub, err := a.repo.CreateSubscription(ctx, req.ClientID, req.EventType, req.CallbackURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}

	return sub, nil
}

// GetSubscription retrieves a subscription by ID
func (a *App) GetSubscription(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	return a.repo.GetSubscription(ctx, id)
}

// ListSubscriptions retrieves subscriptions, optionally filtered by client id
// or event type. Filters are mutually exclusive; client id wins when both are set.
func (a *App) ListSubscriptions(ctx context.Context, clientID, eventType string) ([]models.Subscription, error) {
	switch {
	case clientID != "":
		return a.repo.ListSubscriptionsByClient(ctx, clientID)
	case eventType != "":
		return a.repo.ListSubscriptionsByEventType(ctx, eventType)
	default:
		return a.repo.ListSubscriptions(ctx)
	}
}

// ListActiveByEventType resolves the subscriptions a delivery pass must target
func (a *App) ListActiveByEventType(ctx context.Context, eventType string) ([]models.Subscription, error) {
	return a.repo.ListActiveSubscriptionsByEventType(ctx, eventType)
}

// UpdateSubscriptionActive sets the active flag on a subscription
func (a *App) UpdateSubscriptionActive(ctx context.Context, id uuid.UUID, isActive bool) (*models.Subscription, error) {
	return a.repo.UpdateSubscriptionActive(ctx, id, isActive)
}

// DeleteSubscription removes a subscription by ID
func (a *App) DeleteSubscription(ctx context.Context, id uuid.UUID) (bool, error) {
	return a.repo.DeleteSubscription(ctx, id)
}
