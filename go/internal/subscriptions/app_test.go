package subscriptions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ultransit/collector/go/internal/models"
)

type fakeRepo struct {
	subs map[uuid.UUID]*models.Subscription
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{subs: make(map[uuid.UUID]*models.Subscription)}
}

func (r *fakeRepo) CreateSubscription(ctx context.Context, clientID, eventType, callbackURL string) (*models.Subscription, error) {
	now := time.Now().UTC()
	sub := &models.Subscription{
		ID:          uuid.New(),
		ClientID:    clientID,
		EventType:   eventType,
		CallbackURL: callbackURL,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	r.subs[sub.ID] = sub
	return sub, nil
}

func (r *fakeRepo) GetSubscription(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	sub, ok := r.subs[id]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	return sub, nil
}

func (r *fakeRepo) ListSubscriptions(ctx context.Context) ([]models.Subscription, error) {
	var out []models.Subscription
	for _, sub := range r.subs {
		out = append(out, *sub)
	}
	return out, nil
}

func (r *fakeRepo) ListSubscriptionsByClient(ctx context.Context, clientID string) ([]models.Subscription, error) {
	var out []models.Subscription
	for _, sub := range r.subs {
		if sub.ClientID == clientID {
			out = append(out, *sub)
		}
	}
	return out, nil
}

func (r *fakeRepo) ListSubscriptionsByEventType(ctx context.Context, eventType string) ([]models.Subscription, error) {
	var out []models.Subscription
	for _, sub := range r.subs {
		if sub.EventType == eventType {
			out = append(out, *sub)
		}
	}
	return out, nil
}

func (r *fakeRepo) ListActiveSubscriptionsByEventType(ctx context.Context, eventType string) ([]models.Subscription, error) {
	var out []models.Subscription
	for _, sub := range r.subs {
		if sub.EventType == eventType && sub.IsActive {
			out = append(out, *sub)
		}
	}
	return out, nil
}

func (r *fakeRepo) UpdateSubscriptionActive(ctx context.Context, id uuid.UUID, isActive bool) (*models.Subscription, error) {
	sub, ok := r.subs[id]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	sub.IsActive = isActive
	sub.UpdatedAt = time.Now().UTC()
	return sub, nil
}

func (r *fakeRepo) DeleteSubscription(ctx context.Context, id uuid.UUID) (bool, error) {
	if _, ok := r.subs[id]; !ok {
		return false, nil
	}
	delete(r.subs, id)
	return true, nil
}

func validRequest() CreateSubscriptionRequest {
	return CreateSubscriptionRequest{
		ClientID:    "dashboard-1",
		EventType:   "vehicle_position_update",
		CallbackURL: "http://example.com/hooks/vehicles",
	}
}

func TestCreateSubscription(t *testing.T) {
	app := NewApp(newFakeRepo())

	sub, err := app.CreateSubscription(context.Background(), validRequest())
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, sub.ID)
	assert.Equal(t, "dashboard-1", sub.ClientID)
	assert.True(t, sub.IsActive, "new subscriptions start active")
}

func TestCreateSubscriptionValidation(t *testing.T) {
	app := NewApp(newFakeRepo())

	cases := []struct {
		name   string
		mutate func(*CreateSubscriptionRequest)
	}{
		{"missing client id", func(r *CreateSubscriptionRequest) { r.ClientID = "" }},
		{"missing event type", func(r *CreateSubscriptionRequest) { r.EventType = "" }},
		{"missing callback url", func(r *CreateSubscriptionRequest) { r.CallbackURL = "" }},
		{"relative callback url", func(r *CreateSubscriptionRequest) { r.CallbackURL = "/hooks/vehicles" }},
		{"non-http callback url", func(r *CreateSubscriptionRequest) { r.CallbackURL = "ftp://example.com/hook" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validRequest()
			tc.mutate(&req)

			_, err := app.CreateSubscription(context.Background(), req)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
		})
	}
}

func TestGetSubscriptionNotFound(t *testing.T) {
	app := NewApp(newFakeRepo())

	_, err := app.GetSubscription(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)
}

func TestListSubscriptionsFilters(t *testing.T) {
	repo := newFakeRepo()
	app := NewApp(repo)
	ctx := context.Background()

	mustCreate := func(clientID, eventType string) *models.Subscription {
		sub, err := repo.CreateSubscription(ctx, clientID, eventType, "http://example.com/hook")
		require.NoError(t, err)
		return sub
	}
	mustCreate("c1", "vehicle_position_update")
	mustCreate("c1", "vehicle_route_change")
	mustCreate("c2", "vehicle_position_update")

	all, err := app.ListSubscriptions(ctx, "", "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	byClient, err := app.ListSubscriptions(ctx, "c1", "")
	require.NoError(t, err)
	assert.Len(t, byClient, 2)

	byType, err := app.ListSubscriptions(ctx, "", "vehicle_position_update")
	require.NoError(t, err)
	assert.Len(t, byType, 2)

	// Client filter wins when both are provided
	both, err := app.ListSubscriptions(ctx, "c2", "vehicle_route_change")
	require.NoError(t, err)
	assert.Len(t, both, 1)
	assert.Equal(t, "c2", both[0].ClientID)
}

func TestListActiveByEventTypeSkipsInactive(t *testing.T) {
	repo := newFakeRepo()
	app := NewApp(repo)
	ctx := context.Background()

	active, err := repo.CreateSubscription(ctx, "c1", "vehicle_position_update", "http://example.com/a")
	require.NoError(t, err)
	paused, err := repo.CreateSubscription(ctx, "c2", "vehicle_position_update", "http://example.com/b")
	require.NoError(t, err)

	_, err = app.UpdateSubscriptionActive(ctx, paused.ID, false)
	require.NoError(t, err)

	subs, err := app.ListActiveByEventType(ctx, "vehicle_position_update")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, active.ID, subs[0].ID)
}

func TestUpdateSubscriptionActiveNotFound(t *testing.T) {
	app := NewApp(newFakeRepo())

	_, err := app.UpdateSubscriptionActive(context.Background(), uuid.New(), false)
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)
}

func TestDeleteSubscription(t *testing.T) {
	repo := newFakeRepo()
	app := NewApp(repo)
	ctx := context.Background()

	sub, err := repo.CreateSubscription(ctx, "c1", "vehicle_position_update", "http://example.com/hook")
	require.NoError(t, err)

	deleted, err := app.DeleteSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	// Idempotent: a second delete reports nothing removed
	deleted, err = app.DeleteSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.False(t, deleted)

	_, err = app.GetSubscription(ctx, sub.ID)
	assert.True(t, errors.Is(err, ErrSubscriptionNotFound))
}
