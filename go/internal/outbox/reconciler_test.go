package outbox

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ultransit/collector/go/internal/events"
	"github.com/ultransit/collector/go/internal/models"
)

type fakeStore struct {
	mu       sync.Mutex
	records  []models.EventRecord
	queryErr error
	markErr  error
}

func (s *fakeStore) add(eventType string, payload string, createdAt time.Time) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := models.EventRecord{
		ID:        uuid.New(),
		EventType: eventType,
		Payload:   json.RawMessage(payload),
		CreatedAt: createdAt,
	}
	s.records = append(s.records, rec)
	return rec.ID
}

func (s *fakeStore) QueryUnprocessed(ctx context.Context, eventType string) ([]models.EventRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	var out []models.EventRecord
	for _, rec := range s.records {
		if !rec.Processed && (eventType == "" || rec.EventType == eventType) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *fakeStore) MarkProcessed(ctx context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markErr != nil {
		return s.markErr
	}
	for i := range s.records {
		if s.records[i].ID == id && !s.records[i].Processed {
			s.records[i].Processed = true
			t := at
			s.records[i].ProcessedAt = &t
		}
	}
	return nil
}

func (s *fakeStore) CountUnprocessed(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, rec := range s.records {
		if !rec.Processed {
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) processed(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.records {
		if rec.ID == id {
			return rec.Processed
		}
	}
	return false
}

type fakeSubs struct {
	mu   sync.Mutex
	subs []models.Subscription
	err  error
}

func (f *fakeSubs) ListActiveByEventType(ctx context.Context, eventType string) ([]models.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []models.Subscription
	for _, sub := range f.subs {
		if sub.EventType == eventType && sub.IsActive {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (f *fakeSubs) remove(id uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.subs[:0]
	for _, sub := range f.subs {
		if sub.ID != id {
			kept = append(kept, sub)
		}
	}
	f.subs = kept
}

type recordedDelivery struct {
	url          string
	notification events.Notification
}

type fakeDeliverer struct {
	mu         sync.Mutex
	deliveries []recordedDelivery
	err        error
}

func (d *fakeDeliverer) Deliver(ctx context.Context, callbackURL string, n events.Notification) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deliveries = append(d.deliveries, recordedDelivery{url: callbackURL, notification: n})
	return d.err
}

func (d *fakeDeliverer) all() []recordedDelivery {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]recordedDelivery(nil), d.deliveries...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestReconciler(store *fakeStore, subs *fakeSubs, deliverer Deliverer) *Reconciler {
	return NewReconciler(store, subs, deliverer, DefaultConfig(),
		clockwork.NewFakeClock(), nil, testLogger())
}

func subscription(eventType, url string, active bool) models.Subscription {
	return models.Subscription{
		ID:          uuid.New(),
		ClientID:    "w1",
		EventType:   eventType,
		CallbackURL: url,
		IsActive:    active,
	}
}

func TestPassDeliversAndMarksProcessed(t *testing.T) {
	store := &fakeStore{}
	subs := &fakeSubs{subs: []models.Subscription{
		subscription("data_collection_complete", "http://example/hook", true),
	}}
	deliverer := &fakeDeliverer{}

	id := store.add("data_collection_complete", `{"count":3}`, time.Now())

	r := newTestReconciler(store, subs, deliverer)
	r.RunPass(context.Background())

	deliveries := deliverer.all()
	require.Len(t, deliveries, 1)
	assert.Equal(t, "http://example/hook", deliveries[0].url)
	assert.Equal(t, "data_collection_complete", deliveries[0].notification.EventType)
	assert.Equal(t, subs.subs[0].ID, deliveries[0].notification.SubscriptionID)
	assert.JSONEq(t, `{"count":3}`, string(deliveries[0].notification.Data))
	assert.True(t, store.processed(id))
}

func TestPassMarksProcessedEvenWhenDeliveryFails(t *testing.T) {
	store := &fakeStore{}
	subs := &fakeSubs{subs: []models.Subscription{
		subscription("data_collection_complete", "http://example/hook", true),
	}}
	deliverer := &fakeDeliverer{err: assert.AnError}

	id := store.add("data_collection_complete", `{}`, time.Now())

	r := newTestReconciler(store, subs, deliverer)
	r.RunPass(context.Background())

	// Single-attempt-per-pass: the failed attempt still completes the record
	require.Len(t, deliverer.all(), 1)
	assert.True(t, store.processed(id))

	// And the next pass does not retry it
	r.RunPass(context.Background())
	assert.Len(t, deliverer.all(), 1)
}

func TestPassSkipsInactiveSubscriptions(t *testing.T) {
	store := &fakeStore{}
	subs := &fakeSubs{subs: []models.Subscription{
		subscription("vehicle_position_update", "http://example/inactive", false),
	}}
	deliverer := &fakeDeliverer{}

	id := store.add("vehicle_position_update", `{"vehicle_id":"1"}`, time.Now())

	r := newTestReconciler(store, subs, deliverer)
	r.RunPass(context.Background())

	// No active subscriber: no webhook call, record still completes
	assert.Empty(t, deliverer.all())
	assert.True(t, store.processed(id))
}

func TestPassSkipsDeletedSubscription(t *testing.T) {
	store := &fakeStore{}
	sub := subscription("vehicle_route_change", "http://example/gone", true)
	subs := &fakeSubs{subs: []models.Subscription{sub}}
	deliverer := &fakeDeliverer{}

	id := store.add("vehicle_route_change", `{"vehicle_id":"1"}`, time.Now())

	// Deleted before the reconciler runs; deletion is not retroactive
	subs.remove(sub.ID)

	r := newTestReconciler(store, subs, deliverer)
	r.RunPass(context.Background())

	assert.Empty(t, deliverer.all())
	assert.True(t, store.processed(id))
}

func TestPassAbortsOnFetchError(t *testing.T) {
	store := &fakeStore{queryErr: assert.AnError}
	id := uuid.New()
	deliverer := &fakeDeliverer{}

	r := newTestReconciler(store, &fakeSubs{}, deliverer)
	r.RunPass(context.Background())

	assert.Empty(t, deliverer.all())
	assert.False(t, store.processed(id))

	// Once storage recovers the backlog is retried in full
	store.mu.Lock()
	store.queryErr = nil
	store.mu.Unlock()
	realID := store.add("data_collection_complete", `{}`, time.Now())
	r.RunPass(context.Background())
	assert.True(t, store.processed(realID))
}

func TestPassProcessesOldestFirst(t *testing.T) {
	store := &fakeStore{}
	subs := &fakeSubs{subs: []models.Subscription{
		subscription("vehicle_position_update", "http://example/hook", true),
	}}
	deliverer := &fakeDeliverer{}

	base := time.Now()
	store.add("vehicle_position_update", `{"vehicle_id":"2"}`, base.Add(time.Second))
	store.add("vehicle_position_update", `{"vehicle_id":"1"}`, base)
	store.add("vehicle_position_update", `{"vehicle_id":"3"}`, base.Add(2*time.Second))

	r := newTestReconciler(store, subs, deliverer)
	r.RunPass(context.Background())

	deliveries := deliverer.all()
	require.Len(t, deliveries, 3)
	for i, want := range []string{"1", "2", "3"} {
		var data map[string]string
		require.NoError(t, json.Unmarshal(deliveries[i].notification.Data, &data))
		assert.Equal(t, want, data["vehicle_id"])
	}
}

func TestPassDeliversToWebhookOverHTTP(t *testing.T) {
	var (
		mu       sync.Mutex
		received []events.Notification
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var n events.Notification
		require.NoError(t, json.NewDecoder(r.Body).Decode(&n))
		mu.Lock()
		received = append(received, n)
		mu.Unlock()
		// A 500 is still one completed attempt
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	store := &fakeStore{}
	subs := &fakeSubs{subs: []models.Subscription{
		subscription("data_collection_complete", server.URL, true),
	}}

	id := store.add("data_collection_complete", `{"count":10}`, time.Now())

	r := NewReconciler(store, subs, NewWebhookDeliverer(2*time.Second), DefaultConfig(),
		clockwork.NewRealClock(), nil, testLogger())
	r.RunPass(context.Background())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1, "exactly one POST per pass")
	assert.Equal(t, "data_collection_complete", received[0].EventType)
	assert.True(t, store.processed(id))
}

func TestReconcilerRunsOnTicks(t *testing.T) {
	store := &fakeStore{}
	subs := &fakeSubs{subs: []models.Subscription{
		subscription("data_collection_complete", "http://example/hook", true),
	}}
	deliverer := &fakeDeliverer{}

	clock := clockwork.NewFakeClock()
	cfg := DefaultConfig()
	r := NewReconciler(store, subs, deliverer, cfg, clock, nil, testLogger())

	first := store.add("data_collection_complete", `{}`, time.Now())

	require.NoError(t, r.Start(context.Background()))
	defer func() { require.NoError(t, r.Stop()) }()

	// Immediate pass on start
	require.Eventually(t, func() bool { return store.processed(first) },
		2*time.Second, 10*time.Millisecond)

	second := store.add("data_collection_complete", `{}`, time.Now())
	clock.Advance(cfg.PollInterval)

	require.Eventually(t, func() bool { return store.processed(second) },
		2*time.Second, 10*time.Millisecond)
}

func TestReconcilerStartStopLifecycle(t *testing.T) {
	r := newTestReconciler(&fakeStore{}, &fakeSubs{}, &fakeDeliverer{})

	require.NoError(t, r.Start(context.Background()))
	assert.Error(t, r.Start(context.Background()), "double start must fail")
	require.NoError(t, r.Stop())
	assert.Error(t, r.Stop(), "double stop must fail")
}
