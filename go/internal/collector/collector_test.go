package collector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ultransit/collector/go/internal/models"
)

type fakeVehicleStore struct {
	mu      sync.Mutex
	batches [][]models.VehiclePosition
	err     error
}

func (s *fakeVehicleStore) UpsertBatch(ctx context.Context, positions []models.VehiclePosition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.batches = append(s.batches, positions)
	return nil
}

type emittedEvent struct {
	eventType string
	data      map[string]any
}

type fakeSink struct {
	mu     sync.Mutex
	events []emittedEvent
}

func (s *fakeSink) Enqueue(eventType string, data map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, emittedEvent{eventType: eventType, data: data})
	return nil
}

func (s *fakeSink) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, e := range s.events {
		out[i] = e.eventType
	}
	return out
}

func (s *fakeSink) ofType(eventType string) []emittedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []emittedEvent
	for _, e := range s.events {
		if e.eventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

const feedBody = `{"vehicles":[
	{"vehicle_id":"bus-1","route_id":"10","latitude":59.33,"longitude":18.06,"timestamp":1700000000},
	{"vehicle_id":"bus-2","route_id":"11","latitude":59.34,"longitude":18.07,"speed":12.5,"timestamp":1700000000}
]}`

func feedServer(t *testing.T, body string, status int) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestCollector(feedURL string, store *fakeVehicleStore, sink *fakeSink) *Collector {
	cfg := DefaultConfig()
	cfg.FeedURL = feedURL
	return New(cfg, JSONFeedDecoder{}, store, sink)
}

func TestRunOnceEmitsLifecycleAndVehicleEvents(t *testing.T) {
	server := feedServer(t, feedBody, http.StatusOK)
	store := &fakeVehicleStore{}
	sink := &fakeSink{}

	newTestCollector(server.URL, store, sink).RunOnce(context.Background())

	assert.Equal(t, []string{
		"data_collection_start",
		"vehicle_position_update",
		"vehicle_position_update",
		"data_collection_complete",
	}, sink.types())

	updates := sink.ofType("vehicle_position_update")
	require.Len(t, updates, 2)
	assert.Equal(t, "bus-1", updates[0].data["vehicle_id"])
	assert.Equal(t, "10", updates[0].data["route_id"])

	complete := sink.ofType("data_collection_complete")
	require.Len(t, complete, 1)
	assert.Equal(t, 2, complete[0].data["count"])

	require.Len(t, store.batches, 1)
	assert.Len(t, store.batches[0], 2)
}

func TestRunOnceEmitsRouteChange(t *testing.T) {
	store := &fakeVehicleStore{}
	sink := &fakeSink{}

	first := feedServer(t, `{"vehicles":[{"vehicle_id":"bus-1","route_id":"10","latitude":1,"longitude":2,"timestamp":1700000000}]}`, http.StatusOK)
	c := newTestCollector(first.URL, store, sink)
	c.RunOnce(context.Background())

	// No route change on the first sighting
	assert.Empty(t, sink.ofType("vehicle_route_change"))

	second := feedServer(t, `{"vehicles":[{"vehicle_id":"bus-1","route_id":"12","latitude":1,"longitude":2,"timestamp":1700000060}]}`, http.StatusOK)
	c.config.FeedURL = second.URL
	c.RunOnce(context.Background())

	changes := sink.ofType("vehicle_route_change")
	require.Len(t, changes, 1)
	assert.Equal(t, "bus-1", changes[0].data["vehicle_id"])
	assert.Equal(t, "10", changes[0].data["previous_route"])
	assert.Equal(t, "12", changes[0].data["route_id"])
}

func TestRunOnceFeedFailureEmitsErrorEvent(t *testing.T) {
	server := feedServer(t, "upstream broken", http.StatusBadGateway)
	store := &fakeVehicleStore{}
	sink := &fakeSink{}

	newTestCollector(server.URL, store, sink).RunOnce(context.Background())

	assert.Equal(t, []string{"data_collection_start", "data_collection_error"}, sink.types())
	errs := sink.ofType("data_collection_error")
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].data["error"], "502")
	assert.Empty(t, store.batches)
}

func TestRunOnceMalformedFeedEmitsErrorEvent(t *testing.T) {
	server := feedServer(t, "{not json", http.StatusOK)
	sink := &fakeSink{}

	newTestCollector(server.URL, &fakeVehicleStore{}, sink).RunOnce(context.Background())

	assert.Equal(t, []string{"data_collection_start", "data_collection_error"}, sink.types())
}

func TestRunOnceStoreFailureEmitsErrorEvent(t *testing.T) {
	server := feedServer(t, feedBody, http.StatusOK)
	store := &fakeVehicleStore{err: assert.AnError}
	sink := &fakeSink{}

	newTestCollector(server.URL, store, sink).RunOnce(context.Background())

	// Persistence failed, so no per-vehicle events go out
	assert.Equal(t, []string{"data_collection_start", "data_collection_error"}, sink.types())
}

func TestOverlappingCyclesCollapse(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		_, _ = w.Write([]byte(feedBody))
	}))
	t.Cleanup(server.Close)

	store := &fakeVehicleStore{}
	sink := &fakeSink{}
	c := newTestCollector(server.URL, store, sink)

	c.TriggerRun(context.Background())
	require.Eventually(t, func() bool {
		return len(sink.ofType("data_collection_start")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// A second cycle while the first is blocked on the feed is skipped
	c.RunOnce(context.Background())
	assert.Len(t, sink.ofType("data_collection_start"), 1)

	close(release)
	c.Stop() // waits for the triggered cycle

	assert.Len(t, sink.ofType("data_collection_complete"), 1)
	assert.Len(t, store.batches, 1)
}

func TestJSONFeedDecoderSkipsEntriesWithoutVehicleID(t *testing.T) {
	positions, err := JSONFeedDecoder{}.Decode([]byte(`{"vehicles":[
		{"vehicle_id":"","route_id":"10","latitude":1,"longitude":2,"timestamp":1700000000},
		{"vehicle_id":"bus-9","route_id":"10","latitude":1,"longitude":2,"timestamp":1700000000}
	]}`))
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "bus-9", positions[0].VehicleID)
	assert.Equal(t, int64(1700000000), positions[0].Timestamp.Unix())
}
