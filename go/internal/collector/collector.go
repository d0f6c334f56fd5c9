package collector

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"github.com/ultransit/collector/go/internal/events"
	"github.com/ultransit/collector/go/internal/models"
)

// FeedDecoder turns one raw upstream feed payload into vehicle positions.
// The upstream fetch/decode pipeline is an external collaborator; only this
// seam is part of the service.
type FeedDecoder interface {
	Decode(raw []byte) ([]models.VehiclePosition, error)
}

// VehicleStore persists a decoded feed snapshot
type VehicleStore interface {
	UpsertBatch(ctx context.Context, positions []models.VehiclePosition) error
}

// EventSink receives the collector's lifecycle and per-vehicle events
type EventSink interface {
	Enqueue(eventType string, data map[string]any) error
}

// Config holds collector settings
type Config struct {
	FeedURL      string
	Interval     time.Duration
	FetchTimeout time.Duration
}

// DefaultConfig returns the stock collector configuration
func DefaultConfig() Config {
	return Config{
		Interval:     30 * time.Second,
		FetchTimeout: 10 * time.Second,
	}
}

// Collector periodically fetches the vehicle feed, stores the snapshot and
// emits data_collection_start / vehicle_position_update / vehicle_route_change
// / data_collection_complete (or _error) events through the sink.
type Collector struct {
	config  Config
	client  *http.Client
	decoder FeedDecoder
	store   VehicleStore
	sink    EventSink
	cron    *cron.Cron

	// busy holds one token while a cycle runs; overlapping cycles collapse
	busy chan struct{}
	wg   sync.WaitGroup

	mu         sync.Mutex
	lastRoutes map[string]string
}

// New creates a collector; Schedule must be called to start the cycle.
func New(config Config, decoder FeedDecoder, store VehicleStore, sink EventSink) *Collector {
	return &Collector{
		config:     config,
		client:     &http.Client{Timeout: config.FetchTimeout},
		decoder:    decoder,
		store:      store,
		sink:       sink,
		cron:       cron.New(),
		busy:       make(chan struct{}, 1),
		lastRoutes: make(map[string]string),
	}
}

// Schedule starts periodic collection on the configured interval
func (c *Collector) Schedule(ctx context.Context) error {
	spec := fmt.Sprintf("@every %s", c.config.Interval)
	_, err := c.cron.AddFunc(spec, func() {
		c.RunOnce(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule collection: %w", err)
	}

	c.cron.Start()
	log.Info().Str("feed_url", c.config.FeedURL).Dur("interval", c.config.Interval).Msg("collector scheduled")
	return nil
}

// Stop halts the schedule and waits for running and triggered cycles to finish
func (c *Collector) Stop() {
	stopCtx := c.cron.Stop()
	<-stopCtx.Done()
	c.wg.Wait()
	log.Info().Msg("collector stopped")
}

// TriggerRun kicks one collection cycle in the background. The cycle is
// tracked so Stop waits for it.
func (c *Collector) TriggerRun(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.RunOnce(ctx)
	}()
}

// RunOnce executes a single collection cycle. At most one cycle runs at a
// time; a cycle requested while another is in flight is skipped, so repeated
// triggers cannot pile up concurrent feed fetches.
func (c *Collector) RunOnce(ctx context.Context) {
	select {
	case c.busy <- struct{}{}:
	default:
		log.Debug().Msg("collection cycle already running, skipping")
		return
	}
	defer func() { <-c.busy }()

	c.emit(string(events.EventTypeDataCollectionStart), map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"status":    "started",
	})

	positions, err := c.collect(ctx)
	if err != nil {
		log.Error().Err(err).Msg("data collection failed")
		c.emit(string(events.EventTypeDataCollectionError), map[string]any{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"status":    "error",
			"error":     err.Error(),
		})
		return
	}

	c.emit(string(events.EventTypeDataCollectionComplete), map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"status":    "completed",
		"count":     len(positions),
	})
}

func (c *Collector) collect(ctx context.Context) ([]models.VehiclePosition, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.FeedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build feed request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feed fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read feed body: %w", err)
	}

	positions, err := c.decoder.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode feed: %w", err)
	}

	if err := c.store.UpsertBatch(ctx, positions); err != nil {
		return nil, err
	}

	c.emitVehicleEvents(positions)
	return positions, nil
}

// emitVehicleEvents pushes one position update per vehicle, plus a route
// change event when a vehicle moved to a different route since the last cycle.
func (c *Collector) emitVehicleEvents(positions []models.VehiclePosition) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, pos := range positions {
		data := map[string]any{
			"vehicle_id": pos.VehicleID,
			"route_id":   pos.RouteID,
			"latitude":   pos.Latitude,
			"longitude":  pos.Longitude,
			"timestamp":  pos.Timestamp.UTC().Format(time.RFC3339),
		}
		c.emit(string(events.EventTypeVehiclePositionUpdate), data)

		if prev, seen := c.lastRoutes[pos.VehicleID]; seen && prev != pos.RouteID {
			c.emit(string(events.EventTypeVehicleRouteChange), map[string]any{
				"vehicle_id":     pos.VehicleID,
				"previous_route": prev,
				"route_id":       pos.RouteID,
				"timestamp":      pos.Timestamp.UTC().Format(time.RFC3339),
			})
		}
		c.lastRoutes[pos.VehicleID] = pos.RouteID
	}
}

func (c *Collector) emit(eventType string, data map[string]any) {
	if err := c.sink.Enqueue(eventType, data); err != nil {
		log.Warn().Err(err).Str("event_type", eventType).Msg("failed to enqueue event")
	}
}
