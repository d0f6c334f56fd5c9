package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/ultransit/collector/go/internal/events"
	"github.com/ultransit/collector/go/internal/models"
	"golang.org/x/sync/errgroup"
)

// OutboxStore defines what the reconciler needs from the event log
type OutboxStore interface {
	QueryUnprocessed(ctx context.Context, eventType string) ([]models.EventRecord, error)
	MarkProcessed(ctx context.Context, id uuid.UUID, at time.Time) error
	CountUnprocessed(ctx context.Context) (int, error)
}

// SubscriptionSource resolves active webhook subscriptions per event type
type SubscriptionSource interface {
	ListActiveByEventType(ctx context.Context, eventType string) ([]models.Subscription, error)
}

// Config holds reconciler tuning knobs
type Config struct {
	PollInterval    time.Duration
	DeliveryTimeout time.Duration
	MaxParallel     int
}

// DefaultConfig returns the stock reconciler configuration
func DefaultConfig() Config {
	return Config{
		PollInterval:    5 * time.Second,
		DeliveryTimeout: 5 * time.Second,
		MaxParallel:     4,
	}
}

// Reconciler periodically drains the outbox backlog to webhook subscribers.
//
// Delivery is single-attempt-per-pass: a subscriber whose endpoint is down
// during the pass that processes a record permanently misses that event. The
// only retry mechanism is pass-level — a pass that fails before completing
// marks nothing, so the full pending set is retried on the next tick. Callers
// needing stronger guarantees should layer a backoff queue on top.
type Reconciler struct {
	store     OutboxStore
	subs      SubscriptionSource
	deliverer Deliverer
	config    Config
	clock     clockwork.Clock
	metrics   MetricsCollector
	logger    *slog.Logger

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewReconciler creates a reconciler. A nil metrics collector disables metrics.
func NewReconciler(store OutboxStore, subs SubscriptionSource, deliverer Deliverer, cfg Config, clock clockwork.Clock, metrics MetricsCollector, logger *slog.Logger) *Reconciler {
	if metrics == nil {
		metrics = &NoOpMetricsCollector{}
	}
	return &Reconciler{
		store:     store,
		subs:      subs,
		deliverer: deliverer,
		config:    cfg,
		clock:     clock,
		metrics:   metrics,
		logger:    logger,
		stopChan:  make(chan struct{}),
	}
}

// Start begins the periodic reconciliation loop
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("outbox reconciler already running")
	}
	r.running = true
	r.mu.Unlock()

	r.wg.Add(1)
	go r.run(ctx)

	r.logger.Info("outbox reconciler started",
		slog.Duration("poll_interval", r.config.PollInterval),
		slog.Duration("delivery_timeout", r.config.DeliveryTimeout))

	return nil
}

// Stop halts the loop and waits for an in-flight pass to finish
func (r *Reconciler) Stop() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return fmt.Errorf("outbox reconciler not running")
	}
	r.running = false
	r.mu.Unlock()

	close(r.stopChan)
	r.wg.Wait()

	r.logger.Info("outbox reconciler stopped")
	return nil
}

func (r *Reconciler) run(ctx context.Context) {
	defer r.wg.Done()

	ticker := r.clock.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	// Process immediately on start
	r.RunPass(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopChan:
			return
		case <-ticker.Chan():
			r.RunPass(ctx)
		}
	}
}

// RunPass executes one reconciliation pass. A storage failure aborts the pass
// without marking anything, leaving every pending record for the next tick.
func (r *Reconciler) RunPass(ctx context.Context) {
	start := r.clock.Now()

	records, err := r.store.QueryUnprocessed(ctx, "")
	if err != nil {
		r.logger.Error("failed to fetch unprocessed events, aborting pass", slog.String("error", err.Error()))
		return
	}

	if backlog, err := r.store.CountUnprocessed(ctx); err == nil {
		r.metrics.RecordBacklog(backlog)
	}

	if len(records) == 0 {
		return
	}

	r.logger.Debug("processing outbox events", slog.Int("count", len(records)))

	processed := 0
	for _, record := range records {
		subs, err := r.subs.ListActiveByEventType(ctx, record.EventType)
		if err != nil {
			r.logger.Error("failed to resolve subscriptions, aborting pass",
				slog.String("event_id", record.ID.String()),
				slog.String("error", err.Error()))
			break
		}

		// No interested party, nothing to retry
		if len(subs) > 0 {
			r.deliverRecord(ctx, record, subs)
		}

		if err := r.store.MarkProcessed(ctx, record.ID, r.clock.Now()); err != nil {
			r.logger.Error("failed to mark event processed",
				slog.String("event_id", record.ID.String()),
				slog.String("error", err.Error()))
			break
		}
		processed++
	}

	r.metrics.RecordPass(processed, r.clock.Since(start))
	r.logger.Info("reconciliation pass complete",
		slog.Int("total", len(records)),
		slog.Int("processed", processed))
}

// deliverRecord attempts one POST per subscription, in bounded parallel. Each
// attempt has its own timeout so one hung endpoint never blocks the rest.
// Failures are subscription-local; the record is marked processed regardless.
func (r *Reconciler) deliverRecord(ctx context.Context, record models.EventRecord, subs []models.Subscription) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.config.MaxParallel)

	for _, sub := range subs {
		sub := sub
		g.Go(func() error {
			notification := events.Notification{
				EventType:      record.EventType,
				Data:           record.Payload,
				Timestamp:      record.CreatedAt,
				SubscriptionID: sub.ID,
			}

			attemptCtx, cancel := context.WithTimeout(gctx, r.config.DeliveryTimeout)
			defer cancel()

			attemptStart := r.clock.Now()
			err := r.deliverer.Deliver(attemptCtx, sub.CallbackURL, notification)
			r.metrics.RecordDelivery(record.EventType, err == nil, r.clock.Since(attemptStart))
			if err != nil {
				r.logger.Warn("webhook delivery failed",
					slog.String("event_id", record.ID.String()),
					slog.String("subscription_id", sub.ID.String()),
					slog.String("callback_url", sub.CallbackURL),
					slog.String("error", err.Error()))
			}
			// Never propagate: one bad endpoint must not cancel the others
			return nil
		})
	}

	_ = g.Wait()
}
