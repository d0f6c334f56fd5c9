package main

import (
	"database/sql"
	"log/slog"
	"os"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/ultransit/collector/go/internal/api"
	"github.com/ultransit/collector/go/internal/collector"
	"github.com/ultransit/collector/go/internal/gateway"
	"github.com/ultransit/collector/go/internal/outbox"
	"github.com/ultransit/collector/go/internal/subscriptions"
	"github.com/ultransit/collector/go/internal/vehicles"
)

type Services struct {
	Registry      *gateway.Registry
	Broadcaster   *gateway.Broadcaster
	BroadcastPool *gateway.Pool
	WSHandler     *gateway.WebSocketHandler
	Reconciler    *outbox.Reconciler
	Collector     *collector.Collector
	API           *api.Handler
}

func setupServices(database *sql.DB, config *Config) *Services {
	// Wire up dependency injection chain
	// Database layer → Repository layer → App layer → transport layer

	subsRepo := subscriptions.NewRepository(database)
	subsApp := subscriptions.NewApp(subsRepo)

	outboxRepo := outbox.NewRepository(database)
	vehicleRepo := vehicles.NewRepository(database)

	// Live push path
	registry := gateway.NewRegistry()
	broadcaster := gateway.NewBroadcaster(outboxRepo, registry)
	pool := gateway.NewPool(broadcaster,
		getEnvAsInt("BROADCAST_WORKERS", 4),
		getEnvAsInt("BROADCAST_QUEUE_SIZE", 1024))
	wsHandler := gateway.NewWebSocketHandler(registry, gateway.DefaultConfig())

	// Durable webhook path
	reconcilerCfg := outbox.DefaultConfig()
	reconcilerCfg.PollInterval = duration("EVENT_PROCESSING_INTERVAL", config.Events.ProcessingInterval, reconcilerCfg.PollInterval)
	reconcilerCfg.DeliveryTimeout = duration("WEBHOOK_TIMEOUT", config.Events.DeliveryTimeout, reconcilerCfg.DeliveryTimeout)
	if config.Events.MaxParallel > 0 {
		reconcilerCfg.MaxParallel = config.Events.MaxParallel
	}

	reconciler := outbox.NewReconciler(
		outboxRepo,
		subsApp,
		outbox.NewWebhookDeliverer(reconcilerCfg.DeliveryTimeout),
		reconcilerCfg,
		clockwork.NewRealClock(),
		outbox.NewPrometheusMetrics(prometheus.DefaultRegisterer),
		slog.New(slog.NewJSONHandler(os.Stdout, nil)),
	)

	// Upstream feed collection
	var feedCollector *collector.Collector
	collectorCfg := collector.DefaultConfig()
	collectorCfg.FeedURL = getEnv("FEED_URL", config.Collector.FeedURL)
	collectorCfg.Interval = duration("DATA_COLLECTION_INTERVAL", config.Collector.Interval, collectorCfg.Interval)
	if collectorCfg.FeedURL != "" {
		feedCollector = collector.New(collectorCfg, collector.JSONFeedDecoder{}, vehicleRepo, pool)
	}

	var runner api.CollectionRunner
	if feedCollector != nil {
		runner = feedCollector
	}
	apiHandler := api.NewHandler(subsApp, outboxRepo, vehicleRepo, pool, runner)

	return &Services{
		Registry:      registry,
		Broadcaster:   broadcaster,
		BroadcastPool: pool,
		WSHandler:     wsHandler,
		Reconciler:    reconciler,
		Collector:     feedCollector,
		API:           apiHandler,
	}
}
