package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/ultransit/collector/go/internal/events"
)

// OutboxAppender is the durable write-ahead step of a broadcast
type OutboxAppender interface {
	Append(ctx context.Context, eventType string, payload json.RawMessage) (uuid.UUID, error)
}

// Broadcaster is the entry point for emitting an event: it persists the event
// to the outbox, then fans it out to live connections. Webhook delivery is
// deliberately not done here — the reconciler owns that path, keeping the
// low-latency push independent of slow external endpoints.
type Broadcaster struct {
	outbox   OutboxAppender
	registry *Registry
}

// NewBroadcaster creates a broadcaster over the given outbox and registry
func NewBroadcaster(outbox OutboxAppender, registry *Registry) *Broadcaster {
	return &Broadcaster{
		outbox:   outbox,
		registry: registry,
	}
}

// Broadcast emits one event. The payload is validated at this boundary, then
// appended to the outbox; an append failure is logged but live push still runs
// (such an event only ever reaches currently connected clients — it never
// entered the log, so the webhook path cannot recover it). Returns an error
// only for invalid payloads.
func (b *Broadcaster) Broadcast(ctx context.Context, eventType string, data map[string]any) error {
	if err := events.ValidatePayload(eventType, data); err != nil {
		return err
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if _, err := b.outbox.Append(ctx, eventType, payload); err != nil {
		log.Error().Err(err).Str("event_type", eventType).
			Msg("outbox append failed, event will not reach webhook subscribers")
	}

	message := events.Message{
		EventType: eventType,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}

	// Snapshot first; sends happen outside any registry lock
	subscribers := b.registry.SubscribersOf(eventType)
	delivered := 0
	for _, clientID := range subscribers {
		conn := b.registry.Connection(clientID)
		if conn == nil {
			continue
		}
		if err := conn.Send(message); err != nil {
			// A failed send means the client is gone; clean up and move on.
			// Removal is by identity so a reconnect under the same client id
			// that raced this send is left untouched.
			log.Warn().Err(err).Str("client_id", clientID).Str("event_type", eventType).
				Msg("send failed, dropping connection")
			b.registry.UnregisterConnection(conn)
			_ = conn.Close()
			continue
		}
		delivered++
	}

	log.Debug().Str("event_type", eventType).
		Int("subscribers", len(subscribers)).
		Int("delivered", delivered).
		Msg("event broadcast")

	return nil
}
