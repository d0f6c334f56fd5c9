package gateway

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Registry tracks live client connections and the per-event-type subscription
// index derived from them. All state is process-local and guarded by one
// mutex, held only for the duration of a lookup or mutation — never across a
// network send. A client id appears in the index for a type iff it has both an
// open connection and a subscribe for that type.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]*ClientConnection
	// subscribers maps event type -> set of client ids
	subscribers map[string]map[string]struct{}
}

// NewRegistry creates an empty connection registry
func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]*ClientConnection),
		subscribers: make(map[string]map[string]struct{}),
	}
}

// Register inserts a connection for clientID with an empty subscription set.
// A second connect under the same client id replaces the prior entry without
// closing its transport; the superseded socket errors out on its next read.
func (r *Registry) Register(clientID string, transport Transport) *ClientConnection {
	conn := &ClientConnection{
		ClientID:    clientID,
		ConnectedAt: time.Now().UTC(),
		transport:   transport,
		eventTypes:  make(map[string]struct{}),
	}

	r.mu.Lock()
	if prev, exists := r.connections[clientID]; exists {
		// Replacement drops the old subscription set too
		for eventType := range prev.eventTypes {
			r.removeFromIndex(eventType, clientID)
		}
		log.Warn().Str("client_id", clientID).Msg("duplicate client id, replacing existing connection")
	}
	r.connections[clientID] = conn
	total := len(r.connections)
	r.mu.Unlock()

	log.Debug().Str("client_id", clientID).Int("total_connections", total).Msg("connection registered")
	return conn
}

// Unregister removes the connection and purges clientID from every index
// entry, atomically with respect to concurrent fan-out reads. Unknown client
// ids are a no-op, so disconnect paths can call this unconditionally.
func (r *Registry) Unregister(clientID string) {
	r.mu.Lock()
	conn, exists := r.connections[clientID]
	if exists {
		for eventType := range conn.eventTypes {
			r.removeFromIndex(eventType, clientID)
		}
		delete(r.connections, clientID)
	}
	r.mu.Unlock()

	if exists {
		log.Info().Str("client_id", clientID).Msg("connection unregistered")
	}
}

// UnregisterConnection removes conn only while it is still the registered
// connection for its client id. The cleanup path of a superseded connection
// therefore never evicts the replacement that took over the client id.
func (r *Registry) UnregisterConnection(conn *ClientConnection) {
	r.mu.Lock()
	current, removed := r.connections[conn.ClientID]
	if removed && current == conn {
		for eventType := range conn.eventTypes {
			r.removeFromIndex(eventType, conn.ClientID)
		}
		delete(r.connections, conn.ClientID)
	} else {
		removed = false
	}
	r.mu.Unlock()

	if removed {
		log.Info().Str("client_id", conn.ClientID).Msg("connection unregistered")
	}
}

// Subscribe adds clientID to the index for each event type. A missing
// connection is logged and ignored rather than treated as an error.
func (r *Registry) Subscribe(clientID string, eventTypes []string) {
	r.mu.Lock()
	conn, exists := r.connections[clientID]
	if exists {
		for _, eventType := range eventTypes {
			if r.subscribers[eventType] == nil {
				r.subscribers[eventType] = make(map[string]struct{})
			}
			r.subscribers[eventType][clientID] = struct{}{}
			conn.eventTypes[eventType] = struct{}{}
		}
	}
	r.mu.Unlock()

	if !exists {
		log.Warn().Str("client_id", clientID).Msg("subscribe for unknown client ignored")
		return
	}
	log.Debug().Str("client_id", clientID).Strs("event_types", eventTypes).Msg("client subscribed")
}

// Unsubscribe removes clientID from the index for each event type. Removing a
// non-member is tolerated.
func (r *Registry) Unsubscribe(clientID string, eventTypes []string) {
	r.mu.Lock()
	conn, exists := r.connections[clientID]
	if exists {
		for _, eventType := range eventTypes {
			r.removeFromIndex(eventType, clientID)
			delete(conn.eventTypes, eventType)
		}
	}
	r.mu.Unlock()

	if !exists {
		log.Warn().Str("client_id", clientID).Msg("unsubscribe for unknown client ignored")
		return
	}
	log.Debug().Str("client_id", clientID).Strs("event_types", eventTypes).Msg("client unsubscribed")
}

// SubscribersOf returns a snapshot of the client ids subscribed to eventType.
// The copy is safe to iterate while other goroutines mutate the registry.
func (r *Registry) SubscribersOf(eventType string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.subscribers[eventType]
	clientIDs := make([]string, 0, len(members))
	for clientID := range members {
		clientIDs = append(clientIDs, clientID)
	}
	return clientIDs
}

// Connection returns the live connection for clientID, or nil
func (r *Registry) Connection(clientID string) *ClientConnection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.connections[clientID]
}

// Stats returns connection counts for the management API
func (r *Registry) Stats() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	perType := make(map[string]int, len(r.subscribers))
	for eventType, members := range r.subscribers {
		perType[eventType] = len(members)
	}

	return map[string]any{
		"total_connections":      len(r.connections),
		"subscribers_per_type":   perType,
		"subscribed_event_types": len(r.subscribers),
	}
}

// removeFromIndex must be called with r.mu held
func (r *Registry) removeFromIndex(eventType, clientID string) {
	members, ok := r.subscribers[eventType]
	if !ok {
		return
	}
	delete(members, clientID)
	if len(members) == 0 {
		delete(r.subscribers, eventType)
	}
}
