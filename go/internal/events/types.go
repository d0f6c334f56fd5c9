package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType identifies a kind of domain event.
type EventType string

const (
	EventTypeVehiclePositionUpdate  EventType = "vehicle_position_update"
	EventTypeVehicleRouteChange     EventType = "vehicle_route_change"
	EventTypeDataCollectionStart    EventType = "data_collection_start"
	EventTypeDataCollectionComplete EventType = "data_collection_complete"
	EventTypeDataCollectionError    EventType = "data_collection_error"
)

// TypeInfo describes one entry of the event-type catalog exposed by the
// management API.
type TypeInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Catalog returns the fixed set of known event types.
func Catalog() []TypeInfo {
	return []TypeInfo{
		{Name: string(EventTypeVehiclePositionUpdate), Description: "Triggered when a vehicle position is updated"},
		{Name: string(EventTypeVehicleRouteChange), Description: "Triggered when a vehicle changes its route"},
		{Name: string(EventTypeDataCollectionStart), Description: "Triggered to start a new data collection cycle"},
		{Name: string(EventTypeDataCollectionComplete), Description: "Triggered when a data collection cycle is complete"},
		{Name: string(EventTypeDataCollectionError), Description: "Triggered when a data collection cycle fails"},
	}
}

// IsKnown reports whether name is part of the catalog.
func IsKnown(name string) bool {
	switch EventType(name) {
	case EventTypeVehiclePositionUpdate,
		EventTypeVehicleRouteChange,
		EventTypeDataCollectionStart,
		EventTypeDataCollectionComplete,
		EventTypeDataCollectionError:
		return true
	}
	return false
}

// requiredKeys lists payload keys that must be present per event type.
// Payloads are otherwise opaque key/value maps.
var requiredKeys = map[EventType][]string{
	EventTypeVehiclePositionUpdate: {"vehicle_id"},
	EventTypeVehicleRouteChange:    {"vehicle_id"},
}

// ValidatePayload checks an event payload at the broadcast boundary.
func ValidatePayload(eventType string, data map[string]any) error {
	if data == nil {
		return fmt.Errorf("event %s: payload must not be nil", eventType)
	}
	for _, key := range requiredKeys[EventType(eventType)] {
		if _, ok := data[key]; !ok {
			return fmt.Errorf("event %s: payload missing required key %q", eventType, key)
		}
	}
	return nil
}

// Message is the envelope pushed to live WebSocket subscribers.
type Message struct {
	EventType string         `json:"event_type"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

// Notification is the envelope POSTed to webhook subscribers.
type Notification struct {
	EventType      string          `json:"event_type"`
	Data           json.RawMessage `json:"data"`
	Timestamp      time.Time       `json:"timestamp"`
	SubscriptionID uuid.UUID       `json:"subscription_id"`
}
