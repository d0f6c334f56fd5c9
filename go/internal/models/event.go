package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventRecord is a durable outbox entry for an emitted event.
// Processed starts false and flips to true exactly once, after a full
// delivery attempt cycle; it never reverts.
type EventRecord struct {
	ID          uuid.UUID       `json:"id"`
	EventType   string          `json:"event_type"`
	Payload     json.RawMessage `json:"payload"`
	Processed   bool            `json:"processed"`
	CreatedAt   time.Time       `json:"created_at"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty"`
}
