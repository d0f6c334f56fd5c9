package models

import (
	"time"

	"github.com/google/uuid"
)

// Subscription represents a webhook registration for a single event type.
// Events of that type are POSTed to CallbackURL while IsActive is true.
type Subscription struct {
	ID          uuid.UUID `json:"id"`
	ClientID    string    `json:"client_id"`
	EventType   string    `json:"event_type"`
	CallbackURL string    `json:"callback_url"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
