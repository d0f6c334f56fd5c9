package models

import (
	"time"

	"github.com/google/uuid"
)

// VehiclePosition is one observed position of a vehicle from the upstream feed.
type VehiclePosition struct {
	ID         uuid.UUID `json:"id"`
	VehicleID  string    `json:"vehicle_id"`
	RouteID    string    `json:"route_id"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Bearing    *float64  `json:"bearing,omitempty"`
	Speed      *float64  `json:"speed,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	RecordedAt time.Time `json:"recorded_at"`
}
