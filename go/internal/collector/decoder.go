package collector

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ultransit/collector/go/internal/models"
)

// JSONFeedDecoder decodes the JSON mirror of the vehicle position feed.
type JSONFeedDecoder struct{}

type jsonFeedEntry struct {
	VehicleID string   `json:"vehicle_id"`
	RouteID   string   `json:"route_id"`
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Bearing   *float64 `json:"bearing,omitempty"`
	Speed     *float64 `json:"speed,omitempty"`
	Timestamp int64    `json:"timestamp"`
}

type jsonFeed struct {
	Vehicles []jsonFeedEntry `json:"vehicles"`
}

// Decode parses a feed snapshot into vehicle positions
func (JSONFeedDecoder) Decode(raw []byte) ([]models.VehiclePosition, error) {
	var feed jsonFeed
	if err := json.Unmarshal(raw, &feed); err != nil {
		return nil, fmt.Errorf("malformed feed: %w", err)
	}

	positions := make([]models.VehiclePosition, 0, len(feed.Vehicles))
	for _, entry := range feed.Vehicles {
		if entry.VehicleID == "" {
			continue
		}
		positions = append(positions, models.VehiclePosition{
			VehicleID: entry.VehicleID,
			RouteID:   entry.RouteID,
			Latitude:  entry.Latitude,
			Longitude: entry.Longitude,
			Bearing:   entry.Bearing,
			Speed:     entry.Speed,
			Timestamp: time.Unix(entry.Timestamp, 0).UTC(),
		})
	}

	return positions, nil
}
