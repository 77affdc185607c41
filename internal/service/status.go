package service

import (
	"time"

	"Evergreen.telemetry/internal/models"
)

const DefaultFreshness = 60 * time.Second

// Status is the single definition of whether a basin is online: its latest
// reading is no older than the freshness window.
func Status(now, latest time.Time, freshness time.Duration) models.BasinStatus {
	if now.Sub(latest) <= freshness {
		return models.StatusOnline
	}
	return models.StatusOffline
}
