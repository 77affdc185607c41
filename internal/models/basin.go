package models

import "time"

// Basin holds descriptive metadata for a growing unit.
type Basin struct {
	ID             string `json:"id" yaml:"id"`
	Name           string `json:"name" yaml:"name"`
	NetworkAddress string `json:"networkAddress" yaml:"network_address"`
}

type BasinStatus string

const (
	StatusOnline  BasinStatus = "online"
	StatusOffline BasinStatus = "offline"
)

// BasinOverview is the current state of one basin as shown on the dashboard.
// LastUpdate and Telemetry are nil when the basin has never reported.
type BasinOverview struct {
	Basin
	Status     BasinStatus `json:"status"`
	LastUpdate *time.Time  `json:"lastUpdate"`
	ReadingID  string      `json:"readingId,omitempty"`
	Telemetry  Fields      `json:"telemetry"`
}

// LatestState is the latest reading of a basin together with its derived status.
type LatestState struct {
	StoredReading
	Status BasinStatus `json:"status"`
}
