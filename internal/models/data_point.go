package models

import "time"

// DataPoint is one sample of a single channel, used for charting.
type DataPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	Key       string    `json:"key"`
}
