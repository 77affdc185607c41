package models

import "time"

type ReadingQuery struct {
	BasinID string
	From    *time.Time
	To      *time.Time
	Limit   int
}

// HasRange reports whether either bound was given.
func (q ReadingQuery) HasRange() bool {
	return q.From != nil || q.To != nil
}

type SeriesRequest struct {
	BasinID string
	Channel string
	Hours   int
}
