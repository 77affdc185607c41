package repository

import (
	"context"
	"iter"
	"time"

	"Evergreen.telemetry/internal/metrics"
	"Evergreen.telemetry/internal/models"
)

// Instrumented reports the latency and failures of every store call.
type Instrumented struct {
	Repository
	rec metrics.Recorder
}

func NewInstrumented(repo Repository, rec metrics.Recorder) *Instrumented {
	return &Instrumented{Repository: repo, rec: rec}
}

func (i *Instrumented) observe(op string, start time.Time, err error) {
	i.rec.ObserveStoreLatency(op, time.Since(start).Seconds(), err)
}

func (i *Instrumented) Append(ctx context.Context, reading models.Reading) (models.StoredReading, error) {
	start := time.Now()
	r, err := i.Repository.Append(ctx, reading)
	i.observe("append", start, err)
	return r, err
}

func (i *Instrumented) QueryByBasin(ctx context.Context, q Query) iter.Seq2[models.StoredReading, error] {
	inner := i.Repository.QueryByBasin(ctx, q)
	return func(yield func(models.StoredReading, error) bool) {
		start := time.Now()
		var failure error
		defer func() { i.observe("query", start, failure) }()
		for r, err := range inner {
			if err != nil {
				failure = err
			}
			if !yield(r, err) {
				return
			}
		}
	}
}

func (i *Instrumented) Latest(ctx context.Context, basinID string) (models.StoredReading, bool, error) {
	start := time.Now()
	r, ok, err := i.Repository.Latest(ctx, basinID)
	i.observe("latest", start, err)
	return r, ok, err
}

func (i *Instrumented) BasinIDs(ctx context.Context) ([]string, error) {
	start := time.Now()
	ids, err := i.Repository.BasinIDs(ctx)
	i.observe("basin_ids", start, err)
	return ids, err
}

func (i *Instrumented) Count(ctx context.Context, basinID string) (int, error) {
	start := time.Now()
	n, err := i.Repository.Count(ctx, basinID)
	i.observe("count", start, err)
	return n, err
}

var _ Repository = (*Instrumented)(nil)
