package repository

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"math"
	"time"

	"Evergreen.telemetry/internal/models"
)

// TimeRange is a closed interval [From, To].
type TimeRange struct {
	From time.Time
	To   time.Time
}

func (r TimeRange) Contains(ts time.Time) bool {
	return !ts.Before(r.From) && !ts.After(r.To)
}

// Query selects readings of one basin. Without a Range the newest readings
// come first; with a Range readings are returned oldest first.
type Query struct {
	BasinID string
	Range   *TimeRange
	Limit   int
}

// Repository is the append-only telemetry record store.
type Repository interface {
	// Append persists a new record. It never merges with or overwrites an
	// existing record, even one with the same basin and timestamp.
	Append(ctx context.Context, reading models.Reading) (models.StoredReading, error)
	// QueryByBasin streams matching readings. An empty result is not an error.
	QueryByBasin(ctx context.Context, q Query) iter.Seq2[models.StoredReading, error]
	// Latest returns the reading with the greatest timestamp, the most recently
	// appended one on ties. ok is false when the basin has no readings.
	Latest(ctx context.Context, basinID string) (reading models.StoredReading, ok bool, err error)
	// BasinIDs lists every basin that has at least one reading.
	BasinIDs(ctx context.Context) ([]string, error)
	Count(ctx context.Context, basinID string) (int, error)
	Close() error
}

const DefaultTimeout = 5 * time.Second

// DefaultPageSize bounds how many rows a streaming query holds in memory.
const DefaultPageSize = 500

var (
	minUnixNano = time.Unix(0, math.MinInt64)
	maxUnixNano = time.Unix(0, math.MaxInt64)
)

// unixNano saturates instead of wrapping for times outside the int64 range.
func unixNano(t time.Time) int64 {
	switch {
	case t.Before(minUnixNano):
		return math.MinInt64
	case t.After(maxUnixNano):
		return math.MaxInt64
	}
	return t.UnixNano()
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = DefaultTimeout
	}
	return context.WithTimeout(ctx, d)
}

// unavailable marks err as a storage failure unless the caller itself gave up.
func unavailable(ctx context.Context, op string, err error) error {
	if errors.Is(err, models.ErrStorageUnavailable) {
		return err
	}
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, models.ErrStorageUnavailable, err)
}

// Collect drains a query into a slice, stopping at the first error.
func Collect(seq iter.Seq2[models.StoredReading, error]) ([]models.StoredReading, error) {
	out := []models.StoredReading{}
	for r, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}
