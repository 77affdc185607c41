package repository

import (
	"context"
	"iter"
	"sort"
	"sync"
	"sync/atomic"

	"Evergreen.telemetry/internal/models"
	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map/v2"
)

// series holds one basin's readings sorted by (timestamp, seq).
type series struct {
	lock     sync.RWMutex
	readings []models.StoredReading
}

// MemoryRepository keeps readings in process memory. Nothing survives a restart.
type MemoryRepository struct {
	basins cmap.ConcurrentMap[string, *series]
	seq    atomic.Int64
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		basins: cmap.New[*series](),
	}
}

func (m *MemoryRepository) seriesFor(basinID string) *series {
	return m.basins.Upsert(basinID, nil, func(exist bool, inMap *series, _ *series) *series {
		if exist {
			return inMap
		}
		return &series{}
	})
}

func (m *MemoryRepository) Append(ctx context.Context, reading models.Reading) (models.StoredReading, error) {
	if err := ctx.Err(); err != nil {
		return models.StoredReading{}, unavailable(ctx, "append", err)
	}

	s := m.seriesFor(reading.BasinID)
	s.lock.Lock()
	defer s.lock.Unlock()

	stored := models.StoredReading{
		ID:        uuid.NewString(),
		Seq:       m.seq.Add(1),
		BasinID:   reading.BasinID,
		Timestamp: reading.Timestamp.UTC(),
		Fields:    copyFields(reading.Fields),
	}

	// New records carry the highest seq, so they go after every record with
	// the same or an earlier timestamp.
	idx := sort.Search(len(s.readings), func(i int) bool {
		return s.readings[i].Timestamp.After(stored.Timestamp)
	})
	s.readings = append(s.readings, models.StoredReading{})
	copy(s.readings[idx+1:], s.readings[idx:])
	s.readings[idx] = stored

	return stored, nil
}

func (m *MemoryRepository) QueryByBasin(ctx context.Context, q Query) iter.Seq2[models.StoredReading, error] {
	s, ok := m.basins.Get(q.BasinID)
	if !ok {
		return func(func(models.StoredReading, error) bool) {}
	}

	s.lock.RLock()
	var window []models.StoredReading
	if q.Range != nil {
		lo := sort.Search(len(s.readings), func(i int) bool {
			return !s.readings[i].Timestamp.Before(q.Range.From)
		})
		hi := sort.Search(len(s.readings), func(i int) bool {
			return s.readings[i].Timestamp.After(q.Range.To)
		})
		if lo < hi {
			window = append(window, s.readings[lo:hi]...)
		}
	} else {
		window = make([]models.StoredReading, len(s.readings))
		for i, r := range s.readings {
			window[len(window)-1-i] = r
		}
	}
	s.lock.RUnlock()

	if q.Limit > 0 && len(window) > q.Limit {
		window = window[:q.Limit]
	}

	return func(yield func(models.StoredReading, error) bool) {
		for _, r := range window {
			if err := ctx.Err(); err != nil {
				yield(models.StoredReading{}, unavailable(ctx, "query", err))
				return
			}
			if !yield(r, nil) {
				return
			}
		}
	}
}

func (m *MemoryRepository) Latest(ctx context.Context, basinID string) (models.StoredReading, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.StoredReading{}, false, unavailable(ctx, "latest", err)
	}
	s, ok := m.basins.Get(basinID)
	if !ok {
		return models.StoredReading{}, false, nil
	}
	s.lock.RLock()
	defer s.lock.RUnlock()
	if len(s.readings) == 0 {
		return models.StoredReading{}, false, nil
	}
	return s.readings[len(s.readings)-1], true, nil
}

func (m *MemoryRepository) BasinIDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable(ctx, "basin ids", err)
	}
	ids := m.basins.Keys()
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryRepository) Count(ctx context.Context, basinID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, unavailable(ctx, "count", err)
	}
	s, ok := m.basins.Get(basinID)
	if !ok {
		return 0, nil
	}
	s.lock.RLock()
	defer s.lock.RUnlock()
	return len(s.readings), nil
}

func (m *MemoryRepository) Close() error { return nil }

func copyFields(in models.Fields) models.Fields {
	out := make(models.Fields, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

var _ Repository = (*MemoryRepository)(nil)
