package service

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"Evergreen.telemetry/internal/directory"
	"Evergreen.telemetry/internal/metrics"
	"Evergreen.telemetry/internal/models"
	"Evergreen.telemetry/internal/repository"
	"github.com/rs/zerolog"
)

const (
	TransportHTTP = "http"
	TransportMQTT = "mqtt"
)

// IngestRequest is one reading submission as received from a device.
type IngestRequest struct {
	Body []byte
	// BasinID is used when the body carries no basinId.
	BasinID   string
	Transport string
}

// DataService handles ingestion and the latest-state and range queries.
type DataService struct {
	repo      repository.Repository
	access    *AccessFilter
	dir       *directory.Directory
	freshness time.Duration
	metrics   metrics.Recorder
	logger    zerolog.Logger
	now       func() time.Time
}

// NewDataService creates a new DataService.
func NewDataService(repo repository.Repository, dir *directory.Directory, freshness time.Duration, rec metrics.Recorder, logger zerolog.Logger) *DataService {
	if freshness <= 0 {
		freshness = DefaultFreshness
	}
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &DataService{
		repo:      repo,
		access:    NewAccessFilter(repo, dir),
		dir:       dir,
		freshness: freshness,
		metrics:   rec,
		logger:    logger.With().Str("component", "data_service").Logger(),
		now:       time.Now,
	}
}

func (s *DataService) Access() *AccessFilter {
	return s.access
}

// Ingest validates a submission and appends exactly one record. Retransmitted
// samples are stored again; there is no deduplication.
func (s *DataService) Ingest(ctx context.Context, req IngestRequest) (models.StoredReading, error) {
	transport := req.Transport
	if transport == "" {
		transport = TransportHTTP
	}

	reading, err := DecodeReading(req.Body, req.BasinID, s.now())
	if err != nil {
		s.metrics.IngestRejected(transport, string(models.ErrorCodeMalformedPayload))
		return models.StoredReading{}, err
	}

	stored, err := s.repo.Append(ctx, reading)
	if err != nil {
		s.metrics.IngestRejected(transport, string(models.ErrorCodeStorageUnavailable))
		s.logger.Error().Err(err).Str("basin_id", reading.BasinID).Str("transport", transport).Msg("append failed")
		return models.StoredReading{}, fmt.Errorf("append reading: %w", err)
	}

	s.metrics.ReadingIngested(transport)
	s.logger.Debug().
		Str("basin_id", stored.BasinID).
		Str("reading_id", stored.ID).
		Time("timestamp", stored.Timestamp).
		Int("channels", len(stored.Fields)).
		Msg("reading stored")
	return stored, nil
}

// Latest returns the newest reading of a basin with its derived status.
// A basin that never reported yields ErrNoData.
func (s *DataService) Latest(ctx context.Context, user models.User, basinID string) (models.LatestState, error) {
	if basinID == "" {
		return models.LatestState{}, fmt.Errorf("%w: basinId is required", models.ErrInvalidRequest)
	}
	if err := s.access.Authorize(ctx, user, basinID); err != nil {
		return models.LatestState{}, err
	}

	r, ok, err := s.repo.Latest(ctx, basinID)
	if err != nil {
		return models.LatestState{}, fmt.Errorf("latest reading: %w", err)
	}
	if !ok {
		return models.LatestState{}, fmt.Errorf("%w: %q", models.ErrNoData, basinID)
	}
	return models.LatestState{
		StoredReading: r,
		Status:        Status(s.now(), r.Timestamp, s.freshness),
	}, nil
}

// Range streams the readings of a basin within [from, to], oldest first.
func (s *DataService) Range(ctx context.Context, user models.User, basinID string, from, to time.Time, limit int) (iter.Seq2[models.StoredReading, error], error) {
	return s.Readings(ctx, user, models.ReadingQuery{BasinID: basinID, From: &from, To: &to, Limit: limit})
}

// Readings answers GET /readings. With a time bound the result is ascending,
// otherwise newest first. Without a basin every visible basin is merged in.
// Access and range errors are returned before any reading is produced.
func (s *DataService) Readings(ctx context.Context, user models.User, q models.ReadingQuery) (iter.Seq2[models.StoredReading, error], error) {
	if q.Limit < 0 {
		return nil, fmt.Errorf("%w: limit must be positive", models.ErrInvalidRequest)
	}

	var rng *repository.TimeRange
	empty := false
	if q.HasRange() {
		rng = &repository.TimeRange{From: minTimestamp, To: maxTimestamp}
		if q.From != nil {
			rng.From = q.From.UTC()
		}
		if q.To != nil {
			rng.To = q.To.UTC()
		}
		if rng.From.After(rng.To) {
			return nil, fmt.Errorf("%w: from %s is after to %s", models.ErrInvalidRange,
				rng.From.Format(time.RFC3339Nano), rng.To.Format(time.RFC3339Nano))
		}
		empty = !clampRange(rng)
	}

	if q.BasinID != "" {
		if err := s.access.Authorize(ctx, user, q.BasinID); err != nil {
			return nil, err
		}
		if empty {
			return noReadings, nil
		}
		return s.repo.QueryByBasin(ctx, repository.Query{BasinID: q.BasinID, Range: rng, Limit: q.Limit}), nil
	}

	visible, err := s.access.VisibleBasinIDs(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("visible basins: %w", err)
	}
	if empty {
		return noReadings, nil
	}
	ids := sortedIDs(visible)
	streams := make([]iter.Seq2[models.StoredReading, error], 0, len(ids))
	for _, id := range ids {
		streams = append(streams, s.repo.QueryByBasin(ctx, repository.Query{BasinID: id, Range: rng, Limit: q.Limit}))
	}
	return mergeStreams(streams, rng != nil, q.Limit), nil
}

func noReadings(func(models.StoredReading, error) bool) {}

// clampRange narrows rng to the timestamps a reading can carry. It reports
// false when rng lies entirely outside them.
func clampRange(rng *repository.TimeRange) bool {
	if rng.To.Before(minTimestamp) || rng.From.After(maxTimestamp) {
		return false
	}
	if rng.From.Before(minTimestamp) {
		rng.From = minTimestamp
	}
	if rng.To.After(maxTimestamp) {
		rng.To = maxTimestamp
	}
	return true
}

type streamHead struct {
	next func() (models.StoredReading, error, bool)
	stop func()
	cur  models.StoredReading
	ok   bool
}

func (h *streamHead) advance() error {
	r, err, ok := h.next()
	h.ok = ok && err == nil
	if err != nil {
		return err
	}
	h.cur = r
	return nil
}

// mergeStreams interleaves per-basin streams that are each already ordered.
func mergeStreams(streams []iter.Seq2[models.StoredReading, error], ascending bool, limit int) iter.Seq2[models.StoredReading, error] {
	if len(streams) == 1 {
		return streams[0]
	}
	return func(yield func(models.StoredReading, error) bool) {
		heads := make([]*streamHead, 0, len(streams))
		defer func() {
			for _, h := range heads {
				h.stop()
			}
		}()

		for _, s := range streams {
			next, stop := iter.Pull2(s)
			h := &streamHead{next: next, stop: stop}
			heads = append(heads, h)
			if err := h.advance(); err != nil {
				yield(models.StoredReading{}, err)
				return
			}
		}

		for emitted := 0; limit <= 0 || emitted < limit; emitted++ {
			var best *streamHead
			for _, h := range heads {
				if !h.ok {
					continue
				}
				if best == nil || h.cur.Before(best.cur) == ascending {
					best = h
				}
			}
			if best == nil {
				return
			}
			if !yield(best.cur, nil) {
				return
			}
			if err := best.advance(); err != nil {
				yield(models.StoredReading{}, err)
				return
			}
		}
	}
}

// IsClientError reports whether err was caused by the request rather than the server.
func IsClientError(err error) bool {
	for _, target := range []error{
		models.ErrMalformedPayload,
		models.ErrInvalidRange,
		models.ErrInvalidRequest,
		models.ErrAccessDenied,
		models.ErrNoData,
		models.ErrNotFound,
		models.ErrDuplicate,
		models.ErrUnknownUser,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
