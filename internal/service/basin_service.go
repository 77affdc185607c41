package service

import (
	"context"
	"fmt"
	"time"

	"Evergreen.telemetry/internal/models"
	"Evergreen.telemetry/internal/repository"
)

const (
	DefaultSeriesHours = 24
	MaxSeriesHours     = 24 * 366
)

// Overview lists every basin visible to the user with its current state.
func (s *DataService) Overview(ctx context.Context, user models.User) ([]models.BasinOverview, error) {
	visible, err := s.access.VisibleBasinIDs(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("visible basins: %w", err)
	}

	out := make([]models.BasinOverview, 0, len(visible))
	for _, id := range sortedIDs(visible) {
		o, err := s.overview(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

// Basin returns the current state of one basin. Basins that neither reported
// nor appear in the directory are ErrNotFound.
func (s *DataService) Basin(ctx context.Context, user models.User, basinID string) (models.BasinOverview, error) {
	if err := s.access.Authorize(ctx, user, basinID); err != nil {
		return models.BasinOverview{}, err
	}
	known, err := s.access.KnownBasinIDs(ctx)
	if err != nil {
		return models.BasinOverview{}, fmt.Errorf("known basins: %w", err)
	}
	if !known.Has(basinID) {
		return models.BasinOverview{}, fmt.Errorf("%w: basin %q", models.ErrNotFound, basinID)
	}
	return s.overview(ctx, basinID)
}

func (s *DataService) overview(ctx context.Context, basinID string) (models.BasinOverview, error) {
	meta, ok := s.dir.Basin(basinID)
	if !ok {
		meta = models.Basin{ID: basinID, Name: basinID}
	}
	o := models.BasinOverview{Basin: meta, Status: models.StatusOffline}

	r, ok, err := s.repo.Latest(ctx, basinID)
	if err != nil {
		return models.BasinOverview{}, fmt.Errorf("latest reading of %q: %w", basinID, err)
	}
	if ok {
		ts := r.Timestamp
		o.LastUpdate = &ts
		o.ReadingID = r.ID
		o.Telemetry = r.Fields
		o.Status = Status(s.now(), r.Timestamp, s.freshness)
	}
	return o, nil
}

// Series returns one channel of a basin over the last req.Hours hours, oldest
// first. Samples whose value is not numeric are skipped.
func (s *DataService) Series(ctx context.Context, user models.User, req models.SeriesRequest) ([]models.DataPoint, error) {
	if req.Channel == "" {
		return nil, fmt.Errorf("%w: channel is required", models.ErrInvalidRequest)
	}
	hours := req.Hours
	if hours == 0 {
		hours = DefaultSeriesHours
	}
	if hours < 0 || hours > MaxSeriesHours {
		return nil, fmt.Errorf("%w: hours must be between 1 and %d", models.ErrInvalidRequest, MaxSeriesHours)
	}
	if err := s.access.Authorize(ctx, user, req.BasinID); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	q := repository.Query{
		BasinID: req.BasinID,
		Range:   &repository.TimeRange{From: now.Add(-time.Duration(hours) * time.Hour), To: now},
	}

	points := []models.DataPoint{}
	if !clampRange(q.Range) {
		return points, nil
	}
	for r, err := range s.repo.QueryByBasin(ctx, q) {
		if err != nil {
			return nil, fmt.Errorf("series of %q: %w", req.BasinID, err)
		}
		v, ok := r.Fields[req.Channel]
		if !ok {
			continue
		}
		f, ok := v.Float()
		if !ok {
			continue
		}
		points = append(points, models.DataPoint{Timestamp: r.Timestamp, Value: f, Key: req.Channel})
	}
	return points, nil
}
