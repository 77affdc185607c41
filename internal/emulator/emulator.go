package emulator

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

// Payload is one simulated basin sample.
type Payload map[string]any

// Emulator posts simulated readings to the backend.
type Emulator struct {
	client *resty.Client
	rng    *rand.Rand
	logger zerolog.Logger
}

func New(backendURL string, logger zerolog.Logger) *Emulator {
	client := resty.New().
		SetBaseURL(backendURL).
		SetHeader("Content-Type", "application/json").
		SetTimeout(10 * time.Second)
	return &Emulator{
		client: client,
		rng:    rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
		logger: logger.With().Str("component", "emulator").Logger(),
	}
}

// Generate builds a full sensor payload. soilPH is sent as a two-decimal string.
func (e *Emulator) Generate(basinID string, now time.Time) Payload {
	return Payload{
		"basinId":      basinID,
		"timestamp":    now.UTC().Format(time.RFC3339Nano),
		"airTemp":      e.rng.IntN(10) + 20,
		"humidity":     e.rng.IntN(40) + 40,
		"soilTemp":     e.rng.IntN(10) + 15,
		"soilMoisture": e.rng.IntN(100),
		"soilEC":       e.rng.IntN(201),
		"soilPH":       strconv.FormatFloat(e.rng.Float64()*2+5, 'f', 2, 64),
		"soilN":        e.rng.IntN(30),
		"soilP":        e.rng.IntN(30),
		"soilK":        e.rng.IntN(30),
		"co2Level":     e.rng.IntN(100) + 400,
		"lux":          e.rng.IntN(1000),
		"status":       "ok",
	}
}

// Send posts one payload and returns the stored reading id.
func (e *Emulator) Send(ctx context.Context, p Payload) (string, error) {
	var created struct {
		ID string `json:"id"`
	}
	resp, err := e.client.R().
		SetContext(ctx).
		SetBody(p).
		SetResult(&created).
		Post("/readings")
	if err != nil {
		return "", fmt.Errorf("post reading: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("post reading: backend answered %s: %s", resp.Status(), resp.String())
	}
	return created.ID, nil
}

// Run sends one reading per basin every interval until ctx is done.
func (e *Emulator) Run(ctx context.Context, basinIDs []string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.logger.Info().Strs("basins", basinIDs).Dur("interval", interval).Msg("emulator started")
	for {
		e.tick(ctx, basinIDs)
		select {
		case <-ctx.Done():
			e.logger.Info().Msg("emulator stopped")
			return
		case <-ticker.C:
		}
	}
}

func (e *Emulator) tick(ctx context.Context, basinIDs []string) {
	for _, id := range basinIDs {
		readingID, err := e.Send(ctx, e.Generate(id, time.Now()))
		if err != nil {
			e.logger.Warn().Err(err).Str("basin_id", id).Msg("send failed")
			continue
		}
		e.logger.Debug().Str("basin_id", id).Str("reading_id", readingID).Msg("reading sent")
	}
}
