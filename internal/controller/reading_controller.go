package controller

import (
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strconv"
	"strings"
	"time"

	"Evergreen.telemetry/internal/middleware"
	"Evergreen.telemetry/internal/models"
	"Evergreen.telemetry/internal/service"
	"Evergreen.telemetry/internal/utils"
	"github.com/rs/zerolog"
)

const (
	// BasinHeader names the basin when the payload itself does not.
	BasinHeader = "X-Basin-Id"

	maxBodyBytes = 1 << 20
	flushEvery   = 64
)

// ReadingController handles HTTP requests for basin readings.
type ReadingController struct {
	service *service.DataService
	logger  zerolog.Logger
}

// NewReadingController creates a new ReadingController.
func NewReadingController(service *service.DataService, logger zerolog.Logger) *ReadingController {
	return &ReadingController{
		service: service,
		logger:  logger.With().Str("component", "reading_controller").Logger(),
	}
}

// HandleIngest stores one reading posted by a basin.
func (c *ReadingController) HandleIngest(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		utils.RespondWithServiceError(w, fmt.Errorf("%w: reading body: %v", models.ErrMalformedPayload, err))
		return
	}

	stored, err := c.service.Ingest(r.Context(), service.IngestRequest{
		Body:      body,
		BasinID:   strings.TrimSpace(r.Header.Get(BasinHeader)),
		Transport: service.TransportHTTP,
	})
	if err != nil {
		utils.RespondWithServiceError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusCreated, stored)
}

// HandleQuery streams readings as a JSON array.
func (c *ReadingController) HandleQuery(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		utils.RespondWithServiceError(w, models.ErrUnknownUser)
		return
	}

	q, err := parseReadingQuery(r)
	if err != nil {
		utils.RespondWithServiceError(w, err)
		return
	}

	seq, err := c.service.Readings(r.Context(), user, q)
	if err != nil {
		utils.RespondWithServiceError(w, err)
		return
	}
	c.stream(w, seq)
}

// stream writes seq as a JSON array. A failure before the first record is
// answered with an error body; later failures can only end the response.
func (c *ReadingController) stream(w http.ResponseWriter, seq iter.Seq2[models.StoredReading, error]) {
	next, stop := iter.Pull2(seq)
	defer stop()

	first, err, ok := next()
	if err != nil {
		utils.RespondWithServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)

	if _, err := io.WriteString(w, "["); err != nil {
		return
	}
	for n := 0; ok; n++ {
		if n > 0 {
			if _, err := io.WriteString(w, ","); err != nil {
				return
			}
		}
		if err := enc.Encode(first); err != nil {
			c.logger.Warn().Err(err).Msg("writing reading stream")
			return
		}
		if flusher != nil && n%flushEvery == flushEvery-1 {
			flusher.Flush()
		}

		first, err, ok = next()
		if err != nil {
			c.logger.Error().Err(err).Int("written", n+1).Msg("reading stream aborted")
			return
		}
	}
	_, _ = io.WriteString(w, "]\n")
}

// HandleLatest returns the newest reading of a basin with its status.
func (c *ReadingController) HandleLatest(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		utils.RespondWithServiceError(w, models.ErrUnknownUser)
		return
	}

	basinID := r.URL.Query().Get("basinId")
	if basinID == "" {
		apiErr := models.NewAPIError(models.ErrorCodeMissingParameter, "basinId is required", nil, http.StatusBadRequest)
		utils.RespondWithError(w, apiErr)
		return
	}

	latest, err := c.service.Latest(r.Context(), user, basinID)
	if err != nil {
		utils.RespondWithServiceError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, latest)
}

func parseReadingQuery(r *http.Request) (models.ReadingQuery, error) {
	query := r.URL.Query()
	q := models.ReadingQuery{BasinID: query.Get("basinId")}

	var err error
	if q.From, err = parseTimeParam(query.Get("from")); err != nil {
		return q, fmt.Errorf("%w: from: %v", models.ErrInvalidRequest, err)
	}
	if q.To, err = parseTimeParam(query.Get("to")); err != nil {
		return q, fmt.Errorf("%w: to: %v", models.ErrInvalidRequest, err)
	}
	if raw := query.Get("limit"); raw != "" {
		if q.Limit, err = strconv.Atoi(raw); err != nil || q.Limit < 0 {
			return q, fmt.Errorf("%w: limit must be a non-negative integer", models.ErrInvalidRequest)
		}
	}
	return q, nil
}

// parseTimeParam accepts RFC 3339 or epoch milliseconds. Empty means unset.
func parseTimeParam(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return &t, nil
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%q is neither RFC 3339 nor epoch milliseconds", raw)
	}
	t := time.UnixMilli(ms).UTC()
	return &t, nil
}
