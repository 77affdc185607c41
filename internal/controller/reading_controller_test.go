package controller

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"Evergreen.telemetry/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readings(n int, failAt int) func(yield func(models.StoredReading, error) bool) {
	return func(yield func(models.StoredReading, error) bool) {
		for i := 0; i < n; i++ {
			if i == failAt {
				yield(models.StoredReading{}, models.ErrStorageUnavailable)
				return
			}
			r := models.StoredReading{ID: "r", Seq: int64(i + 1), BasinID: "basin-03", Timestamp: time.Unix(int64(i), 0).UTC(), Fields: models.Fields{}}
			if !yield(r, nil) {
				return
			}
		}
	}
}

func TestStreamWritesArray(t *testing.T) {
	c := NewReadingController(nil, zerolog.Nop())

	rec := httptest.NewRecorder()
	c.stream(rec, readings(flushEvery+3, -1))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, rec.Flushed)
	assert.Equal(t, flushEvery+3, strings.Count(rec.Body.String(), `"basinId"`))
	assert.True(t, strings.HasSuffix(rec.Body.String(), "]\n"))

	rec = httptest.NewRecorder()
	c.stream(rec, readings(0, -1))
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestStreamErrorBeforeFirstRecord(t *testing.T) {
	c := NewReadingController(nil, zerolog.Nop())
	rec := httptest.NewRecorder()
	c.stream(rec, readings(3, 0))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStreamErrorMidway(t *testing.T) {
	c := NewReadingController(nil, zerolog.Nop())
	rec := httptest.NewRecorder()
	c.stream(rec, readings(5, 2))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, strings.HasSuffix(strings.TrimSpace(rec.Body.String()), "]"))
}

func TestParseTimeParam(t *testing.T) {
	ts, err := parseTimeParam("")
	require.NoError(t, err)
	assert.Nil(t, ts)

	ts, err = parseTimeParam("2024-01-01T01:00:00+01:00")
	require.NoError(t, err)
	assert.True(t, ts.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))

	ts, err = parseTimeParam("1704067200000")
	require.NoError(t, err)
	assert.True(t, ts.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))

	_, err = parseTimeParam("noon")
	assert.Error(t, err)
}

func TestParseReadingQueryLimit(t *testing.T) {
	for raw, wantErr := range map[string]bool{"10": false, "0": false, "-1": true, "ten": true} {
		req := httptest.NewRequest(http.MethodGet, "/readings?limit="+raw, nil)
		_, err := parseReadingQuery(req)
		if wantErr {
			assert.True(t, errors.Is(err, models.ErrInvalidRequest), raw)
		} else {
			assert.NoError(t, err, raw)
		}
	}
}
