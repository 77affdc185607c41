package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"Evergreen.telemetry/internal/models"
)

const (
	keyBasinID   = "basinId"
	keyTimestamp = "timestamp"
)

// Bounds of a timestamp the stores can represent as int64 nanoseconds.
var (
	minTimestamp = time.Date(1678, 1, 1, 0, 0, 0, 0, time.UTC)
	maxTimestamp = time.Date(2262, 1, 1, 0, 0, 0, 0, time.UTC)
)

// Layouts accepted for string timestamps, tried in order. Zone-less forms are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02T15:04:05.999999999Z07",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999Z0700",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// DecodeReading turns a device payload into a Reading. The body must be a JSON
// object; basinId and timestamp are lifted out and every other key becomes a
// channel. fallbackBasinID is used when the body has no basinId. now is the
// timestamp of readings that carry none.
func DecodeReading(body []byte, fallbackBasinID string, now time.Time) (models.Reading, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return models.Reading{}, fmt.Errorf("%w: body must be a JSON object", models.ErrMalformedPayload)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return models.Reading{}, fmt.Errorf("%w: %v", models.ErrMalformedPayload, err)
	}

	basinID := fallbackBasinID
	if v, ok := raw[keyBasinID]; ok {
		delete(raw, keyBasinID)
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return models.Reading{}, fmt.Errorf("%w: basinId must be a string", models.ErrMalformedPayload)
		}
		if strings.TrimSpace(s) != "" {
			basinID = s
		}
	}
	basinID = strings.TrimSpace(basinID)
	if basinID == "" {
		return models.Reading{}, fmt.Errorf("%w: basinId is required", models.ErrMalformedPayload)
	}

	ts := now
	if v, ok := raw[keyTimestamp]; ok {
		delete(raw, keyTimestamp)
		parsed, present, err := parseTimestamp(v)
		if err != nil {
			return models.Reading{}, fmt.Errorf("%w: timestamp: %v", models.ErrMalformedPayload, err)
		}
		if present {
			ts = parsed
		}
	}

	fields := make(models.Fields, len(raw))
	for k, v := range raw {
		if isNull(v) {
			continue
		}
		var val models.Value
		if err := json.Unmarshal(v, &val); err != nil {
			return models.Reading{}, fmt.Errorf("%w: channel %q: %v", models.ErrMalformedPayload, k, err)
		}
		fields[k] = val
	}

	return models.Reading{
		BasinID:   basinID,
		Timestamp: ts.UTC(),
		Fields:    fields,
	}, nil
}

// parseTimestamp accepts ISO-8601 strings, epoch milliseconds as a number, or
// epoch milliseconds as a digit string. present is false for null or "".
func parseTimestamp(raw json.RawMessage) (ts time.Time, present bool, err error) {
	if isNull(raw) {
		return time.Time{}, false, nil
	}

	var s string
	if json.Unmarshal(raw, &s) == nil {
		s = strings.TrimSpace(s)
		if s == "" {
			return time.Time{}, false, nil
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			return checkBounds(time.UnixMilli(ms).UTC())
		}
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return checkBounds(t.UTC())
			}
		}
		return time.Time{}, false, fmt.Errorf("unrecognised time %q", s)
	}

	var ms float64
	if err := json.Unmarshal(raw, &ms); err != nil {
		return time.Time{}, false, fmt.Errorf("must be an ISO-8601 string or epoch milliseconds")
	}
	if math.IsNaN(ms) || math.IsInf(ms, 0) || math.Abs(ms) > float64(math.MaxInt64/int64(time.Millisecond)) {
		return time.Time{}, false, fmt.Errorf("out of range")
	}
	whole, frac := math.Modf(ms)
	return checkBounds(time.UnixMilli(int64(whole)).Add(time.Duration(frac * float64(time.Millisecond))).UTC())
}

func checkBounds(t time.Time) (time.Time, bool, error) {
	if t.Before(minTimestamp) || t.After(maxTimestamp) {
		return time.Time{}, false, fmt.Errorf("%s is out of range", t.Format(time.RFC3339))
	}
	return t, true, nil
}

func isNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}
