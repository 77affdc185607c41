package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ValueKind tags the type held by a channel Value.
type ValueKind uint8

const (
	KindNumber ValueKind = iota + 1
	KindString
)

// Value is one channel sample: either a number or a string.
type Value struct {
	Kind   ValueKind
	Number float64
	Text   string
}

func NumberValue(f float64) Value { return Value{Kind: KindNumber, Number: f} }

func StringValue(s string) Value { return Value{Kind: KindString, Text: s} }

// Float returns the numeric form of the value. Strings holding a number
// (devices that send "6.52") convert as well.
func (v Value) Float() (float64, bool) {
	switch v.Kind {
	case KindNumber:
		return v.Number, true
	case KindString:
		f, err := strconv.ParseFloat(v.Text, 64)
		return f, err == nil
	}
	return 0, false
}

// Interface returns the value as float64 or string, the shape storage drivers expect.
func (v Value) Interface() any {
	if v.Kind == KindNumber {
		return v.Number
	}
	return v.Text
}

func (v Value) MarshalJSON() ([]byte, error) {
	if v.Kind == KindNumber {
		return json.Marshal(v.Number)
	}
	return json.Marshal(v.Text)
}

// UnmarshalJSON accepts any JSON value. Numbers and strings keep their type;
// booleans, arrays and objects are kept as their JSON text.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty channel value")
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = StringValue(s)
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		f, err := strconv.ParseFloat(string(data), 64)
		if err != nil {
			return err
		}
		*v = NumberValue(f)
	default:
		var compact bytes.Buffer
		if err := json.Compact(&compact, data); err != nil {
			return err
		}
		*v = StringValue(compact.String())
	}
	return nil
}

// Fields maps a channel name (airTemp, soilPH, status, ...) to its value.
type Fields map[string]Value

// Reading is one telemetry sample for a basin.
type Reading struct {
	BasinID   string
	Timestamp time.Time
	Fields    Fields
}

// StoredReading is a Reading after the store accepted it. Seq is the store's
// insertion sequence and orders readings that share a timestamp.
type StoredReading struct {
	ID        string    `json:"id"`
	Seq       int64     `json:"seq"`
	BasinID   string    `json:"basinId"`
	Timestamp time.Time `json:"timestamp"`
	Fields    Fields    `json:"fields"`
}

// Before reports whether r sorts before o in chronological order.
func (r StoredReading) Before(o StoredReading) bool {
	if r.Timestamp.Equal(o.Timestamp) {
		return r.Seq < o.Seq
	}
	return r.Timestamp.Before(o.Timestamp)
}
