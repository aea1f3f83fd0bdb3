package decoder

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/benmeehan/geotrack/internal/models"
)

// Timestamps are kept at millisecond precision within years 1 to 9999,
// which every store backend and the RFC 3339 wire format can represent.
var (
	minTimestamp = time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC)
	maxTimestamp = time.Date(9999, 12, 31, 23, 59, 59, 999_000_000, time.UTC)
)

// maxEpochMillis bounds numeric timestamps before conversion.
const maxEpochMillis = 8.64e15

// wireMessage mirrors the JSON published on the device location topic.
// Pointers distinguish absent keys from zero values.
type wireMessage struct {
	DeviceID  *string         `json:"deviceId"`
	Latitude  *float64        `json:"latitude"`
	Longitude *float64        `json:"longitude"`
	Timestamp json.RawMessage `json:"timestamp"`
	User      json.RawMessage `json:"user"`
}

// Decode parses one location payload. A missing, unreadable or
// unrepresentable timestamp is replaced by receivedAt. Timestamps are
// truncated to milliseconds.
func Decode(raw []byte, receivedAt time.Time) (models.LocationReport, error) {
	var msg wireMessage
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&msg); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return models.LocationReport{}, &DecodeError{Kind: KindMalformed, Field: typeErr.Field, Err: err}
		}
		return models.LocationReport{}, &DecodeError{Kind: KindMalformed, Err: err}
	}
	if dec.More() {
		return models.LocationReport{}, &DecodeError{Kind: KindMalformed, Err: errors.New("trailing data after object")}
	}

	switch {
	case msg.DeviceID == nil:
		return models.LocationReport{}, &DecodeError{Kind: KindMissingField, Field: "deviceId"}
	case msg.Latitude == nil:
		return models.LocationReport{}, &DecodeError{Kind: KindMissingField, Field: "latitude"}
	case msg.Longitude == nil:
		return models.LocationReport{}, &DecodeError{Kind: KindMissingField, Field: "longitude"}
	}

	if strings.TrimSpace(*msg.DeviceID) == "" {
		return models.LocationReport{}, &DecodeError{Kind: KindInvalid, Field: "deviceId", Err: errors.New("empty")}
	}
	if err := checkCoordinate(*msg.Latitude, 90); err != nil {
		return models.LocationReport{}, &DecodeError{Kind: KindInvalid, Field: "latitude", Err: err}
	}
	if err := checkCoordinate(*msg.Longitude, 180); err != nil {
		return models.LocationReport{}, &DecodeError{Kind: KindInvalid, Field: "longitude", Err: err}
	}

	timestamp, ok := parseTimestamp(msg.Timestamp)
	if !ok {
		timestamp = receivedAt
	}
	timestamp = timestamp.Truncate(time.Millisecond)

	return models.LocationReport{
		DeviceID:  *msg.DeviceID,
		Latitude:  *msg.Latitude,
		Longitude: *msg.Longitude,
		Timestamp: timestamp,
		User:      parseUser(msg.User),
	}, nil
}

// Encode renders report in the wire format accepted by Decode.
func Encode(report models.LocationReport) ([]byte, error) {
	out := struct {
		DeviceID  string  `json:"deviceId"`
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
		Timestamp string  `json:"timestamp,omitempty"`
		User      *string `json:"user"`
	}{
		DeviceID:  report.DeviceID,
		Latitude:  report.Latitude,
		Longitude: report.Longitude,
		User:      report.User,
	}
	if !report.Timestamp.IsZero() {
		out.Timestamp = report.Timestamp.Format(time.RFC3339Nano)
	}

	payload, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode location payload: %w", err)
	}
	return payload, nil
}

func checkCoordinate(v, limit float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return errors.New("not a finite number")
	}
	if v < -limit || v > limit {
		return fmt.Errorf("%v out of range [-%v, %v]", v, limit, limit)
	}
	return nil
}

// parseTimestamp accepts an RFC 3339 string, a plain date (UTC) or epoch
// milliseconds. Date-times without a zone are not accepted.
func parseTimestamp(raw json.RawMessage) (time.Time, bool) {
	t, ok := parseTimestampValue(raw)
	if !ok || t.Before(minTimestamp) || t.After(maxTimestamp) {
		return time.Time{}, false
	}
	return t, true
}

func parseTimestampValue(raw json.RawMessage) (time.Time, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, false
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		for _, layout := range []string{time.RFC3339Nano, time.DateOnly} {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
		return time.Time{}, false
	}

	var ms json.Number
	if err := json.Unmarshal(raw, &ms); err == nil {
		if v, err := ms.Int64(); err == nil {
			if v < -maxEpochMillis || v > maxEpochMillis {
				return time.Time{}, false
			}
			return time.UnixMilli(v).UTC(), true
		}
		if f, err := ms.Float64(); err == nil && !math.IsNaN(f) && math.Abs(f) <= maxEpochMillis {
			return time.UnixMilli(int64(f)).UTC(), true
		}
	}
	return time.Time{}, false
}

// parseUser passes strings through, maps null to nil and keeps any other
// JSON value as its raw text.
func parseUser(raw json.RawMessage) *string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return &s
	}
	text := string(raw)
	return &text
}
