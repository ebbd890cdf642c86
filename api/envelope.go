package api

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	conerrors "github.com/jrsteele09/order101-console/internal/errors"
)

// Envelope is the backend's single-item wrapper: {"status": ..., "items": [T]}.
type Envelope[T any] struct {
	Items []T `json:"items"`
}

// First returns items[0] or ErrUnexpectedEnvelope when the slot is missing.
func (e Envelope[T]) First() (T, error) {
	if len(e.Items) == 0 {
		var zero T
		return zero, conerrors.Wrapf(conerrors.ErrUnexpectedEnvelope, "items[0] missing")
	}
	return e.Items[0], nil
}

// FlexString decodes a JSON string or number into a string.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return conerrors.Wrapf(conerrors.ErrUnexpectedEnvelope, "not a string or number: %s", data)
	}
	*f = FlexString(n.String())
	return nil
}

// FlexInt64 decodes a JSON number or numeric string into an int64.
type FlexInt64 int64

func (f *FlexInt64) UnmarshalJSON(data []byte) error {
	var s FlexString
	if err := s.UnmarshalJSON(data); err != nil {
		return err
	}
	if s == "" {
		*f = 0
		return nil
	}
	raw := strings.TrimSpace(string(s))
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*f = FlexInt64(n)
		return nil
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return conerrors.Wrapf(conerrors.ErrUnexpectedEnvelope, "not numeric: %q", string(s))
	}
	*f = FlexInt64(n)
	return nil
}

var localTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// LocalTime decodes the backend's zone-less timestamps ("2025-01-02T10:00:00.123"),
// RFC 3339 strings, or epoch milliseconds.
type LocalTime struct {
	time.Time
}

func (t *LocalTime) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) || bytes.Equal(data, []byte(`""`)) {
		t.Time = time.Time{}
		return nil
	}
	if data[0] != '"' {
		var millis FlexInt64
		if err := millis.UnmarshalJSON(data); err != nil {
			return err
		}
		t.Time = time.UnixMilli(int64(millis))
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for _, layout := range localTimeLayouts {
		if parsed, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return conerrors.Wrapf(conerrors.ErrUnexpectedEnvelope, "unrecognised timestamp %q", s)
}

func (t LocalTime) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Format(time.RFC3339))
}
