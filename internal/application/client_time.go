package application

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// ClientTime is a device timestamp. It decodes from an RFC 3339 string or from unix
// seconds given as a JSON number (fractions allowed) or a numeric string.
type ClientTime struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *ClientTime) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		c.Time = time.Time{}
		return nil
	}
	if data[0] == '"' {
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		parsed, err := ParseClientTime(raw)
		if err != nil {
			return err
		}
		c.Time = parsed
		return nil
	}

	seconds, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	parsed, err := unixSeconds(seconds)
	if err != nil {
		return err
	}
	c.Time = parsed
	return nil
}

// MarshalJSON renders the timestamp as RFC 3339 with nanoseconds, or null when unset.
func (c ClientTime) MarshalJSON() ([]byte, error) {
	if c.Time.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(c.Time.UTC().Format(time.RFC3339Nano))
}

// ParseClientTime parses an RFC 3339 timestamp or a decimal unix seconds string.
func ParseClientTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if parsed, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return parsed.UTC(), nil
	}
	seconds, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp %q is neither RFC 3339 nor unix seconds", value)
	}
	return unixSeconds(seconds)
}

func unixSeconds(seconds float64) (time.Time, error) {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds < 0 || seconds > 1<<33 {
		return time.Time{}, fmt.Errorf("timestamp %v out of range", seconds)
	}
	whole, frac := math.Modf(seconds)
	nanos := int64(math.Round(frac * 1e9))
	return time.Unix(int64(whole), nanos).UTC(), nil
}
