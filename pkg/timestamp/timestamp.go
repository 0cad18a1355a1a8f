// Package timestamp fixes the platform's one canonical time representation:
// int64 milliseconds since the Unix epoch, UTC. Attribute events, resident
// attribute state, datapoint samples and execution status updates all carry
// this form end to end, so ordering checks are integer comparisons and no
// layer re-parses what another layer formatted.
//
// A value of 0 means "not set". Every function treats 0 as absent rather
// than as the epoch: conversions return zero values, arithmetic passes the
// absence through, and Format renders it as an empty string.
//
// Parse exists for the edges of the system, where catalog files and adapter
// payloads deliver timestamps as RFC3339 strings, epoch seconds, epoch
// milliseconds, or JSON numbers of either scale. Everything inland works in
// milliseconds only.
package timestamp

import (
	"fmt"
	"strconv"
	"time"
)

// msThreshold splits second-resolution epoch values from millisecond ones.
// As seconds it is the year 33658; as milliseconds, September 2001. Inputs
// above it are taken as milliseconds, everything else as seconds.
const msThreshold = 1e12

// maxValidMs is the year 3000. Nothing in a live system legitimately
// carries a timestamp beyond it.
const maxValidMs = 32503680000000

// Now returns the current time as Unix milliseconds.
func Now() int64 {
	return time.Now().UnixMilli()
}

// ToUnixMs converts a time.Time to Unix milliseconds. The zero time maps
// to 0.
func ToUnixMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// FromUnixMs converts Unix milliseconds to time.Time. 0 maps to the zero
// time.
func FromUnixMs(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// Format renders a timestamp as RFC3339 UTC for logs and user-facing
// output. Unset timestamps render as the empty string.
func Format(ms int64) string {
	if ms == 0 {
		return ""
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

// Parse converts the timestamp shapes that arrive at the system's edges to
// Unix milliseconds:
//
//   - integers and floats, read as seconds or milliseconds by magnitude
//   - strings holding RFC3339 or a numeric epoch value
//   - time.Time and *time.Time
//
// Unset inputs (nil, 0, "") and anything unparseable return 0; callers that
// must distinguish "absent" from "garbage" validate upstream.
func Parse(input any) int64 {
	switch v := input.(type) {
	case int64:
		return fromEpochInt(v)
	case int:
		return fromEpochInt(int64(v))
	case int32:
		return fromEpochInt(int64(v))
	case float64:
		return fromEpochFloat(v)
	case string:
		return parseString(v)
	case time.Time:
		return ToUnixMs(v)
	case *time.Time:
		if v == nil {
			return 0
		}
		return ToUnixMs(*v)
	default:
		return 0
	}
}

func fromEpochInt(v int64) int64 {
	if v == 0 {
		return 0
	}
	if v > msThreshold {
		return v
	}
	return v * 1000
}

func fromEpochFloat(v float64) int64 {
	if v == 0 {
		return 0
	}
	if v > msThreshold {
		return int64(v)
	}
	return int64(v * 1000)
}

func parseString(s string) int64 {
	if s == "" {
		return 0
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return ToUnixMs(t)
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return fromEpochInt(n)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return fromEpochFloat(f)
	}
	return 0
}

// Since returns how long ago the timestamp was, 0 when unset.
func Since(ms int64) time.Duration {
	if ms == 0 {
		return 0
	}
	return time.Since(time.UnixMilli(ms))
}

// Add shifts a timestamp by d. Negative durations shift backwards. An
// unset timestamp stays unset.
func Add(ms int64, d time.Duration) int64 {
	if ms == 0 {
		return 0
	}
	return time.UnixMilli(ms).Add(d).UnixMilli()
}

// Between returns end minus start as a duration, 0 when either side is
// unset.
func Between(start, end int64) time.Duration {
	if start == 0 || end == 0 {
		return 0
	}
	return time.UnixMilli(end).Sub(time.UnixMilli(start))
}

// Validate rejects timestamps outside the representable range: negative
// values and anything past the year 3000. 0 is valid, meaning unset.
func Validate(ms int64) error {
	if ms < 0 {
		return fmt.Errorf("timestamp cannot be negative: %d", ms)
	}
	if ms > maxValidMs {
		return fmt.Errorf("timestamp too far in future: %d", ms)
	}
	return nil
}
