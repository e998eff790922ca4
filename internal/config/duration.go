package config

import (
	"math"
	"strings"
	"time"
)

// Upper bounds for the numeric campaign timings; anything larger would
// wrap time.Duration negative.
const (
	maxDelayMs      = math.MaxInt64 / int64(time.Millisecond)
	maxPauseMinutes = float64(math.MaxInt64 / int64(time.Minute))
)

// parseDuration reads a Go duration string ("10s", "1m30s") stored at field.
// Blank is zero. Problems come back as *Error naming field.
func parseDuration(field, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, &Error{Field: field, Reason: "invalid duration", Err: err}
	}
	if d < 0 {
		return 0, fieldErr(field, "must be >= 0 (got %s)", s)
	}
	return d, nil
}

// DurationOr parses the duration at field, using def when it is blank or zero.
func DurationOr(field, raw string, def time.Duration) (time.Duration, error) {
	d, err := parseDuration(field, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

func millis(ms int64) time.Duration { return time.Duration(ms) * time.Millisecond }

func minutes(m float64) time.Duration { return time.Duration(m * float64(time.Minute)) }
