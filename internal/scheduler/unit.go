package scheduler

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

var (
	// ErrUnknownUnit is returned for a time unit name ParseUnit does not know.
	ErrUnknownUnit = errors.New("unknown time unit")
	// ErrOutOfRange is returned when a delay or period does not fit in a
	// time.Duration.
	ErrOutOfRange = errors.New("duration out of range")
)

// Unit is a named time unit, e.g. "SECONDS".
type Unit string

const (
	Days         Unit = "DAYS"
	Hours        Unit = "HOURS"
	Minutes      Unit = "MINUTES"
	Seconds      Unit = "SECONDS"
	Milliseconds Unit = "MILLISECONDS"
	Microseconds Unit = "MICROSECONDS"
	Nanoseconds  Unit = "NANOSECONDS"
)

var unitDurations = map[Unit]time.Duration{
	Days:         24 * time.Hour,
	Hours:        time.Hour,
	Minutes:      time.Minute,
	Seconds:      time.Second,
	Milliseconds: time.Millisecond,
	Microseconds: time.Microsecond,
	Nanoseconds:  time.Nanosecond,
}

// ParseUnit matches s case-insensitively.
func ParseUnit(s string) (Unit, error) {
	u := Unit(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := unitDurations[u]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownUnit, s)
	}
	return u, nil
}

// Of returns n units as a duration, or ErrOutOfRange when the product
// overflows.
func (u Unit) Of(n int64) (time.Duration, error) {
	d, ok := unitDurations[u]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownUnit, string(u))
	}
	if n > math.MaxInt64/int64(d) || n < math.MinInt64/int64(d) {
		return 0, fmt.Errorf("%w: %d %s", ErrOutOfRange, n, u)
	}
	return time.Duration(n) * d, nil
}
