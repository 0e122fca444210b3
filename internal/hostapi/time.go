package hostapi

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/keshon/mycelium/pkg/util"
)

var durationPart = regexp.MustCompile(`(?i)(\d+)\s*([dhms])`)

// Time is the "time" accessor.
type Time struct {
	loc *time.Location
	now func() time.Time
}

// NewTime formats dates in loc (UTC when nil).
func NewTime(loc *time.Location) *Time {
	if loc == nil {
		loc = time.UTC
	}
	return &Time{loc: loc, now: time.Now}
}

// ParseDuration reads strings like "1h30m", "2d 4h" or "10s" and returns
// the total in seconds. Unrecognized text is ignored; nothing recognized
// yields 0.
func (t *Time) ParseDuration(s string) int64 {
	var total int64
	for _, m := range durationPart.FindAllStringSubmatch(s, -1) {
		n, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			continue
		}
		switch strings.ToLower(m[2]) {
		case "d":
			total += n * 86400
		case "h":
			total += n * 3600
		case "m":
			total += n * 60
		case "s":
			total += n
		}
	}
	return total
}

// FormatDuration renders seconds as "1 day, 2 hours, and 5 seconds".
func (t *Time) FormatDuration(seconds int64) string {
	if seconds < 0 {
		return "invalid duration"
	}
	units := []struct {
		size int64
		name string
	}{
		{86400, "day"},
		{3600, "hour"},
		{60, "minute"},
		{1, "second"},
	}

	var parts []string
	rest := seconds
	for _, u := range units {
		n := rest / u.size
		rest %= u.size
		if n == 0 {
			continue
		}
		name := u.name
		if n != 1 {
			name += "s"
		}
		parts = append(parts, fmt.Sprintf("%d %s", n, name))
	}

	switch len(parts) {
	case 0:
		return "0 seconds"
	case 1:
		return parts[0]
	default:
		return strings.Join(parts[:len(parts)-1], ", ") + ", and " + parts[len(parts)-1]
	}
}

// FormatDate renders a millisecond timestamp with a YYYY/MM/DD/hh/mm/ss
// template.
func (t *Time) FormatDate(ms int64, tpl string) string {
	return util.FormatDateTpl(ms, tpl, t.loc)
}

// Now returns the current time in milliseconds since the Unix epoch.
func (t *Time) Now() int64 {
	return t.now().UnixMilli()
}
