package util

import (
	"strings"
	"time"
)

// dateTpl maps template placeholders to Go layout elements. Longer
// placeholders come first so YYYY is not consumed as two YY.
var dateTpl = strings.NewReplacer(
	"YYYY", "2006",
	"YY", "06",
	"MM", "01",
	"DD", "02",
	"hh", "15",
	"mm", "04",
	"ss", "05",
)

// FormatDateTpl formats a timestamp in milliseconds since the Unix epoch
// using a template with placeholders, in loc (UTC when nil).
//
// Supported placeholders:
// - YYYY: 4-digit year
// - YY: 2-digit year
// - MM: 2-digit month (01-12)
// - DD: 2-digit day (01-31)
// - hh: 2-digit hour (00-23)
// - mm: 2-digit minute (00-59)
// - ss: 2-digit second (00-59)
//
// Returns an empty string if ts == 0.
//
// Example:
//
//	ts := int64(1699603200000)
//	FormatDateTpl(ts, "YYYY.MM.DD", nil)       // "2023.11.10"
//	FormatDateTpl(ts, "DD/MM/YYYY", nil)       // "10/11/2023"
//	FormatDateTpl(ts, "YYYY-MM-DD hh:mm", nil) // "2023-11-10 08:00"
func FormatDateTpl(ts int64, tpl string, loc *time.Location) string {
	if ts == 0 {
		return ""
	}
	if loc == nil {
		loc = time.UTC
	}
	return time.UnixMilli(ts).In(loc).Format(dateTpl.Replace(tpl))
}
