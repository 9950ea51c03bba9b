// Package period implements the calendar arithmetic behind partition
// buckets: rounding timestamps down to a bucket start, stepping whole
// buckets forward or back, and the name suffixes and SQL literals derived
// from a bucket.
package period

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Period is the partition bucket granularity.
type Period string

const (
	Day   Period = "day"
	Month Period = "month"
	Year  Period = "year"
)

// All lists the supported periods, finest first.
var All = []Period{Day, Month, Year}

// ErrInvalidPeriod is returned for a period other than day, month or year.
var ErrInvalidPeriod = errors.New("Invalid period")

// Parse validates a period name.
func Parse(s string) (Period, error) {
	p := Period(s)
	if !p.Valid() {
		return "", fmt.Errorf("%w: %s", ErrInvalidPeriod, s)
	}
	return p, nil
}

// Valid reports whether p is a supported period.
func (p Period) Valid() bool {
	switch p {
	case Day, Month, Year:
		return true
	}
	return false
}

// NameFormat returns the Go time layout used for partition name suffixes.
func (p Period) NameFormat() string {
	switch p {
	case Day:
		return "20060102"
	case Month:
		return "200601"
	default:
		return "2006"
	}
}

// SQLFormat returns the to_char pattern matching NameFormat. Trigger
// functions written by very old releases embed it, which is how their
// period is recovered.
func (p Period) SQLFormat() string {
	switch p {
	case Day:
		return "YYYYMMDD"
	case Month:
		return "YYYYMM"
	default:
		return "YYYY"
	}
}

// RoundDown truncates t (in UTC) to the start of its bucket.
func RoundDown(t time.Time, p Period) time.Time {
	t = t.UTC()
	switch p {
	case Day:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case Month:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	}
}

// Advance moves the date d by n buckets. Month and year steps clamp the
// day of month, so Jan 31 + 1 month is Feb 28 (or 29).
func Advance(d time.Time, p Period, n int) time.Time {
	d = d.UTC()
	d = time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	switch p {
	case Day:
		return d.AddDate(0, 0, n)
	case Month:
		return addMonths(d, n)
	default:
		return addMonths(d, 12*n)
	}
}

func addMonths(d time.Time, n int) time.Time {
	first := time.Date(d.Year(), d.Month()+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	day := d.Day()
	if last := daysIn(first); day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, time.UTC)
}

func daysIn(firstOfMonth time.Time) int {
	return firstOfMonth.AddDate(0, 1, -1).Day()
}

// Suffix formats the partition name suffix for the bucket containing d.
func Suffix(d time.Time, p Period) string {
	return RoundDown(d, p).Format(p.NameFormat())
}

// ParseSuffix parses a partition name suffix. The digit count must match
// the period exactly.
func ParseSuffix(s string, p Period) (time.Time, error) {
	layout := p.NameFormat()
	if len(s) != len(layout) || strings.Trim(s, "0123456789") != "" {
		return time.Time{}, fmt.Errorf("invalid %s suffix: %q", p, s)
	}
	t, err := time.ParseInLocation(layout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s suffix: %q: %w", p, s, err)
	}
	return t, nil
}

// PartitionDate extracts the bucket start from a partition table name of
// the form parent_SUFFIX.
func PartitionDate(name string, p Period) (time.Time, error) {
	i := strings.LastIndexByte(name, '_')
	if i < 0 {
		return time.Time{}, fmt.Errorf("invalid partition name: %q", name)
	}
	return ParseSuffix(name[i+1:], p)
}
