package period

import (
	"fmt"
	"time"
)

// Cast is the SQL type partition bounds are compared as.
type Cast string

const (
	CastDate        Cast = "date"
	CastTimestamptz Cast = "timestamptz"
)

// ParseCast validates a cast name.
func ParseCast(s string) (Cast, error) {
	switch Cast(s) {
	case CastDate, CastTimestamptz:
		return Cast(s), nil
	}
	return "", fmt.Errorf("Invalid cast: %s", s)
}

// CastForDataType maps an information_schema data_type to a cast.
// Everything other than timestamptz is compared as a date.
func CastForDataType(dataType string) Cast {
	if dataType == "timestamp with time zone" {
		return CastTimestamptz
	}
	return CastDate
}

// SQLDate renders t as a SQL literal, optionally with an explicit cast.
func SQLDate(t time.Time, cast Cast, withCast bool) string {
	var s string
	if cast == CastTimestamptz {
		s = "'" + t.UTC().Format("2006-01-02 15:04:05") + " UTC'"
	} else {
		s = "'" + t.UTC().Format("2006-01-02") + "'"
	}
	if withCast {
		return s + "::" + string(cast)
	}
	return s
}
