// Package settings persists the partitioning configuration of a table as
// a "key:value,key:value" comment, either on the routing trigger
// (trigger-based tables) or on the partitioned table itself.
package settings

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/johndauphine/pgslice/internal/period"
	"github.com/johndauphine/pgslice/internal/table"
	"github.com/johndauphine/pgslice/internal/util"
)

// Version selects the partitioning strategy. It is chosen once by prep and
// stored with the settings.
type Version int

const (
	// TriggerBased routes rows with a BEFORE INSERT trigger into
	// inherited child tables.
	TriggerBased Version = 1
	// DeclarativeV2 is PARTITION BY RANGE without partitioned indexes
	// (PostgreSQL 10).
	DeclarativeV2 Version = 2
	// DeclarativeV3 is PARTITION BY RANGE with indexes and foreign keys on
	// the parent (PostgreSQL 11+).
	DeclarativeV3 Version = 3
)

// Declarative reports whether the version uses native partitioning.
func (v Version) Declarative() bool {
	return v > TriggerBased
}

var (
	// ErrNotFound means neither a settings comment nor a recognisable
	// legacy trigger function exists.
	ErrNotFound = errors.New("no settings found")
	// ErrInvalidCast means a stored cast is neither date nor timestamptz.
	ErrInvalidCast = errors.New("invalid cast")
)

// Settings describes how a table is partitioned.
type Settings struct {
	Column  string
	Period  period.Period
	Cast    period.Cast
	Version Version

	// NeedsRewrite is set when the settings were recovered from a legacy
	// source and should be written back as a comment.
	NeedsRewrite bool
}

// Declarative reports whether the table uses native partitioning.
func (s Settings) Declarative() bool {
	return s.Version.Declarative()
}

// Encode renders the comment. Trigger comments never carried a version.
func Encode(s Settings) string {
	out := fmt.Sprintf("column:%s,period:%s,cast:%s", s.Column, s.Period, s.Cast)
	if s.Version.Declarative() {
		out += fmt.Sprintf(",version:%d", s.Version)
	}
	return out
}

// Source is the catalog access Decode needs.
type Source interface {
	TriggerComment(ctx context.Context, t table.Ref, trigger string) (string, bool, error)
	TableComment(ctx context.Context, t table.Ref) (string, error)
	FunctionDef(ctx context.Context, name string) (string, error)
}

// Decode reads the settings of t. triggerName is the routing trigger of
// the original table, which is where trigger-based settings live.
func Decode(ctx context.Context, src Source, t table.Ref, triggerName string) (Settings, error) {
	triggerComment, hasTrigger, err := src.TriggerComment(ctx, t, triggerName)
	if err != nil {
		return Settings{}, err
	}
	comment := triggerComment
	if !hasTrigger {
		comment, err = src.TableComment(ctx, t)
		if err != nil {
			return Settings{}, err
		}
	}

	var s Settings
	pairs := util.ParsePairs(comment)
	rawPeriod, hasPeriod := pairs["period"]

	if hasPeriod {
		p, err := period.Parse(rawPeriod)
		if err != nil {
			return Settings{}, err
		}
		s.Period = p
		s.Column = pairs["column"]
	} else {
		def, err := src.FunctionDef(ctx, triggerName)
		if err != nil {
			return Settings{}, err
		}
		column, p, ok := ParseFunctionDef(def)
		if !ok {
			return Settings{}, ErrNotFound
		}
		s.Column, s.Period = column, p
		s.NeedsRewrite = true
	}

	if s.Column == "" {
		return Settings{}, ErrNotFound
	}

	// releases before timestamptz support stored no cast
	if rawCast, ok := pairs["cast"]; ok {
		cast, err := period.ParseCast(rawCast)
		if err != nil {
			return Settings{}, fmt.Errorf("%w: %s", ErrInvalidCast, rawCast)
		}
		s.Cast = cast
	} else {
		s.Cast = period.CastDate
		s.NeedsRewrite = true
	}

	if rawVersion, ok := pairs["version"]; ok {
		v, err := strconv.Atoi(rawVersion)
		if err != nil || v < int(TriggerBased) || v > int(DeclarativeV3) {
			return Settings{}, fmt.Errorf("invalid settings version: %q", rawVersion)
		}
		s.Version = Version(v)
	} else if hasTrigger {
		s.Version = TriggerBased
	} else {
		s.Version = DeclarativeV2
	}

	return s, nil
}

var toCharColumn = regexp.MustCompile(`to_char\(NEW\."?(\w+)"?,`)

// ParseFunctionDef recovers column and period from a routing function
// written by releases that predate settings comments. Anything ambiguous,
// such as two different date formats or columns, is rejected.
func ParseFunctionDef(def string) (column string, p period.Period, ok bool) {
	if def == "" {
		return "", "", false
	}

	var found []period.Period
	for _, candidate := range period.All {
		if strings.Contains(def, "'"+candidate.SQLFormat()+"'") {
			found = append(found, candidate)
		}
	}
	if len(found) != 1 {
		return "", "", false
	}

	matches := toCharColumn.FindAllStringSubmatch(def, -1)
	if len(matches) == 0 {
		return "", "", false
	}
	column = matches[0][1]
	for _, m := range matches[1:] {
		if m[1] != column {
			return "", "", false
		}
	}
	return column, found[0], true
}
