// Package planner decides which partitions a table needs and generates the
// DDL that creates them, including the routing function used by
// trigger-based tables.
package planner

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/johndauphine/pgslice/internal/logging"
	"github.com/johndauphine/pgslice/internal/period"
	"github.com/johndauphine/pgslice/internal/session"
	"github.com/johndauphine/pgslice/internal/settings"
	"github.com/johndauphine/pgslice/internal/table"
)

// PartitionSpec is one bucket: rows with Start <= column < End.
type PartitionSpec struct {
	Ref   table.Ref
	Start time.Time
	End   time.Time
}

// ExistsFunc reports whether a table exists.
type ExistsFunc func(table.Ref) (bool, error)

// Plan returns the partitions of original for buckets -past..future
// around today that do not exist yet. Partitions are named after the
// original table even when they hang off the intermediate table, so that
// they keep their names across a swap.
func Plan(original table.Ref, p period.Period, past, future int, today time.Time, exists ExistsFunc) ([]PartitionSpec, error) {
	if past < 0 || future < 0 {
		return nil, fmt.Errorf("past and future must not be negative")
	}
	today = period.RoundDown(today, p)

	var specs []PartitionSpec
	for n := -past; n <= future; n++ {
		start := period.Advance(today, p, n)
		ref := original.Partition(start.Format(p.NameFormat()))
		ok, err := exists(ref)
		if err != nil {
			return nil, err
		}
		if ok {
			continue
		}
		specs = append(specs, PartitionSpec{Ref: ref, Start: start, End: period.Advance(start, p, 1)})
	}
	return specs, nil
}

// RoutingFunction builds the trigger function that sends each row of a
// trigger-based table to its partition. Branches are ordered current
// period first, then future periods ascending, then past periods
// descending, because most inserts are for "now". It returns "" when
// there are no partitions to route to.
func RoutingFunction(function string, s settings.Settings, partitions []table.Ref, today time.Time) string {
	today = period.RoundDown(today, s.Period)
	column := session.QuoteIdent(s.Column)

	type branch struct {
		day  time.Time
		text string
	}
	seen := make(map[string]bool)
	var current, future, past []branch
	for _, part := range partitions {
		if seen[part.Name] {
			continue
		}
		seen[part.Name] = true

		day, err := period.PartitionDate(part.Name, s.Period)
		if err != nil {
			logging.Warn("Skipping %s in trigger: %v", part, err)
			continue
		}
		next := period.Advance(day, s.Period, 1)

		b := branch{day: day}
		b.text = fmt.Sprintf("(NEW.%s >= %s AND NEW.%s < %s) THEN\n            INSERT INTO %s VALUES (NEW.*);",
			column, period.SQLDate(day, s.Cast, true),
			column, period.SQLDate(next, s.Cast, true),
			part.Quoted())

		switch {
		case day.Equal(today):
			current = append(current, b)
		case day.After(today):
			future = append(future, b)
		default:
			past = append(past, b)
		}
	}

	if len(current)+len(future)+len(past) == 0 {
		return ""
	}

	sort.Slice(future, func(i, j int) bool { return future[i].day.Before(future[j].day) })
	sort.Slice(past, func(i, j int) bool { return past[i].day.After(past[j].day) })

	var branches []string
	for _, group := range [][]branch{current, future, past} {
		for _, b := range group {
			branches = append(branches, b.text)
		}
	}

	return fmt.Sprintf(`CREATE OR REPLACE FUNCTION %s()
    RETURNS trigger AS $$
    BEGIN
        IF %s
        ELSE
            RAISE EXCEPTION 'Date out of range. Ensure partitions are created.';
        END IF;
        RETURN NULL;
    END;
    $$ LANGUAGE plpgsql;`, function, strings.Join(branches, "\n        ELSIF "))
}
