package orchestrator

import (
	"context"
	"fmt"

	"github.com/johndauphine/pgslice/internal/table"
)

// Analyze refreshes planner statistics on the intermediate table (or the
// swapped-in table). Declarative parents are analyzed as a whole;
// trigger-based ones partition by partition. ANALYZE VERBOSE output is
// relayed as server notices.
func (o *Orchestrator) Analyze(ctx context.Context, name string, swapped bool) error {
	t := o.table(name)
	parent := t.Intermediate()
	if swapped {
		parent = t
	}

	if err := o.assertTable(ctx, parent); err != nil {
		return err
	}

	s, found, err := o.settings(ctx, parent, t)
	if err != nil {
		return err
	}

	targets := []table.Ref{parent}
	if !found || !s.Declarative() {
		partitions, err := o.catalog.Partitions(ctx, parent)
		if err != nil {
			return err
		}
		targets = append(partitions, parent)
	}

	// ANALYZE VERBOSE cannot share a transaction block with other commands
	for _, target := range targets {
		if err := o.db.RunQuery(ctx, fmt.Sprintf("ANALYZE VERBOSE %s;", target.Quoted())); err != nil {
			return err
		}
	}
	return nil
}
