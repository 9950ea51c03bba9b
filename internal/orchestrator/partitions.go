package orchestrator

import (
	"context"
	"fmt"

	"github.com/johndauphine/pgslice/internal/logging"
	"github.com/johndauphine/pgslice/internal/planner"
	"github.com/johndauphine/pgslice/internal/settings"
	"github.com/johndauphine/pgslice/internal/table"
)

// AddPartitionsOptions are the arguments of add_partitions.
type AddPartitionsOptions struct {
	Table        string
	Intermediate bool
	Past         int
	Future       int
	Tablespace   string
}

// AddPartitions creates the missing partitions from Past periods ago to
// Future periods ahead. Trigger-based tables also get their routing
// function rebuilt over every partition.
func (o *Orchestrator) AddPartitions(ctx context.Context, opts AddPartitionsOptions) error {
	original := o.table(opts.Table)
	target := original
	if opts.Intermediate {
		target = original.Intermediate()
	}

	if err := o.assertTable(ctx, target); err != nil {
		return err
	}

	s, found, err := o.settings(ctx, target, original)
	if err != nil {
		return err
	}
	if !found {
		msg := fmt.Sprintf("No settings found: %s", target)
		if !opts.Intermediate {
			msg += "\nDid you mean to use --intermediate?"
		}
		return fmt.Errorf("%s", msg)
	}

	var queries []string
	if s.NeedsRewrite {
		if s.Declarative() {
			queries = append(queries, planner.CommentOnTable(target, settings.Encode(s)))
		} else {
			queries = append(queries, planner.CommentOnTrigger(original.TriggerName(), target, settings.Encode(s)))
		}
	}

	existing, err := o.catalog.Partitions(ctx, target)
	if err != nil {
		return err
	}

	// the table whose structure new partitions copy
	schemaTable := target
	switch {
	case !s.Declarative():
	case opts.Intermediate:
		schemaTable = original
	case len(existing) > 0:
		schemaTable = existing[len(existing)-1]
	}

	// partitioned indexes propagate on their own from v3
	var indexDefs, fkDefs []string
	if s.Version < settings.DeclarativeV3 {
		if indexDefs, err = o.catalog.IndexDefs(ctx, schemaTable); err != nil {
			return err
		}
		if fkDefs, err = o.catalog.ForeignKeys(ctx, schemaTable); err != nil {
			return err
		}
	}
	pk, err := o.catalog.PrimaryKey(ctx, schemaTable)
	if err != nil {
		return err
	}

	today := o.opts.Now()
	specs, err := planner.Plan(original, s.Period, opts.Past, opts.Future, today, func(r table.Ref) (bool, error) {
		return o.catalog.Exists(ctx, r)
	})
	if err != nil {
		return err
	}

	added := make([]table.Ref, 0, len(specs))
	for _, spec := range specs {
		added = append(added, spec.Ref)
		if s.Declarative() {
			queries = append(queries, planner.CreateDeclarative(spec, target, s.Cast, opts.Tablespace))
		} else {
			queries = append(queries, planner.CreateInherited(spec, target, s.Column, s.Cast, opts.Tablespace))
		}
		if len(pk) > 0 {
			queries = append(queries, planner.AddPrimaryKey(spec.Ref, pk))
		}
		for _, def := range indexDefs {
			queries = append(queries, planner.IndexDef(def, spec.Ref))
		}
		for _, def := range fkDefs {
			queries = append(queries, planner.ForeignKeyDef(def, spec.Ref))
		}
	}
	logging.Debug("%s: %d partitions exist, adding %d", target, len(existing), len(added))

	if !s.Declarative() {
		all := append(existing, added...)
		if fn := planner.RoutingFunction(original.QuotedFunction(original.TriggerName()), s, all, today); fn != "" {
			queries = append(queries, fn)
		}
	}

	if len(queries) == 0 {
		return nil
	}
	return o.db.RunQueries(ctx, queries)
}
