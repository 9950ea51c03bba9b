package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/johndauphine/pgslice/internal/period"
	"github.com/johndauphine/pgslice/internal/planner"
	"github.com/johndauphine/pgslice/internal/settings"
	"github.com/johndauphine/pgslice/internal/table"
)

// PrepOptions are the arguments of prep.
type PrepOptions struct {
	Table        string
	Column       string
	Period       string
	NoPartition  bool
	TriggerBased bool
	// TestVersion forces a strategy version regardless of the server.
	TestVersion int
}

// Prep creates the intermediate table next to Table.
func (o *Orchestrator) Prep(ctx context.Context, opts PrepOptions) error {
	t := o.table(opts.Table)
	intermediate := t.Intermediate()
	partition := !opts.NoPartition

	if !partition {
		if opts.Column != "" || opts.Period != "" {
			return errors.New(`Usage: "pgslice prep TABLE --no-partition"`)
		}
		if opts.TriggerBased {
			return errors.New("Can't use --trigger-based and --no-partition")
		}
	}
	if err := o.assertTable(ctx, t); err != nil {
		return err
	}
	if err := o.assertNoTable(ctx, intermediate); err != nil {
		return err
	}

	var p period.Period
	if partition {
		if opts.Column == "" || opts.Period == "" {
			return errors.New(`Usage: "pgslice prep TABLE COLUMN PERIOD"`)
		}
		columns, err := o.catalog.Columns(ctx, t)
		if err != nil {
			return err
		}
		if !contains(columns, opts.Column) {
			return fmt.Errorf("Column not found: %s", opts.Column)
		}
		if p, err = period.Parse(opts.Period); err != nil {
			return err
		}
	}

	version := o.version(opts.TriggerBased, opts.TestVersion)
	declarative := version.Declarative()

	var queries []string
	if declarative && partition {
		queries = append(queries, planner.CreateIntermediate(intermediate, t, planner.LikeOptions(true, o.db.ServerVersionNum()), opts.Column))

		if version == settings.DeclarativeV3 {
			copied, err := o.copyStructure(ctx, t, intermediate)
			if err != nil {
				return err
			}
			queries = append(queries, copied...)
		}

		cast, err := o.catalog.ColumnCast(ctx, t, opts.Column)
		if err != nil {
			return err
		}
		s := settings.Settings{Column: opts.Column, Period: p, Cast: cast, Version: version}
		queries = append(queries, planner.CommentOnTable(intermediate, settings.Encode(s)))
	} else {
		queries = append(queries, planner.CreateIntermediate(intermediate, t, planner.LikeOptions(false, o.db.ServerVersionNum()), ""))

		fks, err := o.catalog.ForeignKeys(ctx, t)
		if err != nil {
			return err
		}
		for _, fk := range fks {
			queries = append(queries, planner.ForeignKeyDef(fk, intermediate))
		}
	}

	if partition && !declarative {
		trigger := t.TriggerName()
		function := t.QuotedFunction(trigger)
		cast, err := o.catalog.ColumnCast(ctx, t, opts.Column)
		if err != nil {
			return err
		}
		s := settings.Settings{Column: opts.Column, Period: p, Cast: cast, Version: settings.TriggerBased}
		queries = append(queries,
			planner.PlaceholderFunction(function),
			planner.CreateRoutingTrigger(trigger, intermediate, function),
			planner.CommentOnTrigger(trigger, intermediate, settings.Encode(s)),
		)
	}

	return o.db.RunQueries(ctx, queries)
}

// copyStructure recreates the non-primary indexes, foreign keys and
// extended statistics of from on to.
func (o *Orchestrator) copyStructure(ctx context.Context, from, to table.Ref) ([]string, error) {
	var queries []string

	indexes, err := o.catalog.IndexDefs(ctx, from)
	if err != nil {
		return nil, err
	}
	for _, def := range indexes {
		queries = append(queries, planner.IndexDef(def, to))
	}

	fks, err := o.catalog.ForeignKeys(ctx, from)
	if err != nil {
		return nil, err
	}
	for _, def := range fks {
		queries = append(queries, planner.ForeignKeyDef(def, to))
	}

	stats, err := o.catalog.StatisticsDefs(ctx, from)
	if err != nil {
		return nil, err
	}
	for _, def := range stats {
		queries = append(queries, planner.StatisticsDef(def, to))
	}
	return queries, nil
}

// PrepHash creates an intermediate table hash partitioned on column into
// the given number of partitions, named TABLE_0..TABLE_n-1.
func (o *Orchestrator) PrepHash(ctx context.Context, name, column string, partitions int) error {
	t := o.table(name)
	intermediate := t.Intermediate()

	if err := o.assertTable(ctx, t); err != nil {
		return err
	}
	if err := o.assertNoTable(ctx, intermediate); err != nil {
		return err
	}
	if partitions <= 0 {
		return errors.New("Partitions must be greater than 0")
	}

	queries := []string{fmt.Sprintf("CREATE TABLE %s (LIKE %s %s) PARTITION BY HASH (%s);",
		intermediate.Quoted(), t.Quoted(), planner.HashLikeOptions(o.db.ServerVersionNum()), quoteIdent(column))}

	pk, err := o.catalog.PrimaryKey(ctx, t)
	if err != nil {
		return err
	}
	// a primary key on the parent must include the partition column
	pkOnParent := contains(pk, column)
	if pkOnParent {
		queries = append(queries, planner.AddPrimaryKey(intermediate, pk))
	}

	indexes, err := o.catalog.IndexDefs(ctx, t)
	if err != nil {
		return err
	}
	for _, def := range indexes {
		queries = append(queries, planner.IndexDef(def, intermediate))
	}
	fks, err := o.catalog.ForeignKeys(ctx, t)
	if err != nil {
		return err
	}
	for _, def := range fks {
		queries = append(queries, planner.ForeignKeyDef(def, intermediate))
	}

	for i := 0; i < partitions; i++ {
		part := table.New(t.Schema, fmt.Sprintf("%s_%d", t.Name, i))
		queries = append(queries, fmt.Sprintf("CREATE TABLE %s PARTITION OF %s FOR VALUES WITH (MODULUS %d, REMAINDER %d);",
			part.Quoted(), intermediate.Quoted(), partitions, i))
		if !pkOnParent && len(pk) > 0 {
			queries = append(queries, planner.AddPrimaryKey(part, pk))
		}
	}

	return o.db.RunQueries(ctx, queries)
}

// Unprep drops the intermediate table, and the routing function of
// trigger-based tables.
func (o *Orchestrator) Unprep(ctx context.Context, name string) error {
	t := o.table(name)
	intermediate := t.Intermediate()

	if err := o.assertTable(ctx, intermediate); err != nil {
		return err
	}

	queries := []string{fmt.Sprintf("DROP TABLE %s CASCADE;", intermediate.Quoted())}

	s, found, err := o.settings(ctx, intermediate, t)
	if err != nil {
		return err
	}
	if !found || !s.Declarative() {
		queries = append(queries, fmt.Sprintf("DROP FUNCTION IF EXISTS %s();", t.QuotedFunction(t.TriggerName())))
	}

	return o.db.RunQueries(ctx, queries)
}
