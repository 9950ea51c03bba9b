package orchestrator

import (
	"context"
	"time"

	"github.com/johndauphine/pgslice/internal/reconcile"
)

// SynchronizeOptions are the arguments of synchronize.
type SynchronizeOptions struct {
	Table           string
	SourceTable     string
	TargetTable     string
	PrimaryKey      string
	Start           string
	WindowSize      int
	Delay           time.Duration
	DelayMultiplier float64
}

// Synchronize makes the target table (TABLE_intermediate by default) match
// the source table (TABLE by default) batch by batch.
func (o *Orchestrator) Synchronize(ctx context.Context, opts SynchronizeOptions) (reconcile.Stats, error) {
	t := o.table(opts.Table)
	source, target := t, t.Intermediate()
	if opts.SourceTable != "" {
		source = o.table(opts.SourceTable)
	}
	if opts.TargetTable != "" {
		target = o.table(opts.TargetTable)
	}

	if err := o.assertTable(ctx, source); err != nil {
		return reconcile.Stats{}, err
	}
	if err := o.assertTable(ctx, target); err != nil {
		return reconcile.Stats{}, err
	}

	return reconcile.New(o.db, o.catalog).Run(ctx, reconcile.Options{
		Source:          source,
		Target:          target,
		PrimaryKey:      opts.PrimaryKey,
		Start:           opts.Start,
		WindowSize:      opts.WindowSize,
		Delay:           opts.Delay,
		DelayMultiplier: opts.DelayMultiplier,
	})
}
