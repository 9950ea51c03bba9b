package orchestrator

import (
	"context"

	"github.com/johndauphine/pgslice/internal/logging"
	"github.com/johndauphine/pgslice/internal/mirror"
)

// EnableMirroring replicates writes on TABLE into TABLE_intermediate.
func (o *Orchestrator) EnableMirroring(ctx context.Context, name string) error {
	return o.enableMirror(ctx, mirror.ToIntermediate, name)
}

// DisableMirroring removes the TABLE_intermediate mirror.
func (o *Orchestrator) DisableMirroring(ctx context.Context, name string) error {
	return o.disableMirror(ctx, mirror.ToIntermediate, name)
}

// EnableRetiredMirroring replicates writes on TABLE into TABLE_retired.
func (o *Orchestrator) EnableRetiredMirroring(ctx context.Context, name string) error {
	return o.enableMirror(ctx, mirror.ToRetired, name)
}

// DisableRetiredMirroring removes the TABLE_retired mirror.
func (o *Orchestrator) DisableRetiredMirroring(ctx context.Context, name string) error {
	return o.disableMirror(ctx, mirror.ToRetired, name)
}

func (o *Orchestrator) enableMirror(ctx context.Context, kind mirror.Kind, name string) error {
	m := mirror.For(kind, o.table(name))

	if err := o.assertTable(ctx, m.Source); err != nil {
		return err
	}
	if err := o.assertTable(ctx, m.Target); err != nil {
		return err
	}

	columns, err := o.catalog.Columns(ctx, m.Source)
	if err != nil {
		return err
	}
	pk, err := o.catalog.PrimaryKey(ctx, m.Source)
	if err != nil {
		return err
	}

	if err := o.db.RunQueries(ctx, m.Enable(columns, pk)); err != nil {
		return err
	}
	logging.Info("%s enabled for %s", describe(kind), name)
	return nil
}

func (o *Orchestrator) disableMirror(ctx context.Context, kind mirror.Kind, name string) error {
	m := mirror.For(kind, o.table(name))

	if err := o.assertTable(ctx, m.Source); err != nil {
		return err
	}

	if err := o.db.RunQueries(ctx, m.Disable()); err != nil {
		return err
	}
	logging.Info("%s disabled for %s", describe(kind), name)
	return nil
}

func describe(kind mirror.Kind) string {
	if kind == mirror.ToRetired {
		return "Retired mirroring triggers"
	}
	return "Mirroring triggers"
}
