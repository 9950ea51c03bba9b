package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/johndauphine/pgslice/internal/fill"
	"github.com/johndauphine/pgslice/internal/period"
	"github.com/johndauphine/pgslice/internal/table"
)

// FillOptions are the arguments of fill.
type FillOptions struct {
	Table       string
	SourceTable string
	DestTable   string
	Swapped     bool
	BatchSize   int
	Start       string
	Where       string
	Sleep       time.Duration
}

// Fill copies rows from the original table into the intermediate table,
// or after a swap from the retired table into the new one.
func (o *Orchestrator) Fill(ctx context.Context, opts FillOptions) error {
	t := o.table(opts.Table)

	source, dest := t, t.Intermediate()
	if opts.Swapped {
		source, dest = t.Retired(), t
	}
	if opts.SourceTable != "" {
		source = o.table(opts.SourceTable)
	}
	if opts.DestTable != "" {
		dest = o.table(opts.DestTable)
	}

	if err := o.assertTable(ctx, source); err != nil {
		return err
	}
	if err := o.assertTable(ctx, dest); err != nil {
		return err
	}

	s, found, err := o.settings(ctx, dest, t)
	if err != nil {
		return err
	}

	var window *fill.TimeWindow
	var partitions []table.Ref
	if found {
		if partitions, err = o.catalog.Partitions(ctx, dest); err != nil {
			return err
		}
		if len(partitions) > 0 {
			first, err := period.PartitionDate(partitions[0].Name, s.Period)
			if err != nil {
				return err
			}
			last, err := period.PartitionDate(partitions[len(partitions)-1].Name, s.Period)
			if err != nil {
				return err
			}
			window = &fill.TimeWindow{
				Column: s.Column,
				Cast:   s.Cast,
				Start:  first,
				End:    period.Advance(last, s.Period, 1),
			}
		}
	}

	// declarative parents carry no primary key before v3, so ask a partition
	schemaTable := t
	if found && s.Declarative() && len(partitions) > 0 {
		schemaTable = partitions[len(partitions)-1]
	}
	pk, err := o.catalog.PrimaryKey(ctx, schemaTable)
	if err != nil {
		return err
	}
	if len(pk) == 0 {
		return errors.New("No primary key")
	}

	columns, err := o.catalog.Columns(ctx, source)
	if err != nil {
		return err
	}

	engine := fill.New(o.db, o.catalog, o.opts.Progress)
	return engine.Run(ctx, fill.Job{
		Source:     source,
		Dest:       dest,
		Columns:    columns,
		PrimaryKey: pk[0],
		Window:     window,
		Where:      opts.Where,
		Start:      opts.Start,
		Swapped:    opts.Swapped,
		BatchSize:  opts.BatchSize,
		Sleep:      opts.Sleep,
	})
}
