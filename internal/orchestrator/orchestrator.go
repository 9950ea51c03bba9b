// Package orchestrator sequences the partition lifecycle commands. Every
// command checks its preconditions before it changes anything and runs
// its statements in a single transaction unless noted otherwise.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/johndauphine/pgslice/internal/session"
	"github.com/johndauphine/pgslice/internal/settings"
	"github.com/johndauphine/pgslice/internal/table"
)

// Options configures an Orchestrator.
type Options struct {
	// Progress receives the fill progress bar. Nil disables it.
	Progress io.Writer
	// Now returns the current time. Partitions are planned around it.
	Now func() time.Time
}

// Orchestrator runs lifecycle commands against one session.
type Orchestrator struct {
	db      session.Executor
	catalog *table.Catalog
	opts    Options
}

// New creates an orchestrator bound to db.
func New(db session.Executor, opts Options) *Orchestrator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{db: db, catalog: table.NewCatalog(db), opts: opts}
}

// table resolves a command line table name against the session schema.
func (o *Orchestrator) table(name string) table.Ref {
	return table.Parse(name, o.db.Schema())
}

func (o *Orchestrator) assertTable(ctx context.Context, t table.Ref) error {
	ok, err := o.catalog.Exists(ctx, t)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("Table not found: %s", t)
	}
	return nil
}

func (o *Orchestrator) assertNoTable(ctx context.Context, t table.Ref) error {
	ok, err := o.catalog.Exists(ctx, t)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("Table already exists: %s", t)
	}
	return nil
}

// settings reads the partition settings of t. found is false when the
// table carries none.
func (o *Orchestrator) settings(ctx context.Context, t, original table.Ref) (s settings.Settings, found bool, err error) {
	s, err = settings.Decode(ctx, o.catalog, t, original.TriggerName())
	if errors.Is(err, settings.ErrNotFound) {
		return settings.Settings{}, false, nil
	}
	if err != nil {
		return settings.Settings{}, false, fmt.Errorf("reading settings of %s: %w", t, err)
	}
	return s, true, nil
}

// version picks the partitioning strategy for a new intermediate table.
func (o *Orchestrator) version(triggerBased bool, testVersion int) settings.Version {
	switch {
	case testVersion > 0:
		return settings.Version(testVersion)
	case triggerBased || o.db.ServerVersionNum() < 100000:
		return settings.TriggerBased
	case o.db.ServerVersionNum() < 110000:
		return settings.DeclarativeV2
	default:
		return settings.DeclarativeV3
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func quoteIdent(s string) string {
	return session.QuoteIdent(s)
}
