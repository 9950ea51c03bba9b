// Package reconcile compares two tables in primary key batches and emits
// the INSERT, UPDATE and DELETE statements that make the target match the
// source.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/r3labs/diff/v3"

	"github.com/johndauphine/pgslice/internal/logging"
	"github.com/johndauphine/pgslice/internal/session"
	"github.com/johndauphine/pgslice/internal/table"
)

// Catalog is the structural information the reconciler needs.
type Catalog interface {
	ColumnSchema(ctx context.Context, t table.Ref) ([]table.Column, error)
	PrimaryKey(ctx context.Context, t table.Ref) ([]string, error)
}

// Options configures one synchronize run.
type Options struct {
	Source     table.Ref
	Target     table.Ref
	PrimaryKey string // defaults to the first primary key column of Source
	Start      string // defaults to the smallest key in Source
	WindowSize int

	// Between batches the run sleeps Delay + batch duration * DelayMultiplier.
	Delay           time.Duration
	DelayMultiplier float64
}

// Stats summarises a run.
type Stats struct {
	Batches   int64
	Rows      int64
	Matching  int64
	Differing int64
	Missing   int64
	Extra     int64
}

// Reconciler runs synchronize.
type Reconciler struct {
	db      session.Executor
	catalog Catalog
	now     func() time.Time
	sleep   func(context.Context, time.Duration) error
}

// New creates a reconciler.
func New(db session.Executor, catalog Catalog) *Reconciler {
	return &Reconciler{db: db, catalog: catalog, now: time.Now, sleep: pause}
}

// row is one fetched row; values are the text representation or nil.
type row map[string]any

// Run synchronizes Target with Source.
func (r *Reconciler) Run(ctx context.Context, opts Options) (Stats, error) {
	var stats Stats
	if opts.WindowSize <= 0 {
		return stats, errors.New("window size must be positive")
	}

	columns, err := r.verifySchemas(ctx, opts.Source, opts.Target)
	if err != nil {
		return stats, err
	}

	pk := opts.PrimaryKey
	if pk == "" {
		keys, err := r.catalog.PrimaryKey(ctx, opts.Source)
		if err != nil {
			return stats, err
		}
		if len(keys) == 0 {
			return stats, errors.New("Primary key not found. Specify with --primary-key")
		}
		pk = keys[0]
	}
	if !contains(columns, pk) {
		return stats, fmt.Errorf("Primary key '%s' not found in source table", pk)
	}

	start := opts.Start
	if start == "" {
		first, err := r.firstKey(ctx, opts.Source, pk)
		if err != nil {
			return stats, err
		}
		if first == nil {
			return stats, errors.New("No rows found in source table")
		}
		start = fmt.Sprint(first)
	}

	mode := "WRITE (executing changes)"
	if r.db.DryRun() {
		mode = "DRY RUN (logging only)"
	}
	logging.Info("Synchronizing %s to %s", opts.Source, opts.Target)
	logging.Info("Mode: %s", mode)
	logging.Info("Primary key: %s", pk)
	logging.Info("Starting at: %s", start)
	logging.Info("Window size: %d", opts.WindowSize)
	logging.Info("Base delay: %s", opts.Delay)
	logging.Info("Delay multiplier: %g", opts.DelayMultiplier)

	cursor := start
	for first := true; ; first = false {
		began := r.now()

		sourceRows, err := r.fetchBatch(ctx, opts.Source, columns, pk, cursor, opts.WindowSize, first)
		if err != nil {
			return stats, err
		}
		if len(sourceRows) == 0 {
			break
		}
		stats.Batches++
		stats.Rows += int64(len(sourceRows))

		low := fmt.Sprint(sourceRows[0][pk])
		high := fmt.Sprint(sourceRows[len(sourceRows)-1][pk])
		targetRows, err := r.fetchRange(ctx, opts.Target, columns, pk, low, high)
		if err != nil {
			return stats, err
		}

		fixes, err := r.compare(opts.Target, columns, pk, sourceRows, targetRows, &stats)
		if err != nil {
			return stats, err
		}

		keyRange := low
		if low != high {
			keyRange = low + "..." + high
		}
		if len(fixes) > 0 {
			logging.Info("Batch %d: Found %d differences (keys in range %s)", stats.Batches, len(fixes), keyRange)
			if err := r.apply(ctx, fixes); err != nil {
				return stats, err
			}
		} else {
			logging.Info("Batch %d: All %d rows match (keys in range %s)", stats.Batches, len(sourceRows), keyRange)
		}

		cursor = high

		elapsed := r.now().Sub(began)
		wait := opts.Delay + time.Duration(float64(elapsed)*opts.DelayMultiplier)
		if wait > 0 {
			logging.Info("Sleeping %s (%s base + %s batch time * %g multiplier)",
				wait.Round(10*time.Millisecond), opts.Delay, elapsed.Round(10*time.Millisecond), opts.DelayMultiplier)
			if err := r.sleep(ctx, wait); err != nil {
				return stats, err
			}
		}

		if len(sourceRows) < opts.WindowSize {
			break
		}
	}

	r.summary(stats)
	return stats, nil
}

func (r *Reconciler) verifySchemas(ctx context.Context, source, target table.Ref) ([]string, error) {
	sourceCols, err := r.catalog.ColumnSchema(ctx, source)
	if err != nil {
		return nil, err
	}
	targetCols, err := r.catalog.ColumnSchema(ctx, target)
	if err != nil {
		return nil, err
	}

	targetTypes := make(map[string]string, len(targetCols))
	for _, c := range targetCols {
		targetTypes[c.Name] = c.DataType
	}
	names := make([]string, 0, len(sourceCols))
	for _, c := range sourceCols {
		dataType, ok := targetTypes[c.Name]
		if !ok {
			return nil, fmt.Errorf("Column '%s' exists in %s but not in %s", c.Name, source, target)
		}
		if dataType != c.DataType {
			return nil, fmt.Errorf("Column '%s' type mismatch: %s has %s, %s has %s", c.Name, source, c.DataType, target, dataType)
		}
		names = append(names, c.Name)
	}
	for _, c := range targetCols {
		if !contains(names, c.Name) {
			return nil, fmt.Errorf("Column '%s' exists in %s but not in %s", c.Name, target, source)
		}
	}
	return names, nil
}

func (r *Reconciler) firstKey(ctx context.Context, t table.Ref, pk string) (any, error) {
	col := session.QuoteIdent(pk)
	rows, err := r.db.Select(ctx, fmt.Sprintf("SELECT %s::text AS value FROM %s ORDER BY %s LIMIT 1", col, t.Quoted(), orderKey(t, pk)))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0]["value"], nil
}

// selectList casts every column to text so values compare and re-emit
// independently of their type. The casts keep the column names, so
// ordering must go through orderKey.
func selectList(columns []string) string {
	parts := make([]string, len(columns))
	for i, c := range columns {
		q := session.QuoteIdent(c)
		parts[i] = q + "::text AS " + q
	}
	return strings.Join(parts, ", ")
}

// orderKey qualifies the key column so ORDER BY sorts the stored value and
// not its text alias from selectList.
func orderKey(t table.Ref, pk string) string {
	return t.Quoted() + "." + session.QuoteIdent(pk)
}

func (r *Reconciler) fetchBatch(ctx context.Context, t table.Ref, columns []string, pk, cursor string, limit int, first bool) ([]row, error) {
	op := ">"
	if first {
		op = ">="
	}
	col := session.QuoteIdent(pk)
	query := fmt.Sprintf("SELECT %s\nFROM %s\nWHERE %s %s %s\nORDER BY %s\nLIMIT %d",
		selectList(columns), t.Quoted(), col, op, session.QuoteLiteral(cursor), orderKey(t, pk), limit)
	return r.selectRows(ctx, query)
}

func (r *Reconciler) fetchRange(ctx context.Context, t table.Ref, columns []string, pk, low, high string) ([]row, error) {
	col := session.QuoteIdent(pk)
	query := fmt.Sprintf("SELECT %s\nFROM %s\nWHERE %s >= %s\n  AND %s <= %s\nORDER BY %s",
		selectList(columns), t.Quoted(), col, session.QuoteLiteral(low), col, session.QuoteLiteral(high), orderKey(t, pk))
	return r.selectRows(ctx, query)
}

func (r *Reconciler) selectRows(ctx context.Context, query string) ([]row, error) {
	rows, err := r.db.Select(ctx, query)
	if err != nil {
		return nil, err
	}
	out := make([]row, len(rows))
	for i, rw := range rows {
		out[i] = row(rw)
	}
	return out, nil
}

func (r *Reconciler) compare(target table.Ref, columns []string, pk string, sourceRows, targetRows []row, stats *Stats) ([]string, error) {
	byKey := make(map[string]row, len(targetRows))
	for _, t := range targetRows {
		byKey[fmt.Sprint(t[pk])] = t
	}

	var fixes []string
	seen := make(map[string]bool, len(sourceRows))
	for _, s := range sourceRows {
		key := fmt.Sprint(s[pk])
		seen[key] = true

		t, ok := byKey[key]
		if !ok {
			stats.Missing++
			fixes = append(fixes, insertStatement(target, columns, s))
			continue
		}

		changes, err := diff.Diff(map[string]any(t), map[string]any(s))
		if err != nil {
			return nil, fmt.Errorf("comparing %s = %s: %w", pk, key, err)
		}
		if len(changes) == 0 {
			stats.Matching++
			continue
		}
		stats.Differing++
		logging.Debug("%s = %s differs in %s", pk, key, changedColumns(changes))
		fixes = append(fixes, updateStatement(target, columns, pk, s))
	}

	for _, t := range targetRows {
		key := fmt.Sprint(t[pk])
		if seen[key] {
			continue
		}
		stats.Extra++
		fixes = append(fixes, deleteStatement(target, pk, key))
	}
	return fixes, nil
}

func changedColumns(changes diff.Changelog) string {
	cols := make([]string, 0, len(changes))
	for _, c := range changes {
		cols = append(cols, strings.Join(c.Path, "."))
	}
	return strings.Join(cols, ", ")
}

func (r *Reconciler) apply(ctx context.Context, fixes []string) error {
	if r.db.DryRun() {
		r.db.Echo("-- Dry run mode: logging statements (not executing)")
		r.db.Echo(fixes...)
		r.db.Echo("")
		return nil
	}
	for _, f := range fixes {
		r.db.Echo(truncateForLog(f))
	}
	return r.db.RunQueriesSilent(ctx, fixes)
}

func (r *Reconciler) summary(stats Stats) {
	logging.Info("Synchronization complete")
	logging.Info("%s", strings.Repeat("=", 50))
	logging.Info("Total batches: %s", humanize.Comma(stats.Batches))
	logging.Info("Total rows compared: %s", humanize.Comma(stats.Rows))
	logging.Info("Matching rows: %s", humanize.Comma(stats.Matching))
	logging.Info("Rows with differences: %s", humanize.Comma(stats.Differing))
	logging.Info("Missing rows: %s", humanize.Comma(stats.Missing))
	logging.Info("Extra rows: %s", humanize.Comma(stats.Extra))
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func pause(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
