// Package fill copies rows from a source table into a destination table in
// primary key batches, resuming from whatever the destination already
// holds.
package fill

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/johndauphine/pgslice/internal/logging"
	"github.com/johndauphine/pgslice/internal/period"
	"github.com/johndauphine/pgslice/internal/progress"
	"github.com/johndauphine/pgslice/internal/session"
	"github.com/johndauphine/pgslice/internal/table"
)

// Keys is the catalog access the engine needs to position its cursor.
type Keys interface {
	MaxKey(ctx context.Context, t table.Ref, key string, conditions ...string) (string, bool, error)
	MinKey(ctx context.Context, t table.Ref, key string, conditions ...string) (string, bool, error)
}

// TimeWindow restricts copied rows to the range covered by partitions.
type TimeWindow struct {
	Column string
	Cast   period.Cast
	Start  time.Time
	End    time.Time
}

func (w *TimeWindow) condition() string {
	col := session.QuoteIdent(w.Column)
	return fmt.Sprintf("%s >= %s AND %s < %s",
		col, period.SQLDate(w.Start, w.Cast, true),
		col, period.SQLDate(w.End, w.Cast, true))
}

// Job is one fill run.
type Job struct {
	Source     table.Ref
	Dest       table.Ref
	Columns    []string
	PrimaryKey string
	Window     *TimeWindow // nil copies every row
	Where      string
	Start      string // explicit starting cursor
	Swapped    bool
	BatchSize  int
	Sleep      time.Duration
}

// Engine runs fill jobs.
type Engine struct {
	db       session.Executor
	keys     Keys
	progress io.Writer
}

// New creates an engine. When progress is non-nil a progress bar is drawn
// to it.
func New(db session.Executor, keys Keys, progress io.Writer) *Engine {
	return &Engine{db: db, keys: keys, progress: progress}
}

// Run copies all rows of the source above the destination's cursor.
func (e *Engine) Run(ctx context.Context, job Job) error {
	if job.PrimaryKey == "" {
		return errors.New("No primary key")
	}
	if job.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}

	runID := uuid.NewString()
	logging.Debug("fill %s: %s -> %s", runID, job.Source, job.Dest)

	maxSource, ok, err := e.keys.MaxKey(ctx, job.Source, job.PrimaryKey)
	if err != nil {
		if session.HasCode(err, session.CodeUndefinedFunction) {
			return ErrUnsupportedKey
		}
		return fmt.Errorf("reading max key of %s: %w", job.Source, err)
	}
	if !ok && job.Start == "" {
		e.db.Echo("/* nothing to fill */")
		return nil
	}

	// the source decides the key type; --start only stands in for an
	// empty source
	sample := maxSource
	if !ok {
		sample = job.Start
	}
	strategy, err := DetectStrategy(sample)
	if err != nil {
		return err
	}
	if !ok {
		maxSource = strategy.Floor()
	}
	logging.Debug("fill %s: %s keys, source max %s", runID, strategy.Name(), maxSource)

	cursor, err := e.startingCursor(ctx, job, strategy, maxSource)
	if err != nil {
		return err
	}

	if !strategy.Less(cursor, maxSource) {
		e.db.Echo("/* nothing to fill */")
		return nil
	}

	if strategy.Bounded() {
		return e.fillBounded(ctx, job, strategy, cursor, maxSource)
	}
	return e.fillSorted(ctx, job, strategy, cursor, maxSource)
}

// startingCursor is --start, else the destination max, else just below
// the first source row inside the partition window.
func (e *Engine) startingCursor(ctx context.Context, job Job, strategy KeyStrategy, maxSource string) (string, error) {
	if job.Start != "" {
		if !strategy.Valid(job.Start) {
			return "", fmt.Errorf("Invalid start for %s primary key: %s", strategy.Name(), job.Start)
		}
		return job.Start, nil
	}

	pk := session.QuoteIdent(job.PrimaryKey)
	var conds []string
	if job.Swapped {
		conds = append(conds, fmt.Sprintf("%s <= %s", pk, literal(strategy, maxSource)))
	}
	if job.Where != "" {
		conds = append(conds, job.Where)
	}
	maxDest, ok, err := e.keys.MaxKey(ctx, job.Dest, job.PrimaryKey, conds...)
	if err != nil {
		return "", fmt.Errorf("reading max key of %s: %w", job.Dest, err)
	}
	if !ok {
		maxDest = strategy.Floor()
	}
	if job.Swapped || maxDest != strategy.Floor() {
		return maxDest, nil
	}

	conds = conds[:0]
	if job.Window != nil {
		col := session.QuoteIdent(job.Window.Column)
		conds = append(conds, fmt.Sprintf("%s >= %s", col, period.SQLDate(job.Window.Start, job.Window.Cast, true)))
	}
	if job.Where != "" {
		conds = append(conds, job.Where)
	}
	minSource, ok, err := e.keys.MinKey(ctx, job.Source, job.PrimaryKey, conds...)
	if err != nil {
		return "", fmt.Errorf("reading min key of %s: %w", job.Source, err)
	}
	if !ok {
		return strategy.Floor(), nil
	}
	return e.predecessor(ctx, job, strategy, minSource)
}

func (e *Engine) predecessor(ctx context.Context, job Job, strategy KeyStrategy, id string) (string, error) {
	if n, ok := strategy.(NumericKeys); ok {
		return n.Predecessor(id), nil
	}
	cond := fmt.Sprintf("%s < %s", session.QuoteIdent(job.PrimaryKey), session.QuoteLiteral(id))
	prev, ok, err := e.keys.MaxKey(ctx, job.Source, job.PrimaryKey, cond)
	if err != nil {
		return "", fmt.Errorf("reading key before %s: %w", id, err)
	}
	if !ok {
		return strategy.Floor(), nil
	}
	return prev, nil
}

func literal(strategy KeyStrategy, v string) string {
	if strategy.Bounded() {
		return v
	}
	return session.QuoteLiteral(v)
}

func (e *Engine) filter(job Job, strategy KeyStrategy, cursor, maxSource string) string {
	parts := []string{strategy.Window(job.PrimaryKey, cursor, job.BatchSize)}
	if !strategy.Bounded() {
		parts = append(parts, fmt.Sprintf("%s <= %s", session.QuoteIdent(job.PrimaryKey), literal(strategy, maxSource)))
	}
	if job.Window != nil {
		parts = append(parts, job.Window.condition())
	}
	if job.Where != "" {
		parts = append(parts, job.Where)
	}
	return strings.Join(parts, " AND ")
}

func (e *Engine) tracker(total int) *progress.Tracker {
	if e.progress == nil {
		return nil
	}
	return progress.New(e.progress, "Filling", int64(total))
}

func (e *Engine) fillBounded(ctx context.Context, job Job, strategy KeyStrategy, cursor, maxSource string) error {
	fields := session.QuoteIdents(job.Columns)
	count := strategy.BatchCount(cursor, maxSource, job.BatchSize)
	bar := e.tracker(count)

	for i := 1; strategy.Less(cursor, maxSource); i++ {
		query := fmt.Sprintf("/* %d of %d */\nINSERT INTO %s (%s)\n    SELECT %s FROM %s\n    WHERE %s",
			i, count, job.Dest.Quoted(), fields, fields, job.Source.Quoted(),
			e.filter(job, strategy, cursor, maxSource))
		if err := e.db.RunQuery(ctx, query); err != nil {
			return err
		}
		if bar != nil {
			bar.Add(1)
		}

		cursor = strategy.Next(cursor, job.BatchSize)
		if strategy.Less(cursor, maxSource) {
			if err := pause(ctx, job.Sleep); err != nil {
				return err
			}
		}
	}

	if bar != nil {
		bar.Finish()
	}
	return nil
}

func (e *Engine) fillSorted(ctx context.Context, job Job, strategy KeyStrategy, cursor, maxSource string) error {
	fields := session.QuoteIdents(job.Columns)
	pk := session.QuoteIdent(job.PrimaryKey)
	bar := e.tracker(-1)

	for i := 1; strategy.Less(cursor, maxSource); i++ {
		where := e.filter(job, strategy, cursor, maxSource)
		query := fmt.Sprintf("/* batch %d */\nWITH batch AS (\n    INSERT INTO %s (%s)\n        SELECT %s FROM %s\n        WHERE %s\n        ORDER BY %s\n        LIMIT %d\n    RETURNING %s\n)\nSELECT MAX(%s)::text AS value FROM batch",
			i, job.Dest.Quoted(), fields, fields, job.Source.Quoted(), where, pk, job.BatchSize, pk, pk)
		rows, err := e.db.RunReturning(ctx, query)
		if err != nil {
			return err
		}

		// nothing was written in dry-run, so preview where the batch would end
		if e.db.DryRun() {
			preview := fmt.Sprintf("SELECT MAX(%s)::text AS value FROM (SELECT %s FROM %s WHERE %s ORDER BY %s LIMIT %d) AS batch",
				pk, pk, job.Source.Quoted(), where, pk, job.BatchSize)
			if rows, err = e.db.Select(ctx, preview); err != nil {
				return err
			}
		}
		if bar != nil {
			bar.Add(1)
		}

		if len(rows) == 0 || rows[0]["value"] == nil {
			break
		}
		next := fmt.Sprint(rows[0]["value"])
		if !strategy.Less(cursor, next) {
			break
		}
		cursor = next

		if strategy.Less(cursor, maxSource) {
			if err := pause(ctx, job.Sleep); err != nil {
				return err
			}
		}
	}

	if bar != nil {
		bar.Finish()
	}
	return nil
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
