package orchestrator

import (
	"context"
	"fmt"

	"github.com/johndauphine/pgslice/internal/session"
	"github.com/johndauphine/pgslice/internal/table"
)

// DefaultLockTimeout bounds the renames of swap and unswap when no other
// timeout is given.
const DefaultLockTimeout = "5s"

// Swap renames TABLE to TABLE_retired and TABLE_intermediate to TABLE in
// one transaction, giving up after lockTimeout if the renames cannot get
// their locks.
func (o *Orchestrator) Swap(ctx context.Context, name, lockTimeout string) error {
	t := o.table(name)
	intermediate, retired := t.Intermediate(), t.Retired()

	if err := o.assertTable(ctx, t); err != nil {
		return err
	}
	if err := o.assertTable(ctx, intermediate); err != nil {
		return err
	}
	if err := o.assertNoTable(ctx, retired); err != nil {
		return err
	}

	queries := []string{
		fmt.Sprintf("ALTER TABLE %s RENAME TO %s;", t.Quoted(), retired.QuotedName()),
		fmt.Sprintf("ALTER TABLE %s RENAME TO %s;", intermediate.Quoted(), t.QuotedName()),
	}
	owned, err := o.reownSequences(ctx, t)
	if err != nil {
		return err
	}
	queries = append(queries, owned...)

	return o.rename(ctx, t, lockTimeout, queries)
}

// Unswap reverses Swap under the same lock timeout.
func (o *Orchestrator) Unswap(ctx context.Context, name, lockTimeout string) error {
	t := o.table(name)
	intermediate, retired := t.Intermediate(), t.Retired()

	if err := o.assertTable(ctx, t); err != nil {
		return err
	}
	if err := o.assertTable(ctx, retired); err != nil {
		return err
	}
	if err := o.assertNoTable(ctx, intermediate); err != nil {
		return err
	}

	queries := []string{
		fmt.Sprintf("ALTER TABLE %s RENAME TO %s;", t.Quoted(), intermediate.QuotedName()),
		fmt.Sprintf("ALTER TABLE %s RENAME TO %s;", retired.Quoted(), t.QuotedName()),
	}
	owned, err := o.reownSequences(ctx, t)
	if err != nil {
		return err
	}
	queries = append(queries, owned...)

	return o.rename(ctx, t, lockTimeout, queries)
}

// rename runs the rename statements in one transaction after setting
// lock_timeout.
func (o *Orchestrator) rename(ctx context.Context, t table.Ref, lockTimeout string, queries []string) error {
	if lockTimeout == "" {
		lockTimeout = DefaultLockTimeout
	}
	err := o.db.RunQueries(ctx, append([]string{setLockTimeout(lockTimeout)}, queries...))
	if session.HasCode(err, session.CodeLockNotAvailable) {
		return fmt.Errorf("Could not lock %s within lock timeout %s, retry when it is less busy: %w", t, lockTimeout, err)
	}
	return err
}

// reownSequences moves the sequences currently owned by t over to
// whatever table carries its name once the renames commit.
func (o *Orchestrator) reownSequences(ctx context.Context, t table.Ref) ([]string, error) {
	seqs, err := o.catalog.Sequences(ctx, t)
	if err != nil {
		return nil, err
	}
	queries := make([]string, 0, len(seqs))
	for _, seq := range seqs {
		queries = append(queries, fmt.Sprintf("ALTER SEQUENCE %s OWNED BY %s.%s;",
			seq.Quoted(), t.Quoted(), session.QuoteIdent(seq.RelatedColumn)))
	}
	return queries, nil
}

func setLockTimeout(d string) string {
	return fmt.Sprintf("SET LOCAL lock_timeout = %s;", session.QuoteLiteral(d))
}
