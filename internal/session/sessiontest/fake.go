// Package sessiontest provides an in-memory session.Executor for tests.
package sessiontest

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/johndauphine/pgslice/internal/session"
)

// Responder produces rows for a matched query.
type Responder func(query string, args []any) ([]session.Row, error)

type rule struct {
	match   string
	respond Responder
}

// Fake records every statement and answers Select calls from rules
// registered with On and OnFunc. The first rule whose match string is a
// substring of the query wins; unmatched queries return no rows.
type Fake struct {
	SchemaName string
	Version    int
	Dry        bool

	// Out collects echoed SQL, as a real session would print it.
	Out bytes.Buffer
	// Transactions holds each RunQueries batch.
	Transactions [][]string
	// Statements holds RunQuery and RunReturning statements.
	Statements []string
	// Selects holds every Select query.
	Selects []string

	rules []rule
	fail  map[string]error
}

var _ session.Executor = (*Fake)(nil)

// New returns a fake for schema public on PostgreSQL 16.
func New() *Fake {
	return &Fake{SchemaName: "public", Version: 160000, fail: map[string]error{}}
}

// On answers queries containing match with rows.
func (f *Fake) On(match string, rows ...session.Row) *Fake {
	return f.OnFunc(match, func(string, []any) ([]session.Row, error) {
		return rows, nil
	})
}

// OnFunc answers queries containing match with fn.
func (f *Fake) OnFunc(match string, fn Responder) *Fake {
	f.rules = append(f.rules, rule{match: match, respond: fn})
	return f
}

// FailOn makes any executed statement containing match return err.
func (f *Fake) FailOn(match string, err error) *Fake {
	f.fail[match] = err
	return f
}

func (f *Fake) Select(_ context.Context, query string, args ...any) ([]session.Row, error) {
	f.Selects = append(f.Selects, query)
	if err := f.failure(query); err != nil {
		return nil, err
	}
	return f.answer(query, args)
}

func (f *Fake) answer(query string, args []any) ([]session.Row, error) {
	for _, r := range f.rules {
		if strings.Contains(query, r.match) {
			return r.respond(query, args)
		}
	}
	return nil, nil
}

func (f *Fake) failure(query string) error {
	for match, err := range f.fail {
		if strings.Contains(query, match) {
			return err
		}
	}
	return nil
}

func (f *Fake) RunQueries(_ context.Context, queries []string) error {
	f.Echo("BEGIN;", "")
	for _, q := range queries {
		f.echoQuery(q)
		if err := f.failure(q); err != nil {
			return err
		}
	}
	f.Echo("COMMIT;")
	if !f.Dry {
		f.Transactions = append(f.Transactions, append([]string(nil), queries...))
	}
	return nil
}

func (f *Fake) RunQueriesSilent(_ context.Context, queries []string) error {
	for _, q := range queries {
		if err := f.failure(q); err != nil {
			return err
		}
	}
	if !f.Dry {
		f.Transactions = append(f.Transactions, append([]string(nil), queries...))
	}
	return nil
}

func (f *Fake) RunQuery(_ context.Context, query string) error {
	f.echoQuery(query)
	if err := f.failure(query); err != nil {
		return err
	}
	if !f.Dry {
		f.Statements = append(f.Statements, query)
	}
	return nil
}

func (f *Fake) RunReturning(_ context.Context, query string) ([]session.Row, error) {
	f.echoQuery(query)
	if f.Dry {
		return nil, nil
	}
	if err := f.failure(query); err != nil {
		return nil, err
	}
	f.Statements = append(f.Statements, query)
	return f.answer(query, nil)
}

func (f *Fake) Echo(lines ...string) {
	for _, line := range lines {
		fmt.Fprintln(&f.Out, line)
	}
}

func (f *Fake) echoQuery(query string) {
	f.Echo(strings.TrimRight(query, "\n"), "")
}

func (f *Fake) DryRun() bool          { return f.Dry }
func (f *Fake) Schema() string        { return f.SchemaName }
func (f *Fake) ServerVersionNum() int { return f.Version }

// AllExecuted flattens transactions and standalone statements in order of
// recording within each group: transactions first, then statements.
func (f *Fake) AllExecuted() []string {
	var all []string
	for _, tx := range f.Transactions {
		all = append(all, tx...)
	}
	return append(all, f.Statements...)
}
