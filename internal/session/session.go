// Package session owns the single PostgreSQL connection used by a pgslice
// invocation. Every mutating statement is echoed to the output writer
// before it runs, and in dry-run mode it is only echoed.
package session

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Row is one result row keyed by column name.
type Row = map[string]any

// Executor is the part of a Session the commands depend on.
type Executor interface {
	// Select runs a read-only query. It runs in dry-run mode too.
	Select(ctx context.Context, query string, args ...any) ([]Row, error)
	// RunQueries echoes and executes queries inside one transaction.
	RunQueries(ctx context.Context, queries []string) error
	// RunQueriesSilent is RunQueries without echoing.
	RunQueriesSilent(ctx context.Context, queries []string) error
	// RunQuery echoes and executes a single statement outside a transaction.
	RunQuery(ctx context.Context, query string) error
	// RunReturning echoes and executes a statement that returns rows.
	// In dry-run mode it returns no rows.
	RunReturning(ctx context.Context, query string) ([]Row, error)
	// Echo writes lines to the SQL output.
	Echo(lines ...string)
	DryRun() bool
	Schema() string
	ServerVersionNum() int
}

// Options configures Connect.
type Options struct {
	ConnString string
	Schema     string
	DryRun     bool
	Out        io.Writer // SQL output, stdout when nil
}

// Session is a single connection plus the invocation-wide flags.
type Session struct {
	conn             *pgx.Conn
	schema           string
	serverVersionNum int
	dryRun           bool
	out              io.Writer
}

var _ Executor = (*Session)(nil)

// Connect opens the connection and reads the server version.
func Connect(ctx context.Context, opts Options) (*Session, error) {
	connCfg, err := pgx.ParseConfig(opts.ConnString)
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	// ANALYZE VERBOSE and friends report through notices
	connCfg.OnNotice = func(_ *pgconn.PgConn, n *pgconn.Notice) {
		fmt.Fprintln(out, n.Message)
	}

	conn, err := pgx.ConnectConfig(ctx, connCfg)
	if err != nil {
		return nil, fmt.Errorf("connecting: %w", err)
	}

	var versionNum string
	if err := conn.QueryRow(ctx, "SHOW server_version_num").Scan(&versionNum); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("reading server version: %w", translate(err))
	}
	num, err := strconv.Atoi(versionNum)
	if err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("parsing server version %q: %w", versionNum, err)
	}

	schema := opts.Schema
	if schema == "" {
		schema = "public"
	}

	return &Session{
		conn:             conn,
		schema:           schema,
		serverVersionNum: num,
		dryRun:           opts.DryRun,
		out:              out,
	}, nil
}

// Close closes the connection.
func (s *Session) Close(ctx context.Context) error {
	return s.conn.Close(ctx)
}

// Conn returns the underlying connection.
func (s *Session) Conn() *pgx.Conn {
	return s.conn
}

func (s *Session) Schema() string        { return s.schema }
func (s *Session) ServerVersionNum() int { return s.serverVersionNum }
func (s *Session) DryRun() bool          { return s.dryRun }

// Select runs a query and collects all rows.
func (s *Session) Select(ctx context.Context, query string, args ...any) ([]Row, error) {
	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, translate(err)
	}
	result, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, translate(err)
	}
	return result, nil
}

func (s *Session) RunQueries(ctx context.Context, queries []string) error {
	return s.runQueries(ctx, queries, false)
}

func (s *Session) RunQueriesSilent(ctx context.Context, queries []string) error {
	return s.runQueries(ctx, queries, true)
}

func (s *Session) runQueries(ctx context.Context, queries []string, silent bool) error {
	if !silent {
		s.Echo("BEGIN;", "")
	}

	if s.dryRun {
		if !silent {
			for _, q := range queries {
				s.echoQuery(q)
			}
			s.Echo("COMMIT;")
		}
		return nil
	}

	err := pgx.BeginFunc(ctx, s.conn, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SET LOCAL client_min_messages TO warning"); err != nil {
			return translate(err)
		}
		for _, q := range queries {
			if !silent {
				s.echoQuery(q)
			}
			if _, err := tx.Exec(ctx, q); err != nil {
				return translate(err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if !silent {
		s.Echo("COMMIT;")
	}
	return nil
}

func (s *Session) RunQuery(ctx context.Context, query string) error {
	s.echoQuery(query)
	if s.dryRun {
		return nil
	}
	if _, err := s.conn.Exec(ctx, query); err != nil {
		return translate(err)
	}
	return nil
}

func (s *Session) RunReturning(ctx context.Context, query string) ([]Row, error) {
	s.echoQuery(query)
	if s.dryRun {
		return nil, nil
	}
	return s.Select(ctx, query)
}

func (s *Session) Echo(lines ...string) {
	for _, line := range lines {
		fmt.Fprintln(s.out, line)
	}
}

// echoQuery prints a statement followed by a blank line.
func (s *Session) echoQuery(query string) {
	s.Echo(strings.TrimRight(query, "\n"), "")
}
