package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/johndauphine/pgslice/internal/config"
	"github.com/johndauphine/pgslice/internal/session"
	"github.com/johndauphine/pgslice/internal/session/sessiontest"
	"github.com/johndauphine/pgslice/internal/version"
)

// isolate clears the PGSLICE_* environment for the duration of the test.
func isolate(t *testing.T) {
	t.Helper()
	for _, key := range []string{"PGSLICE_CONFIG", "PGSLICE_URL", "PGSLICE_DRY_RUN", "PGSLICE_LOG_LEVEL", "PGSLICE_LOG_FORMAT", "PGSLICE_LOCK_TIMEOUT"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

// useFake routes commands to an in-memory session where only the listed
// tables exist.
func useFake(t *testing.T, tables ...string) *sessiontest.Fake {
	t.Helper()
	f := sessiontest.New()
	f.OnFunc("pg_catalog.pg_tables", func(_ string, args []any) ([]session.Row, error) {
		for _, name := range tables {
			if args[1] == name {
				return []session.Row{{"count": int64(1)}}, nil
			}
		}
		return []session.Row{{"count": int64(0)}}, nil
	})

	saved := openSession
	openSession = func(_ context.Context, cfg *config.Config, _ io.Writer) (session.Executor, func(), error) {
		f.Dry = cfg.DryRun
		return f, func() {}, nil
	}
	t.Cleanup(func() { openSession = saved })
	return f
}

func run(args ...string) (string, error) {
	var out, errOut bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &errOut
	err := execute(app, append([]string{"pgslice"}, args...))
	return errOut.String(), err
}

func TestVersionCommand(t *testing.T) {
	isolate(t)

	stderr, err := run("version")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "pgslice " + version.Version
	if !strings.Contains(stderr, want) {
		t.Errorf("expected %q in %q", want, stderr)
	}
}

func TestMissingArguments(t *testing.T) {
	isolate(t)
	saved := openSession
	openSession = func(context.Context, *config.Config, io.Writer) (session.Executor, func(), error) {
		t.Fatal("session opened without arguments")
		return nil, nil, nil
	}
	defer func() { openSession = saved }()

	tests := []struct {
		args []string
		want string
	}{
		{[]string{"swap"}, "Usage: pgslice swap TABLE"},
		{[]string{"prep"}, "Usage: pgslice prep TABLE [COLUMN] [PERIOD]"},
		{[]string{"prep_hash", "posts", "id"}, "Usage: pgslice prep_hash TABLE COLUMN PARTITIONS"},
		{[]string{"enable_mirroring"}, "Usage: pgslice enable_mirroring TABLE"},
		{[]string{"swap", "posts", "comments"}, "Usage: pgslice swap TABLE"},
		{[]string{"prep", "posts", "createdAt", "month", "extra"}, "Usage: pgslice prep TABLE [COLUMN] [PERIOD]"},
		{[]string{"unprep", "--", "-posts"}, "Usage: pgslice unprep TABLE\nunexpected argument: -posts"},
	}

	for _, tt := range tests {
		t.Run(tt.args[0], func(t *testing.T) {
			_, err := run(tt.args...)
			if err == nil || err.Error() != tt.want {
				t.Errorf("expected %q, got %v", tt.want, err)
			}
		})
	}
}

func TestNoURL(t *testing.T) {
	isolate(t)

	_, err := run("unprep", "posts")
	if !errors.Is(err, config.ErrNoURL) {
		t.Errorf("expected ErrNoURL, got %v", err)
	}
}

func TestInvalidLogLevel(t *testing.T) {
	isolate(t)

	if _, err := run("--log-level", "loud", "version"); err == nil {
		t.Error("expected an error for an unknown log level")
	}
}

func TestSwapUsesConfiguredLockTimeout(t *testing.T) {
	tests := []struct {
		name string
		env  string
		args []string
		want string
	}{
		{"default", "", []string{"swap", "posts"}, "SET LOCAL lock_timeout = '5s';"},
		{"environment", "10s", []string{"swap", "posts"}, "SET LOCAL lock_timeout = '10s';"},
		{"flag wins", "10s", []string{"swap", "--lock-timeout", "1s", "posts"}, "SET LOCAL lock_timeout = '1s';"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			if tt.env != "" {
				t.Setenv("PGSLICE_LOCK_TIMEOUT", tt.env)
			}
			f := useFake(t, "posts", "posts_intermediate")

			if _, err := run(tt.args...); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(f.Transactions) != 1 || f.Transactions[0][0] != tt.want {
				t.Errorf("expected first statement %q, got %v", tt.want, f.Transactions)
			}
		})
	}
}

func TestUnswapUsesConfiguredLockTimeout(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"default", []string{"unswap", "posts"}, "SET LOCAL lock_timeout = '5s';"},
		{"flag", []string{"unswap", "posts", "--lock-timeout", "1s"}, "SET LOCAL lock_timeout = '1s';"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			f := useFake(t, "posts", "posts_retired")

			if _, err := run(tt.args...); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(f.Transactions) != 1 || f.Transactions[0][0] != tt.want {
				t.Errorf("expected first statement %q, got %v", tt.want, f.Transactions)
			}
		})
	}
}

func TestFlagsAfterTable(t *testing.T) {
	t.Run("global flag", func(t *testing.T) {
		isolate(t)
		f := useFake(t, "posts", "posts_intermediate")

		if _, err := run("swap", "posts", "--dry-run"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(f.Transactions) != 0 {
			t.Errorf("expected no transactions, got %v", f.Transactions)
		}
	})

	t.Run("command flag with value", func(t *testing.T) {
		isolate(t)
		f := useFake(t, "posts", "posts_intermediate")

		if _, err := run("swap", "posts", "--lock-timeout", "1s"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := "SET LOCAL lock_timeout = '1s';"
		if len(f.Transactions) != 1 || f.Transactions[0][0] != want {
			t.Errorf("expected first statement %q, got %v", want, f.Transactions)
		}
	})

	t.Run("command bool flag", func(t *testing.T) {
		isolate(t)
		f := useFake(t, "posts")

		if _, err := run("prep", "posts", "--no-partition"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(f.Transactions) != 1 || !strings.HasPrefix(f.Transactions[0][0], `CREATE TABLE "public"."posts_intermediate"`) {
			t.Errorf("expected the intermediate table to be created, got %v", f.Transactions)
		}
	})

	t.Run("unknown flag", func(t *testing.T) {
		isolate(t)
		useFake(t, "posts", "posts_intermediate")

		if _, err := run("swap", "posts", "--lock"); err == nil {
			t.Error("expected an error for an unknown flag")
		}
	})
}

func TestReorderArgs(t *testing.T) {
	app := newApp()
	tests := []struct {
		in   string
		want string
	}{
		{"pgslice swap posts", "pgslice swap posts"},
		{"pgslice swap posts --dry-run", "pgslice --dry-run swap posts"},
		{"pgslice swap posts --lock-timeout 1s", "pgslice swap --lock-timeout 1s posts"},
		{"pgslice swap posts --lock-timeout=1s --url postgres://db", "pgslice --url postgres://db swap --lock-timeout=1s posts"},
		{"pgslice -c pgslice.yml prep posts createdAt --trigger-based month", "pgslice -c pgslice.yml prep --trigger-based posts createdAt month"},
		{"pgslice fill posts --start -5 --swapped", "pgslice fill --start -5 --swapped posts"},
		{"pgslice unprep -- -posts", "pgslice unprep -- -posts"},
		{"pgslice nosuch posts --dry-run", "pgslice nosuch posts --dry-run"},
		{"pgslice --dry-run", "pgslice --dry-run"},
	}

	for _, tt := range tests {
		got := strings.Join(reorderArgs(app, strings.Fields(tt.in)), " ")
		if got != tt.want {
			t.Errorf("reorderArgs(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDryRunExecutesNothing(t *testing.T) {
	isolate(t)
	f := useFake(t, "posts", "posts_intermediate")

	if _, err := run("--dry-run", "swap", "posts"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.Transactions) != 0 {
		t.Errorf("expected no transactions, got %v", f.Transactions)
	}
	if !strings.Contains(f.Out.String(), `RENAME TO "posts_retired"`) {
		t.Errorf("expected statements to be echoed, got %q", f.Out.String())
	}
}

func TestPreconditionErrorsReachTheUser(t *testing.T) {
	isolate(t)
	useFake(t)

	_, err := run("unprep", "posts")
	if err == nil || err.Error() != "Table not found: public.posts_intermediate" {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestFillValidatesBatchSize(t *testing.T) {
	isolate(t)
	useFake(t, "posts", "posts_intermediate")

	_, err := run("fill", "--batch-size", "0", "posts")
	if err == nil || !strings.Contains(err.Error(), "batch_size must be positive") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestPrepHashPartitionCount(t *testing.T) {
	isolate(t)
	useFake(t, "posts")

	_, err := run("prep_hash", "posts", "id", "many")
	if err == nil || err.Error() != "invalid partition count: many" {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestSeconds(t *testing.T) {
	if got := seconds(1.5); got.Milliseconds() != 1500 {
		t.Errorf("expected 1500ms, got %v", got)
	}
	if got := seconds(0); got != 0 {
		t.Errorf("expected 0, got %v", got)
	}
}
