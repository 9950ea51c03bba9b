package orchestrator

import (
	"regexp"
	"strings"
	"time"

	"github.com/johndauphine/pgslice/internal/session"
	"github.com/johndauphine/pgslice/internal/session/sessiontest"
	"github.com/johndauphine/pgslice/internal/table"
)

// world is a tiny model of the catalog of schema public. Tables are keyed
// by bare name.
type world struct {
	tables          map[string]bool
	columns         map[string][]table.Column
	pk              map[string][]string
	indexes         map[string][]string
	fks             map[string][]string
	stats           map[string][]string
	sequences       map[string][]table.Sequence
	partitions      map[string][]string
	tableComments   map[string]string
	triggerComments map[string]string
	functionDefs    map[string]string
	maxKeys         map[string]string
	minKeys         map[string]string
}

func newWorld(tables ...string) *world {
	w := &world{
		tables:          map[string]bool{},
		columns:         map[string][]table.Column{},
		pk:              map[string][]string{},
		indexes:         map[string][]string{},
		fks:             map[string][]string{},
		stats:           map[string][]string{},
		sequences:       map[string][]table.Sequence{},
		partitions:      map[string][]string{},
		tableComments:   map[string]string{},
		triggerComments: map[string]string{},
		functionDefs:    map[string]string{},
		maxKeys:         map[string]string{},
		minKeys:         map[string]string{},
	}
	for _, t := range tables {
		w.tables[t] = true
	}
	return w
}

var postsColumns = []table.Column{
	{Name: "id", DataType: "bigint"},
	{Name: "title", DataType: "text"},
	{Name: "createdAt", DataType: "timestamp without time zone"},
}

// name extracts the bare table name from either ($schema, $name) or a
// quoted regclass argument.
func name(args []any) string {
	if len(args) >= 2 && args[0] == "public" {
		return args[1].(string)
	}
	for i := len(args) - 1; i >= 0; i-- {
		if s, ok := args[i].(string); ok && strings.HasPrefix(s, `"`) {
			parts := strings.Split(s, ".")
			return strings.Trim(parts[len(parts)-1], `"`)
		}
	}
	return ""
}

func list(field string, values []string) []session.Row {
	rows := make([]session.Row, len(values))
	for i, v := range values {
		rows[i] = session.Row{field: v}
	}
	return rows
}

var aggregate = regexp.MustCompile(`SELECT (MAX|MIN)\("[^"]+"\)::text AS value FROM "[^"]+"\."([^"]+)"`)

func (w *world) fake() *sessiontest.Fake {
	f := sessiontest.New()
	f.
		OnFunc("pg_catalog.pg_tables", func(_ string, args []any) ([]session.Row, error) {
			count := int64(0)
			if w.tables[name(args)] {
				count = 1
			}
			return []session.Row{{"count": count}}, nil
		}).
		OnFunc("AND column_name = $3", func(_ string, args []any) ([]session.Row, error) {
			for _, c := range w.columns[name(args)] {
				if c.Name == args[2] {
					return []session.Row{{"data_type": c.DataType}}, nil
				}
			}
			return nil, nil
		}).
		OnFunc("information_schema.columns", func(_ string, args []any) ([]session.Row, error) {
			var rows []session.Row
			for _, c := range w.columns[name(args)] {
				rows = append(rows, session.Row{"column_name": c.Name, "data_type": c.DataType})
			}
			return rows, nil
		}).
		OnFunc("pg_index.indisprimary", func(_ string, args []any) ([]session.Row, error) {
			return list("attname", w.pk[name(args)]), nil
		}).
		OnFunc("pg_get_indexdef", func(_ string, args []any) ([]session.Row, error) {
			return list("def", w.indexes[name(args)]), nil
		}).
		OnFunc("pg_get_constraintdef", func(_ string, args []any) ([]session.Row, error) {
			return list("def", w.fks[name(args)]), nil
		}).
		OnFunc("pg_get_statisticsobjdef", func(_ string, args []any) ([]session.Row, error) {
			return list("def", w.stats[name(args)]), nil
		}).
		OnFunc("s.relkind = 'S'", func(_ string, args []any) ([]session.Row, error) {
			var rows []session.Row
			for _, s := range w.sequences[name(args)] {
				rows = append(rows, session.Row{"related_column": s.RelatedColumn, "sequence_schema": s.SequenceSchema, "sequence_name": s.SequenceName})
			}
			return rows, nil
		}).
		OnFunc("FROM pg_inherits", func(_ string, args []any) ([]session.Row, error) {
			var rows []session.Row
			for _, p := range w.partitions[name(args)] {
				rows = append(rows, session.Row{"schema": "public", "name": p})
			}
			return rows, nil
		}).
		OnFunc("'pg_class') AS comment", func(_ string, args []any) ([]session.Row, error) {
			c, ok := w.tableComments[name(args)]
			if !ok {
				return []session.Row{{"comment": nil}}, nil
			}
			return []session.Row{{"comment": c}}, nil
		}).
		OnFunc("FROM pg_trigger", func(_ string, args []any) ([]session.Row, error) {
			c, ok := w.triggerComments[name(args)]
			if !ok {
				return nil, nil
			}
			return []session.Row{{"comment": c}}, nil
		}).
		OnFunc("pg_get_functiondef", func(_ string, args []any) ([]session.Row, error) {
			def, ok := w.functionDefs[args[0].(string)]
			if !ok {
				return nil, nil
			}
			return []session.Row{{"def": def}}, nil
		}).
		OnFunc("::text AS value FROM", func(q string, _ []any) ([]session.Row, error) {
			m := aggregate.FindStringSubmatch(q)
			if m == nil {
				return nil, nil
			}
			keys := w.maxKeys
			if m[1] == "MIN" {
				keys = w.minKeys
			}
			v, ok := keys[m[2]]
			if !ok {
				return []session.Row{{"value": nil}}, nil
			}
			return []session.Row{{"value": v}}, nil
		})
	return f
}

func newOrchestrator(f *sessiontest.Fake) *Orchestrator {
	return New(f, Options{Now: func() time.Time { return time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC) }})
}

// executed returns the single transaction the command ran.
func executed(f *sessiontest.Fake) []string {
	if len(f.Transactions) != 1 {
		return nil
	}
	return f.Transactions[0]
}
