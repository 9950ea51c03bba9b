package table

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/johndauphine/pgslice/internal/period"
	"github.com/johndauphine/pgslice/internal/session"
)

// Selecter runs read-only queries.
type Selecter interface {
	Select(ctx context.Context, query string, args ...any) ([]session.Row, error)
}

// Catalog answers structural questions about tables.
type Catalog struct {
	db Selecter
}

// NewCatalog returns a catalog reading through db.
func NewCatalog(db Selecter) *Catalog {
	return &Catalog{db: db}
}

// Sequence is a sequence owned by a table column.
type Sequence struct {
	RelatedColumn  string
	SequenceSchema string
	SequenceName   string
}

// Quoted returns the quoted, schema-qualified sequence name.
func (s Sequence) Quoted() string {
	return session.QualifyTable(s.SequenceSchema, s.SequenceName)
}

// Column is a column name and its information_schema data type.
type Column struct {
	Name     string
	DataType string
}

const (
	existsQuery = `SELECT COUNT(*) AS count FROM pg_catalog.pg_tables WHERE schemaname = $1 AND tablename = $2`

	columnsQuery = `SELECT column_name::text AS column_name, data_type::text AS data_type
FROM information_schema.columns
WHERE table_schema = $1 AND table_name = $2 AND is_generated = 'NEVER'
ORDER BY ordinal_position`

	primaryKeyQuery = `SELECT pg_attribute.attname::text AS attname
FROM pg_index
  JOIN pg_class ON pg_class.oid = pg_index.indrelid
  JOIN pg_namespace ON pg_namespace.oid = pg_class.relnamespace
  JOIN pg_attribute ON pg_attribute.attrelid = pg_class.oid AND pg_attribute.attnum = ANY(pg_index.indkey)
WHERE pg_namespace.nspname = $1 AND pg_class.relname = $2 AND pg_index.indisprimary
ORDER BY array_position(pg_index.indkey::int2[], pg_attribute.attnum)`

	indexDefsQuery = `SELECT pg_get_indexdef(indexrelid) AS def FROM pg_index
WHERE indrelid = $1::text::regclass AND indisprimary = 'f'
ORDER BY indexrelid`

	foreignKeysQuery = `SELECT pg_get_constraintdef(oid) AS def FROM pg_constraint
WHERE conrelid = $1::text::regclass AND contype = 'f'
ORDER BY conname`

	statisticsQuery = `SELECT pg_get_statisticsobjdef(oid) AS def FROM pg_statistic_ext
WHERE stxrelid = $1::text::regclass
ORDER BY stxname`

	sequencesQuery = `SELECT
  a.attname::text AS related_column,
  n.nspname::text AS sequence_schema,
  s.relname::text AS sequence_name
FROM pg_class s
  INNER JOIN pg_depend d ON d.objid = s.oid
  INNER JOIN pg_class t ON d.objid = s.oid AND d.refobjid = t.oid
  INNER JOIN pg_attribute a ON (d.refobjid, d.refobjsubid) = (a.attrelid, a.attnum)
  INNER JOIN pg_namespace n ON n.oid = s.relnamespace
  INNER JOIN pg_namespace nt ON nt.oid = t.relnamespace
WHERE s.relkind = 'S'
  AND nt.nspname = $1
  AND t.relname = $2
ORDER BY s.relname ASC`

	partitionsQuery = `SELECT
  nmsp_child.nspname::text AS schema,
  child.relname::text AS name
FROM pg_inherits
  JOIN pg_class parent ON pg_inherits.inhparent = parent.oid
  JOIN pg_class child ON pg_inherits.inhrelid = child.oid
  JOIN pg_namespace nmsp_parent ON nmsp_parent.oid = parent.relnamespace
  JOIN pg_namespace nmsp_child ON nmsp_child.oid = child.relnamespace
WHERE nmsp_parent.nspname = $1 AND parent.relname = $2
ORDER BY child.relname ASC`

	tableCommentQuery = `SELECT obj_description($1::text::regclass, 'pg_class') AS comment`

	triggerCommentQuery = `SELECT obj_description(oid, 'pg_trigger') AS comment FROM pg_trigger
WHERE tgname = $1 AND tgrelid = $2::text::regclass`

	functionDefQuery = `SELECT pg_get_functiondef(oid) AS def FROM pg_proc WHERE proname = $1 ORDER BY oid LIMIT 1`

	columnTypeQuery = `SELECT data_type::text AS data_type FROM information_schema.columns
WHERE table_schema = $1 AND table_name = $2 AND column_name = $3`
)

// Exists reports whether the table (plain or partitioned) exists.
func (c *Catalog) Exists(ctx context.Context, t Ref) (bool, error) {
	rows, err := c.db.Select(ctx, existsQuery, t.Schema, t.Name)
	if err != nil {
		return false, fmt.Errorf("checking %s exists: %w", t, err)
	}
	if len(rows) == 0 {
		return false, nil
	}
	return toInt64(rows[0]["count"]) > 0, nil
}

// Columns returns the non-generated columns in ordinal order.
func (c *Catalog) Columns(ctx context.Context, t Ref) ([]string, error) {
	cols, err := c.ColumnSchema(ctx, t)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(cols))
	for i, col := range cols {
		names[i] = col.Name
	}
	return names, nil
}

// ColumnSchema returns the non-generated columns with their data types.
func (c *Catalog) ColumnSchema(ctx context.Context, t Ref) ([]Column, error) {
	rows, err := c.db.Select(ctx, columnsQuery, t.Schema, t.Name)
	if err != nil {
		return nil, fmt.Errorf("reading columns of %s: %w", t, err)
	}
	cols := make([]Column, 0, len(rows))
	for _, r := range rows {
		cols = append(cols, Column{Name: toString(r["column_name"]), DataType: toString(r["data_type"])})
	}
	return cols, nil
}

// PrimaryKey returns the primary key columns in key order.
func (c *Catalog) PrimaryKey(ctx context.Context, t Ref) ([]string, error) {
	return c.list(ctx, "primary key", t, "attname", primaryKeyQuery, t.Schema, t.Name)
}

// IndexDefs returns CREATE INDEX statements for all non-primary indexes.
func (c *Catalog) IndexDefs(ctx context.Context, t Ref) ([]string, error) {
	return c.list(ctx, "indexes", t, "def", indexDefsQuery, t.Quoted())
}

// ForeignKeys returns foreign key constraint definitions.
func (c *Catalog) ForeignKeys(ctx context.Context, t Ref) ([]string, error) {
	return c.list(ctx, "foreign keys", t, "def", foreignKeysQuery, t.Quoted())
}

// StatisticsDefs returns CREATE STATISTICS statements for extended statistics.
func (c *Catalog) StatisticsDefs(ctx context.Context, t Ref) ([]string, error) {
	return c.list(ctx, "statistics", t, "def", statisticsQuery, t.Quoted())
}

// Sequences returns sequences owned by columns of the table.
func (c *Catalog) Sequences(ctx context.Context, t Ref) ([]Sequence, error) {
	rows, err := c.db.Select(ctx, sequencesQuery, t.Schema, t.Name)
	if err != nil {
		return nil, fmt.Errorf("reading sequences of %s: %w", t, err)
	}
	seqs := make([]Sequence, 0, len(rows))
	for _, r := range rows {
		seqs = append(seqs, Sequence{
			RelatedColumn:  toString(r["related_column"]),
			SequenceSchema: toString(r["sequence_schema"]),
			SequenceName:   toString(r["sequence_name"]),
		})
	}
	return seqs, nil
}

// Partitions returns child tables sorted by name.
func (c *Catalog) Partitions(ctx context.Context, t Ref) ([]Ref, error) {
	rows, err := c.db.Select(ctx, partitionsQuery, t.Schema, t.Name)
	if err != nil {
		return nil, fmt.Errorf("reading partitions of %s: %w", t, err)
	}
	parts := make([]Ref, 0, len(rows))
	for _, r := range rows {
		parts = append(parts, New(toString(r["schema"]), toString(r["name"])))
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].Name < parts[j].Name })
	return parts, nil
}

// TableComment returns the table's comment, or "" when it has none.
func (c *Catalog) TableComment(ctx context.Context, t Ref) (string, error) {
	rows, err := c.db.Select(ctx, tableCommentQuery, t.Quoted())
	if err != nil {
		return "", fmt.Errorf("reading comment of %s: %w", t, err)
	}
	if len(rows) == 0 {
		return "", nil
	}
	return toString(rows[0]["comment"]), nil
}

// TriggerComment returns the comment on a trigger of the table. found is
// false when the trigger does not exist.
func (c *Catalog) TriggerComment(ctx context.Context, t Ref, trigger string) (comment string, found bool, err error) {
	rows, err := c.db.Select(ctx, triggerCommentQuery, trigger, t.Quoted())
	if err != nil {
		return "", false, fmt.Errorf("reading trigger %s on %s: %w", trigger, t, err)
	}
	if len(rows) == 0 {
		return "", false, nil
	}
	return toString(rows[0]["comment"]), true, nil
}

// FunctionDef returns the source of a function by name, or "" if missing.
func (c *Catalog) FunctionDef(ctx context.Context, name string) (string, error) {
	rows, err := c.db.Select(ctx, functionDefQuery, name)
	if err != nil {
		return "", fmt.Errorf("reading function %s: %w", name, err)
	}
	if len(rows) == 0 {
		return "", nil
	}
	return toString(rows[0]["def"]), nil
}

// ColumnCast returns the cast partition bounds on column compare as.
func (c *Catalog) ColumnCast(ctx context.Context, t Ref, column string) (period.Cast, error) {
	rows, err := c.db.Select(ctx, columnTypeQuery, t.Schema, t.Name, column)
	if err != nil {
		return "", fmt.Errorf("reading type of %s.%s: %w", t, column, err)
	}
	if len(rows) == 0 {
		return "", fmt.Errorf("Column not found: %s", column)
	}
	return period.CastForDataType(toString(rows[0]["data_type"])), nil
}

// MaxKey returns MAX(key) as text over rows matching all conditions.
// ok is false when no row matches.
func (c *Catalog) MaxKey(ctx context.Context, t Ref, key string, conditions ...string) (value string, ok bool, err error) {
	return c.aggregate(ctx, "MAX", t, key, conditions)
}

// MinKey returns MIN(key) as text over rows matching all conditions.
func (c *Catalog) MinKey(ctx context.Context, t Ref, key string, conditions ...string) (value string, ok bool, err error) {
	return c.aggregate(ctx, "MIN", t, key, conditions)
}

func (c *Catalog) aggregate(ctx context.Context, fn string, t Ref, key string, conditions []string) (string, bool, error) {
	query := fmt.Sprintf("SELECT %s(%s)::text AS value FROM %s", fn, session.QuoteIdent(key), t.Quoted())
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	rows, err := c.db.Select(ctx, query)
	if err != nil {
		return "", false, err
	}
	if len(rows) == 0 || rows[0]["value"] == nil {
		return "", false, nil
	}
	return toString(rows[0]["value"]), true, nil
}

func (c *Catalog) list(ctx context.Context, what string, t Ref, field, query string, args ...any) ([]string, error) {
	rows, err := c.db.Select(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("reading %s of %s: %w", what, t, err)
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, toString(r[field]))
	}
	return out, nil
}

func toString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return fmt.Sprint(s)
	}
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case int:
		return int64(n)
	default:
		return 0
	}
}
