package planner

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/johndauphine/pgslice/internal/period"
	"github.com/johndauphine/pgslice/internal/session"
	"github.com/johndauphine/pgslice/internal/table"
)

// CreateDeclarative creates a native range partition of parent.
func CreateDeclarative(spec PartitionSpec, parent table.Ref, cast period.Cast, tablespace string) string {
	return fmt.Sprintf("CREATE TABLE %s PARTITION OF %s FOR VALUES FROM (%s) TO (%s)%s;",
		spec.Ref.Quoted(), parent.Quoted(),
		period.SQLDate(spec.Start, cast, false),
		period.SQLDate(spec.End, cast, false),
		tablespaceClause(tablespace))
}

// CreateInherited creates a child table guarded by a CHECK constraint, as
// used by trigger-based partitioning.
func CreateInherited(spec PartitionSpec, parent table.Ref, column string, cast period.Cast, tablespace string) string {
	col := session.QuoteIdent(column)
	return fmt.Sprintf("CREATE TABLE %s\n    (CHECK (%s >= %s AND %s < %s))\n    INHERITS (%s)%s;",
		spec.Ref.Quoted(),
		col, period.SQLDate(spec.Start, cast, true),
		col, period.SQLDate(spec.End, cast, true),
		parent.Quoted(), tablespaceClause(tablespace))
}

func tablespaceClause(tablespace string) string {
	if tablespace == "" {
		return ""
	}
	return " TABLESPACE " + session.QuoteIdent(tablespace)
}

// AddPrimaryKey adds a primary key on columns to t.
func AddPrimaryKey(t table.Ref, columns []string) string {
	return fmt.Sprintf("ALTER TABLE %s ADD PRIMARY KEY (%s);", t.Quoted(), session.QuoteIdents(columns))
}

var (
	indexTarget  = regexp.MustCompile(` ON \S+ USING `)
	indexName    = regexp.MustCompile(` INDEX .+? ON `)
	statsColumns = regexp.MustCompile(`ON (.+) FROM`)
	statsSource  = regexp.MustCompile(` FROM \S+`)
	statsName    = regexp.MustCompile(` STATISTICS \S+( \([^)]*\))? ON `)
	nonWord      = regexp.MustCompile(`\W`)
)

// IndexDef rewrites a pg_get_indexdef result to build the same index on t.
// The name is dropped so the server picks one.
func IndexDef(def string, t table.Ref) string {
	def = replaceFirst(indexTarget, def, " ON "+t.Quoted()+" USING ")
	def = replaceFirst(indexName, def, " INDEX ON ")
	return def + ";"
}

// ForeignKeyDef wraps a pg_get_constraintdef result in an ALTER TABLE on t.
func ForeignKeyDef(def string, t table.Ref) string {
	return fmt.Sprintf("ALTER TABLE %s ADD %s;", t.Quoted(), def)
}

// StatisticsDef rewrites a pg_get_statisticsobjdef result to build the same
// extended statistics on t, named {table}_{columns}_stat.
func StatisticsDef(def string, t table.Ref) string {
	var parts []string
	if m := statsColumns.FindStringSubmatch(def); m != nil {
		for _, c := range strings.Split(m[1], ", ") {
			parts = append(parts, nonWord.ReplaceAllString(c, ""))
		}
	}
	name := session.QuoteIdent(t.Name + "_" + strings.Join(parts, "_") + "_stat")

	def = replaceFirst(statsSource, def, " FROM "+t.Quoted())
	if loc := statsName.FindStringSubmatchIndex(def); loc != nil {
		kinds := ""
		if loc[2] >= 0 {
			kinds = def[loc[2]:loc[3]]
		}
		def = def[:loc[0]] + " STATISTICS " + name + kinds + " ON " + def[loc[1]:]
	}
	return def + ";"
}

func replaceFirst(re *regexp.Regexp, s, repl string) string {
	loc := re.FindStringIndex(s)
	if loc == nil {
		return s
	}
	return s[:loc[0]] + repl + s[loc[1]:]
}

// LikeOptions returns the LIKE ... INCLUDING clauses for an intermediate
// table. Declarative parents cannot carry indexes on v2, so only the
// definitional parts are copied; the rest is added per partition or by
// CopyStructure.
func LikeOptions(declarative bool, serverVersionNum int) string {
	if !declarative {
		return "INCLUDING ALL"
	}
	opts := []string{"DEFAULTS", "CONSTRAINTS", "STORAGE", "COMMENTS"}
	if serverVersionNum >= 120000 {
		opts = append(opts, "GENERATED")
	}
	return including(opts)
}

// HashLikeOptions returns the INCLUDING clauses for a hash-partitioned copy.
func HashLikeOptions(serverVersionNum int) string {
	opts := []string{"DEFAULTS", "CONSTRAINTS", "STORAGE", "COMMENTS", "STATISTICS", "GENERATED"}
	if serverVersionNum >= 140000 {
		opts = append(opts, "COMPRESSION")
	}
	return including(opts)
}

func including(opts []string) string {
	out := make([]string, len(opts))
	for i, o := range opts {
		out[i] = "INCLUDING " + o
	}
	return strings.Join(out, " ")
}

// CreateIntermediate creates the intermediate copy of original. column is
// the range partition key; it is empty for trigger-based and plain copies.
func CreateIntermediate(intermediate, original table.Ref, like, column string) string {
	stmt := fmt.Sprintf("CREATE TABLE %s (LIKE %s %s)", intermediate.Quoted(), original.Quoted(), like)
	if column != "" {
		stmt += fmt.Sprintf(" PARTITION BY RANGE (%s)", session.QuoteIdent(column))
	}
	return stmt + ";"
}

// PlaceholderFunction is the routing function installed by prep before any
// partition exists.
func PlaceholderFunction(function string) string {
	return fmt.Sprintf(`CREATE FUNCTION %s()
    RETURNS trigger AS $$
    BEGIN
        RAISE EXCEPTION 'Create partitions first.';
    END;
    $$ LANGUAGE plpgsql;`, function)
}

// CreateRoutingTrigger attaches function to t as a BEFORE INSERT trigger.
func CreateRoutingTrigger(trigger string, t table.Ref, function string) string {
	return fmt.Sprintf("CREATE TRIGGER %s\n    BEFORE INSERT ON %s\n    FOR EACH ROW EXECUTE PROCEDURE %s();",
		session.QuoteIdent(trigger), t.Quoted(), function)
}

// CommentOnTrigger stores settings on the routing trigger.
func CommentOnTrigger(trigger string, t table.Ref, comment string) string {
	return fmt.Sprintf("COMMENT ON TRIGGER %s ON %s IS %s;", session.QuoteIdent(trigger), t.Quoted(), session.QuoteLiteral(comment))
}

// CommentOnTable stores settings on a partitioned table.
func CommentOnTable(t table.Ref, comment string) string {
	return fmt.Sprintf("COMMENT ON TABLE %s IS %s;", t.Quoted(), session.QuoteLiteral(comment))
}
