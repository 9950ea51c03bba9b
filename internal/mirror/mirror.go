// Package mirror generates the row triggers that replicate writes on one
// table to another while the two are kept side by side.
package mirror

import (
	"fmt"
	"strings"

	"github.com/johndauphine/pgslice/internal/session"
	"github.com/johndauphine/pgslice/internal/table"
)

// Kind selects which pair of tables is mirrored.
type Kind int

const (
	// ToIntermediate mirrors TABLE into TABLE_intermediate before a swap.
	ToIntermediate Kind = iota
	// ToRetired mirrors TABLE into TABLE_retired after a swap.
	ToRetired
)

// Mirror describes one source/target trigger pair.
type Mirror struct {
	Source   table.Ref
	Target   table.Ref
	Function string
	Trigger  string
}

// For returns the mirror of kind for the original table t.
func For(kind Kind, t table.Ref) Mirror {
	if kind == ToRetired {
		return Mirror{
			Source:   t,
			Target:   t.Retired(),
			Function: t.Name + "_mirror_to_retired",
			Trigger:  t.Name + "_retired_mirror_trigger",
		}
	}
	return Mirror{
		Source:   t,
		Target:   t.Intermediate(),
		Function: t.Name + "_mirror_to_intermediate",
		Trigger:  t.Name + "_mirror_trigger",
	}
}

// Enable returns the statements creating the function and trigger.
// Rows are matched on primaryKey, or on every column when the table has
// none.
func (m Mirror) Enable(columns, primaryKey []string) []string {
	function := m.Source.QuotedFunction(m.Function)
	target := m.Target.Quoted()

	fn := fmt.Sprintf(`CREATE OR REPLACE FUNCTION %s()
RETURNS TRIGGER AS $$
BEGIN
  IF TG_OP = 'DELETE' THEN
    DELETE FROM %s WHERE %s;
    RETURN OLD;
  ELSIF TG_OP = 'UPDATE' THEN
    UPDATE %s SET %s WHERE %s;
    RETURN NEW;
  ELSIF TG_OP = 'INSERT' THEN
    INSERT INTO %s (%s) VALUES (%s);
    RETURN NEW;
  END IF;
  RETURN NULL;
END;
$$ LANGUAGE plpgsql;`,
		function,
		target, whereClause(columns, primaryKey, "OLD"),
		target, setClause(columns), whereClause(columns, primaryKey, "OLD"),
		target, session.QuoteIdents(columns), tuple(columns, "NEW"))

	trigger := fmt.Sprintf(`CREATE TRIGGER %s
AFTER INSERT OR UPDATE OR DELETE ON %s
FOR EACH ROW EXECUTE FUNCTION %s();`,
		session.QuoteIdent(m.Trigger), m.Source.Quoted(), function)

	return []string{fn, trigger}
}

// Disable returns the statements dropping the trigger and function. Both
// tolerate objects that are already gone.
func (m Mirror) Disable() []string {
	return []string{
		fmt.Sprintf("DROP TRIGGER IF EXISTS %s ON %s;", session.QuoteIdent(m.Trigger), m.Source.Quoted()),
		fmt.Sprintf("DROP FUNCTION IF EXISTS %s();", m.Source.QuotedFunction(m.Function)),
	}
}

func tuple(columns []string, record string) string {
	parts := make([]string, len(columns))
	for i, c := range columns {
		parts[i] = record + "." + session.QuoteIdent(c)
	}
	return strings.Join(parts, ", ")
}

func setClause(columns []string) string {
	parts := make([]string, len(columns))
	for i, c := range columns {
		q := session.QuoteIdent(c)
		parts[i] = q + " = NEW." + q
	}
	return strings.Join(parts, ", ")
}

func whereClause(columns, primaryKey []string, record string) string {
	keys := primaryKey
	if len(keys) == 0 {
		keys = columns
	}
	parts := make([]string, len(keys))
	for i, c := range keys {
		q := session.QuoteIdent(c)
		parts[i] = q + " = " + record + "." + q
	}
	return strings.Join(parts, " AND ")
}
