// Package table identifies tables and reads their structure from the
// PostgreSQL catalogs. Nothing is cached: every call is a fresh query.
package table

import (
	"strings"

	"github.com/johndauphine/pgslice/internal/session"
)

// Ref is a schema-qualified table name.
type Ref struct {
	Schema string
	Name   string
}

// New returns a reference to schema.name.
func New(schema, name string) Ref {
	return Ref{Schema: schema, Name: name}
}

// Parse splits "schema.name"; a bare name resolves to defaultSchema.
func Parse(name, defaultSchema string) Ref {
	if schema, rest, ok := strings.Cut(name, "."); ok {
		return Ref{Schema: schema, Name: rest}
	}
	return Ref{Schema: defaultSchema, Name: name}
}

func (r Ref) String() string {
	return r.Schema + "." + r.Name
}

// Quoted returns the quoted, schema-qualified name.
func (r Ref) Quoted() string {
	return session.QualifyTable(r.Schema, r.Name)
}

// QuotedName returns the quoted name without schema, as needed by RENAME TO.
func (r Ref) QuotedName() string {
	return session.QuoteIdent(r.Name)
}

// Intermediate is the partitioned copy built next to the table.
func (r Ref) Intermediate() Ref {
	return Ref{Schema: r.Schema, Name: r.Name + "_intermediate"}
}

// Retired is the name the original table takes after a swap.
func (r Ref) Retired() Ref {
	return Ref{Schema: r.Schema, Name: r.Name + "_retired"}
}

// Partition is the child table for a bucket suffix.
func (r Ref) Partition(suffix string) Ref {
	return Ref{Schema: r.Schema, Name: r.Name + "_" + suffix}
}

// TriggerName is the name of the routing trigger and its function.
func (r Ref) TriggerName() string {
	return r.Name + "_insert_trigger"
}

// QuotedFunction qualifies a function name with the table's schema.
func (r Ref) QuotedFunction(name string) string {
	return session.QualifyTable(r.Schema, name)
}
