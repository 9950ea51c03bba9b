package session

import (
	"strings"

	"github.com/jackc/pgx/v5"
)

// QuoteIdent safely quotes a PostgreSQL identifier, escaping embedded quotes.
func QuoteIdent(ident string) string {
	return pgx.Identifier{ident}.Sanitize()
}

// QualifyTable quotes a schema-qualified table name.
func QualifyTable(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}

// QuoteIdents quotes and comma-joins a column list.
func QuoteIdents(idents []string) string {
	quoted := make([]string, len(idents))
	for i, ident := range idents {
		quoted[i] = QuoteIdent(ident)
	}
	return strings.Join(quoted, ", ")
}

// QuoteLiteral renders s as a SQL string literal. Values containing
// backslashes use the E'...' form so they survive either setting of
// standard_conforming_strings.
func QuoteLiteral(s string) string {
	escaped := strings.ReplaceAll(s, "'", "''")
	if strings.Contains(escaped, `\`) {
		return "E'" + strings.ReplaceAll(escaped, `\`, `\\`) + "'"
	}
	return "'" + escaped + "'"
}
