package reconcile

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/johndauphine/pgslice/internal/session"
	"github.com/johndauphine/pgslice/internal/table"
	"github.com/johndauphine/pgslice/internal/util"
)

func literal(v any) string {
	if v == nil {
		return "NULL"
	}
	return session.QuoteLiteral(fmt.Sprint(v))
}

func insertStatement(t table.Ref, columns []string, r row) string {
	values := make([]string, len(columns))
	for i, c := range columns {
		values[i] = literal(r[c])
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s);", t.Quoted(), session.QuoteIdents(columns), strings.Join(values, ", "))
}

func updateStatement(t table.Ref, columns []string, pk string, r row) string {
	var set []string
	for _, c := range columns {
		if c == pk {
			continue
		}
		set = append(set, session.QuoteIdent(c)+" = "+literal(r[c]))
	}
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s;", t.Quoted(), strings.Join(set, ", "), session.QuoteIdent(pk), literal(r[pk]))
}

func deleteStatement(t table.Ref, pk, key string) string {
	return fmt.Sprintf("DELETE FROM %s WHERE %s = %s;", t.Quoted(), session.QuoteIdent(pk), session.QuoteLiteral(key))
}

var (
	insertPattern = regexp.MustCompile(`(?is)^(INSERT INTO \S+)\s.*?\sVALUES\s*\((.*)\);?$`)
	updatePattern = regexp.MustCompile(`(?is)^(UPDATE \S+)\s+SET\s+(.*?)\s+WHERE`)
	deletePattern = regexp.MustCompile(`(?is)^(DELETE FROM \S+)\s+WHERE\s+(.*?);?$`)
)

const truncated = "...[truncated]"

// truncateForLog shortens a fix statement to its target and the start of
// its payload.
func truncateForLog(sql string) string {
	if m := insertPattern.FindStringSubmatch(sql); m != nil {
		return m[1] + "... VALUES(" + util.Truncate(m[2], 20, "") + truncated
	}
	if m := updatePattern.FindStringSubmatch(sql); m != nil {
		return m[1] + "... SET " + util.Truncate(m[2], 20, "") + truncated
	}
	if m := deletePattern.FindStringSubmatch(sql); m != nil {
		return m[1] + "... WHERE " + util.Truncate(m[2], 20, "") + truncated
	}
	return util.Truncate(sql, 50, "") + truncated
}
