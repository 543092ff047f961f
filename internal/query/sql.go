package query

import (
	"strconv"
	"strings"
)

// coalesceChunk bounds COALESCE arity (SQLite caps function arguments) and keeps the
// OR chain shallow enough for the expression depth limit on very wide tables.
const coalesceChunk = 100

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// anyNotNull builds "(a IS NOT NULL OR COALESCE(b, c, ...) IS NOT NULL ...)".
func anyNotNull(cols []string) string {
	var parts []string
	for i := 0; i < len(cols); i += coalesceChunk {
		end := min(i+coalesceChunk, len(cols))
		chunk := cols[i:end]
		if len(chunk) == 1 {
			parts = append(parts, quoteIdent(chunk[0])+" IS NOT NULL")
			continue
		}
		quoted := make([]string, len(chunk))
		for j, c := range chunk {
			quoted[j] = quoteIdent(c)
		}
		parts = append(parts, "COALESCE("+strings.Join(quoted, ", ")+") IS NOT NULL")
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}

func whereClause(tsCol string, filter []string) string {
	w := " WHERE " + quoteIdent(tsCol) + " BETWEEN ? AND ?"
	if len(filter) > 0 {
		w += " AND " + anyNotNull(filter)
	}
	return w
}

// buildSelect returns the time-bounded select. A limit of 0 means unlimited.
func buildSelect(table, tsCol string, cols, filter []string, limit int) string {
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(quoteIdent(tsCol))
	for _, c := range cols {
		b.WriteString(", ")
		b.WriteString(quoteIdent(c))
	}
	b.WriteString(" FROM ")
	b.WriteString(quoteIdent(table))
	b.WriteString(whereClause(tsCol, filter))
	b.WriteString(" ORDER BY ")
	b.WriteString(quoteIdent(tsCol))
	if limit > 0 {
		b.WriteString(" LIMIT ")
		b.WriteString(strconv.Itoa(limit))
	}
	return b.String()
}

func buildCount(table, tsCol string, filter []string) string {
	return "SELECT COUNT(*) FROM " + quoteIdent(table) + whereClause(tsCol, filter)
}

func buildTableInfo(table string) string {
	return "PRAGMA table_info(" + quoteIdent(table) + ")"
}
