package querysql

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect captures the handful of syntax differences between backends.
// Statements are always built with "?" placeholders and rebound at the end.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// ParseDialect validates a dialect name.
func ParseDialect(s string) (Dialect, error) {
	switch d := Dialect(s); d {
	case SQLite, Postgres:
		return d, nil
	}
	return "", fmt.Errorf("unknown dialect %q", s)
}

// Rebind rewrites "?" placeholders to the dialect's form. Question marks
// inside quoted literals are left alone.
func (d Dialect) Rebind(query string) string {
	if d != Postgres || !strings.Contains(query, "?") {
		return query
	}
	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 0
	var quote byte
	for i := 0; i < len(query); i++ {
		ch := query[i]
		switch {
		case quote != 0:
			if ch == quote {
				quote = 0
			}
		case ch == '\'' || ch == '"':
			quote = ch
		case ch == '?':
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteByte(ch)
	}
	return sb.String()
}

// limitClause renders LIMIT/OFFSET. limit <= 0 means no limit.
func (d Dialect) limitClause(limit, offset int) string {
	switch {
	case limit <= 0 && offset <= 0:
		return ""
	case d == Postgres:
		var parts []string
		if limit > 0 {
			parts = append(parts, fmt.Sprintf(" LIMIT %d", limit))
		}
		if offset > 0 {
			parts = append(parts, fmt.Sprintf(" OFFSET %d", offset))
		}
		return strings.Join(parts, "")
	case offset > 0:
		if limit <= 0 {
			limit = -1
		}
		return fmt.Sprintf(" LIMIT %d, %d", offset, limit)
	default:
		return fmt.Sprintf(" LIMIT %d", limit)
	}
}

// quoteLiteral renders s as a SQL string literal.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
