package harness

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strings"

	"github.com/roach88/recordset/internal/ir"
	"github.com/roach88/recordset/internal/repository"
	"github.com/roach88/recordset/internal/store"
)

// validIdentifier matches valid SQL identifiers (table/column names).
// Only allows alphanumeric and underscore, must start with letter or underscore.
// This prevents SQL injection via identifier interpolation.
var validIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	return fmt.Sprintf("Assertion failed: %s\n  Expected: %s\n  Actual: %s", e.Type, e.Expected, e.Actual)
}

// AssertionContext provides context for evaluating assertions.
type AssertionContext struct {
	Ctx   context.Context
	Conn  *store.Conn
	Repos map[string]*repository.Repository
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertQueryContains:
			err = assertQueryContains(result.Queries, assertion)
		case AssertQueryCount:
			err = assertQueryCount(result.Queries, assertion)
		case AssertLocalKeys:
			if actx == nil {
				err = fmt.Errorf("assertion[%d]: local_keys requires repositories", i)
			} else {
				err = assertLocalKeys(actx.Repos, assertion)
			}
		case AssertFinalState:
			if actx == nil || actx.Conn == nil {
				err = fmt.Errorf("assertion[%d]: final_state requires database context", i)
			} else {
				err = assertFinalState(actx.Ctx, actx.Conn, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}

// assertQueryContains checks that the statement was recorded at least once.
func assertQueryContains(queries []store.QueryLogEntry, a Assertion) error {
	if countQueries(queries, a.SQL) > 0 {
		return nil
	}
	return &AssertionError{
		Type:     AssertQueryContains,
		Expected: a.SQL,
		Actual:   "not found in query log:\n" + formatQueryLog(queries),
	}
}

// assertQueryCount checks that the statement was recorded exactly Count times.
func assertQueryCount(queries []store.QueryLogEntry, a Assertion) error {
	if n := countQueries(queries, a.SQL); n != a.Count {
		return &AssertionError{
			Type:     AssertQueryCount,
			Expected: fmt.Sprintf("%d x %s", a.Count, a.SQL),
			Actual:   fmt.Sprintf("%d occurrences", n),
		}
	}
	return nil
}

func countQueries(queries []store.QueryLogEntry, sql string) int {
	n := 0
	for _, q := range queries {
		if q.SQL == sql {
			n++
		}
	}
	return n
}

func formatQueryLog(queries []store.QueryLogEntry) string {
	var sb strings.Builder
	for i, q := range queries {
		fmt.Fprintf(&sb, "  [%d] %s\n", i+1, q.SQL)
	}
	return sb.String()
}

// assertLocalKeys checks the local store keys of one repository, in load order.
func assertLocalKeys(repos map[string]*repository.Repository, a Assertion) error {
	repo, ok := repos[a.Entity]
	if !ok {
		return fmt.Errorf("local_keys: unknown entity %q", a.Entity)
	}
	keys := repo.Keys()
	if len(keys) == 0 && len(a.Keys) == 0 {
		return nil
	}
	if !slices.Equal(keys, a.Keys) {
		return &AssertionError{
			Type:     AssertLocalKeys,
			Expected: fmt.Sprintf("%s keys %v", a.Entity, a.Keys),
			Actual:   fmt.Sprintf("%v", keys),
		}
	}
	return nil
}

// assertFinalState queries the table and verifies expected field values.
// Exactly one row must match Where, or none with Absent. Soft-deleted rows
// are included; select them with a deleted_on condition if that matters.
//
// Security: Table and column names are validated against a whitelist pattern
// to prevent SQL injection via identifier interpolation.
func assertFinalState(ctx context.Context, conn *store.Conn, assertion Assertion) error {
	if !validIdentifier.MatchString(assertion.Table) {
		return fmt.Errorf("invalid table name %q: must match pattern %s", assertion.Table, validIdentifier.String())
	}

	whereSQL, whereArgs, err := buildWhereClause(assertion.Where)
	if err != nil {
		return err
	}
	query := fmt.Sprintf("SELECT * FROM %s", assertion.Table)
	if whereSQL != "" {
		query += " WHERE " + whereSQL
	}

	// Straight to the pool so the check stays out of the query log.
	rows, err := conn.DB().QueryContext(ctx, query, whereArgs...)
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("query table %s", assertion.Table),
			Actual:   fmt.Sprintf("query error: %v", err),
		}
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("get columns: %w", err)
	}

	whereDesc := formatWhereClause(assertion.Where)
	if !rows.Next() {
		if assertion.Absent {
			return rows.Err()
		}
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("row in %s where %s", assertion.Table, whereDesc),
			Actual:   "row not found",
		}
	}
	if assertion.Absent {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("no row in %s where %s", assertion.Table, whereDesc),
			Actual:   "row found",
		}
	}

	values, err := store.ScanValues(rows, len(columns))
	if err != nil {
		return fmt.Errorf("scan row: %w", err)
	}

	// Check for multiple matching rows (would indicate ambiguous assertion)
	if rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("exactly one row in %s where %s", assertion.Table, whereDesc),
			Actual:   "multiple rows matched (assertion is ambiguous)",
		}
	}

	actualRow := make(map[string]ir.IRValue, len(columns))
	for i, col := range columns {
		actualRow[col] = values[i]
	}

	keys := make([]string, 0, len(assertion.Expect))
	for k := range assertion.Expect {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	// Subset semantics: only fields in Expect are checked
	for _, key := range keys {
		actual, exists := actualRow[key]
		if !exists {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q to exist", key),
				Actual:   fmt.Sprintf("field %q not present in result columns: %v", key, columns),
			}
		}
		expected, err := ir.FromGo(assertion.Expect[key])
		if err != nil {
			return fmt.Errorf("final_state: field %q: %w", key, err)
		}
		if !ir.Equal(expected, actual) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q = %v", key, ir.ToGo(expected)),
				Actual:   fmt.Sprintf("field %q = %v", key, ir.ToGo(actual)),
			}
		}
	}

	return nil
}

// buildWhereClause constructs parameterized WHERE clause from assertion.Where.
// Returns SQL fragment, arguments slice, and error. Keys are sorted for determinism.
// A nil value selects rows where the column IS NULL.
func buildWhereClause(where map[string]any) (string, []any, error) {
	if len(where) == 0 {
		return "", nil, nil
	}

	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	clauses := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))

	for _, key := range keys {
		// Validate column name to prevent SQL injection
		if !validIdentifier.MatchString(key) {
			return "", nil, fmt.Errorf("invalid column name %q in where clause: must match pattern %s", key, validIdentifier.String())
		}
		v, err := ir.FromGo(where[key])
		if err != nil {
			return "", nil, fmt.Errorf("where %s: %w", key, err)
		}
		if ir.IsNull(v) {
			clauses = append(clauses, key+" IS NULL")
			continue
		}
		clauses = append(clauses, key+" = ?")
		args = append(args, ir.ToDriver(v))
	}

	return strings.Join(clauses, " AND "), args, nil
}

// formatWhereClause creates a human-readable description of WHERE conditions.
func formatWhereClause(where map[string]any) string {
	if len(where) == 0 {
		return "(no conditions)"
	}

	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}
