package cli

import (
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/roach88/recordset/internal/ir"
	"github.com/roach88/recordset/internal/model"
	"github.com/roach88/recordset/internal/queryir"
	"github.com/roach88/recordset/internal/repository"
	"github.com/roach88/recordset/internal/store"
)

// session is a repository for one entity plus what it needs to be closed.
type session struct {
	repo    *repository.Repository
	manager *store.Manager
}

func (s *session) Close() error {
	return s.manager.Close()
}

// openSession loads the schema and config and builds a repository for
// entity. Errors are reported through f.
func openSession(opts *RootOptions, f *OutputFormatter, entity string, logw io.Writer) (*session, error) {
	res, err := loadValidSchema(opts, f)
	if err != nil {
		return nil, err
	}
	desc, err := res.Entity(entity)
	if err != nil {
		return nil, reportLoadError(f, err)
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, f.Fail(ExitCommandError, ErrCodeConfig, err.Error(), nil)
	}
	logger, err := newLogger(opts, cfg, logw)
	if err != nil {
		return nil, f.Fail(ExitCommandError, ErrCodeConfig, err.Error(), nil)
	}

	manager := store.NewManager(cfg, store.WithLogger(logger))
	repo, err := repository.New(desc, manager, repository.WithLogger(logger))
	if err != nil {
		manager.Close()
		return nil, f.Fail(ExitCommandError, ErrCodeConfig, err.Error(), nil)
	}
	return &session{repo: repo, manager: manager}, nil
}

// keyArgs turns command-line key parts into key values; the repository
// coerces them to the key column types.
func keyArgs(parts []string) []any {
	key := make([]any, len(parts))
	for i, p := range parts {
		key[i] = p
	}
	return key
}

// recordColumns lists the declared columns without the reserved timestamps,
// which differ on every write.
func recordColumns(desc *model.Descriptor) []string {
	var cols []string
	for _, c := range desc.ColumnNames() {
		if !slices.Contains(model.Timestamps, c) {
			cols = append(cols, c)
		}
	}
	return cols
}

// parseFilter reads "column<op>value", e.g. "age>=18" or "role=admin".
// The value is coerced to the column's type; "null" is NULL.
func parseFilter(desc *model.Descriptor, s string) (string, queryir.Operator, ir.IRValue, error) {
	i := strings.IndexAny(s, "<>=!")
	if i <= 0 {
		return "", "", nil, fmt.Errorf("filter %q: expected column<op>value", s)
	}
	column := strings.TrimSpace(s[:i])
	rest := s[i:]

	opLen := 1
	if len(rest) > 1 {
		if _, err := queryir.ParseOperator(rest[:2]); err == nil {
			opLen = 2
		}
	}
	op, err := queryir.ParseOperator(rest[:opLen])
	if err != nil {
		return "", "", nil, fmt.Errorf("filter %q: %w", s, err)
	}

	col, ok := desc.Column(column)
	if !ok {
		return "", "", nil, fmt.Errorf("filter %q: %s has no column %s", s, desc.Name, column)
	}
	raw := strings.TrimSpace(rest[opLen:])
	if strings.EqualFold(raw, "null") {
		return column, op, ir.Null, nil
	}
	if col.Type == model.TypeBool {
		if b, err := strconv.ParseBool(raw); err == nil {
			return column, op, ir.IRBool(b), nil
		}
	}
	v, err := col.Type.Coerce(ir.IRString(raw))
	if err != nil {
		return "", "", nil, fmt.Errorf("filter %q: %w", s, err)
	}
	return column, op, v, nil
}

// parseOrder reads "column" or "column:desc".
func parseOrder(s string) (string, repository.Direction, error) {
	column, dir, found := strings.Cut(s, ":")
	if !found {
		return column, repository.Asc, nil
	}
	d, err := repository.ParseDirection(dir)
	return column, d, err
}

// formatRecord renders current values one column per line, in declaration
// order. Columns that were never loaded are skipped.
func formatRecord(m *model.Model) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s\n", m)
	obj := m.ToObject()
	for _, c := range m.Descriptor().Columns {
		v, ok := obj[c.Name]
		if !ok {
			continue
		}
		text := v.Text()
		if ir.IsNull(v) {
			text = "NULL"
		}
		fmt.Fprintf(&sb, "  %-12s %s\n", c.Name, text)
	}
	return strings.TrimSuffix(sb.String(), "\n")
}
