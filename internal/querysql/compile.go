package querysql

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/recordset/internal/model"
	"github.com/roach88/recordset/internal/queryir"
)

// ErrUnconditional is returned for SELECT and DELETE statements without a
// WHERE clause. Every read and delete must be scoped.
var ErrUnconditional = errors.New("statement has no conditions")

// KeyColumn is the alias of the composite key expression projected first by
// SELECT statements on entities with a multi-column primary key.
const KeyColumn = "record_key"

// Order is one ORDER BY entry.
type Order struct {
	Column string
	Desc   bool
}

func (o Order) String() string {
	if o.Desc {
		return o.Column + " DESC"
	}
	return o.Column + " ASC"
}

// SelectQuery describes a read. Zero values mean "not set".
type SelectQuery struct {
	Columns        []string
	Where          *queryir.Conditions
	GroupBy        []string
	Having         *queryir.Conditions
	OrderBy        []Order
	Limit          int
	Offset         int
	WithTimestamps bool
	WithDeleted    bool
}

// DeleteQuery describes a soft delete. OrderBy only applies with a Limit.
type DeleteQuery struct {
	Where   *queryir.Conditions
	OrderBy []Order
	Limit   int
}

// Statement is compiled SQL with its parameters.
type Statement struct {
	SQL  string
	Args []any

	// Columns names the result columns of a SELECT in order. The composite
	// key expression is reported as KeyColumn.
	Columns []string
}

// Compiler builds statements for one entity type and dialect.
//
// CRITICAL: All values are parameterized (never interpolated).
// Identifiers are checked against the descriptor before they reach SQL text.
type Compiler struct {
	Dialect Dialect
}

// NewCompiler creates a Compiler for dialect d.
func NewCompiler(d Dialect) *Compiler {
	return &Compiler{Dialect: d}
}

// Select compiles
//
//	SELECT <key>, <cols> FROM <table> WHERE <cond> AND deleted_on IS [NOT] NULL
//	[GROUP BY ..] [HAVING ..] [ORDER BY ..] [LIMIT ..]
//
// The key (primary key column, or the composite key expression) is projected
// first unless the query groups.
func (c *Compiler) Select(desc *model.Descriptor, q SelectQuery) (Statement, error) {
	if err := q.Where.Err(); err != nil {
		return Statement{}, fmt.Errorf("compile where: %w", err)
	}
	if !q.Where.HasConditions() {
		return Statement{}, ErrUnconditional
	}
	if err := checkColumns(desc, "select", q.Columns); err != nil {
		return Statement{}, err
	}
	if err := checkColumns(desc, "group by", q.GroupBy); err != nil {
		return Statement{}, err
	}
	if err := checkOrder(desc, q.OrderBy); err != nil {
		return Statement{}, err
	}
	if err := checkColumns(desc, "where", q.Where.Columns()); err != nil {
		return Statement{}, err
	}

	projection, columns := c.projection(desc, q)

	where, args, err := c.where(desc, q.Where, q.WithDeleted)
	if err != nil {
		return Statement{}, err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %s WHERE %s", strings.Join(projection, ", "), desc.Table, where)

	if len(q.GroupBy) > 0 {
		sb.WriteString(" GROUP BY ")
		sb.WriteString(strings.Join(q.GroupBy, ", "))
	}
	if q.Having.HasConditions() {
		if err := checkColumns(desc, "having", q.Having.Columns()); err != nil {
			return Statement{}, err
		}
		having, havingArgs, err := Resolve(q.Having)
		if err != nil {
			return Statement{}, fmt.Errorf("compile having: %w", err)
		}
		sb.WriteString(" HAVING ")
		sb.WriteString(having)
		args = append(args, havingArgs...)
	}
	if len(q.OrderBy) > 0 {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(orderList(q.OrderBy))
	}
	sb.WriteString(c.Dialect.limitClause(q.Limit, q.Offset))

	return Statement{
		SQL:     c.Dialect.Rebind(sb.String()),
		Args:    args,
		Columns: columns,
	}, nil
}

// SoftDelete compiles
//
//	UPDATE <table> SET deleted_on = NOW() WHERE <cond> AND deleted_on IS NULL
//
// With a limit, the target rows are picked by primary key through a
// subquery so the ordering and limit apply on every backend.
func (c *Compiler) SoftDelete(desc *model.Descriptor, q DeleteQuery) (Statement, error) {
	where, args, err := c.deleteWhere(desc, q)
	if err != nil {
		return Statement{}, err
	}

	var sql string
	if q.Limit > 0 {
		target := strings.Join(desc.PrimaryKey, ", ")
		if desc.CompositeKey() {
			target = "(" + target + ")"
		}
		sql = fmt.Sprintf("UPDATE %s SET %s = NOW() WHERE %s IN (%s)",
			desc.Table, model.DeletedOn, target, c.targetSelect(desc, where, q))
	} else {
		sql = fmt.Sprintf("UPDATE %s SET %s = NOW() WHERE %s", desc.Table, model.DeletedOn, where)
	}

	return Statement{SQL: c.Dialect.Rebind(sql), Args: args}, nil
}

// DeleteTargets compiles the primary key SELECT a limited SoftDelete uses
// to pick its rows. Columns lists the primary key columns.
func (c *Compiler) DeleteTargets(desc *model.Descriptor, q DeleteQuery) (Statement, error) {
	if q.Limit <= 0 {
		return Statement{}, errors.New("delete targets need a limit")
	}
	where, args, err := c.deleteWhere(desc, q)
	if err != nil {
		return Statement{}, err
	}
	return Statement{
		SQL:     c.Dialect.Rebind(c.targetSelect(desc, where, q)),
		Args:    args,
		Columns: slices.Clone(desc.PrimaryKey),
	}, nil
}

func (c *Compiler) deleteWhere(desc *model.Descriptor, q DeleteQuery) (string, []any, error) {
	if err := q.Where.Err(); err != nil {
		return "", nil, fmt.Errorf("compile where: %w", err)
	}
	if !q.Where.HasConditions() {
		return "", nil, ErrUnconditional
	}
	if err := checkColumns(desc, "where", q.Where.Columns()); err != nil {
		return "", nil, err
	}
	if err := checkOrder(desc, q.OrderBy); err != nil {
		return "", nil, err
	}
	return c.where(desc, q.Where, false)
}

func (c *Compiler) targetSelect(desc *model.Descriptor, where string, q DeleteQuery) string {
	sub := fmt.Sprintf("SELECT %s FROM %s WHERE %s", strings.Join(desc.PrimaryKey, ", "), desc.Table, where)
	if len(q.OrderBy) > 0 {
		sub += " ORDER BY " + orderList(q.OrderBy)
	}
	return sub + c.Dialect.limitClause(q.Limit, 0)
}

// Insert compiles INSERT INTO <table> (<unprotected cols>) VALUES (?, ...).
// Arguments are bound per row from Model.InsertValues.
func (c *Compiler) Insert(desc *model.Descriptor) string {
	cols := desc.InsertColumns()
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", desc.Table, strings.Join(cols, ", "), marks)
	return c.Dialect.Rebind(sql)
}

// Update compiles
//
//	UPDATE <table> SET updated_on = NOW(), <col> = ?, ... WHERE <pk> = ?
//
// Arguments are the dirty values followed by the primary key values.
func (c *Compiler) Update(desc *model.Descriptor, dirty []string) (string, error) {
	if len(dirty) == 0 {
		return "", fmt.Errorf("update %s: no dirty columns", desc.Name)
	}
	if err := checkColumns(desc, "update", dirty); err != nil {
		return "", err
	}
	sets := []string{model.UpdatedOn + " = NOW()"}
	for _, col := range dirty {
		if desc.IsProtected(col) {
			return "", fmt.Errorf("update %s: column %s is protected", desc.Name, col)
		}
		sets = append(sets, col+" = ?")
	}
	sql := fmt.Sprintf("UPDATE %s SET %s WHERE %s", desc.Table, strings.Join(sets, ", "), keyPredicate(desc))
	return c.Dialect.Rebind(sql), nil
}

// SoftDeleteByKey compiles the soft delete of one row by primary key.
// Already-deleted rows are not touched, so the affected count is 0 or 1.
func (c *Compiler) SoftDeleteByKey(desc *model.Descriptor) string {
	sql := fmt.Sprintf("UPDATE %s SET %s = NOW() WHERE %s AND %s IS NULL",
		desc.Table, model.DeletedOn, keyPredicate(desc), model.DeletedOn)
	return c.Dialect.Rebind(sql)
}

// projection returns the SELECT list and the result column names.
func (c *Compiler) projection(desc *model.Descriptor, q SelectQuery) ([]string, []string) {
	cols := q.Columns
	if len(cols) == 0 {
		cols = desc.InsertColumns()
	}

	var out []string
	grouped := len(q.GroupBy) > 0
	if !grouped {
		out = append(out, desc.PrimaryKey...)
	}
	for _, col := range cols {
		if !slices.Contains(out, col) {
			out = append(out, col)
		}
	}
	// Loaded rows are re-sorted against local instances, so ungrouped
	// reads always carry their sort columns.
	if !grouped {
		for _, o := range q.OrderBy {
			if !slices.Contains(out, o.Column) {
				out = append(out, o.Column)
			}
		}
	}
	if q.WithTimestamps {
		for _, ts := range model.Timestamps {
			if !slices.Contains(out, ts) {
				out = append(out, ts)
			}
		}
	}

	projection := slices.Clone(out)
	columns := slices.Clone(out)
	if !grouped && desc.CompositeKey() {
		projection = append([]string{c.keyExpr(desc) + " AS " + KeyColumn}, projection...)
		columns = append([]string{KeyColumn}, columns...)
	}
	return projection, columns
}

// keyExpr renders the composite key as the backing store would build it.
func (c *Compiler) keyExpr(desc *model.Descriptor) string {
	cols := strings.Join(desc.PrimaryKey, ", ")
	if desc.KeySeparator == "" {
		return "CONCAT(" + cols + ")"
	}
	return "CONCAT_WS(" + quoteLiteral(desc.KeySeparator) + ", " + cols + ")"
}

// where resolves the caller's tree and appends the soft-delete filter.
// A root with an OR junction is parenthesized so the filter applies to the
// whole expression.
func (c *Compiler) where(desc *model.Descriptor, cond *queryir.Conditions, withDeleted bool) (string, []any, error) {
	expr, args, err := Resolve(cond)
	if err != nil {
		return "", nil, fmt.Errorf("compile where: %w", err)
	}
	if cond.HasRootOr() {
		expr = "( " + expr + " )"
	}
	filter := " AND " + model.DeletedOn + " IS NULL"
	if withDeleted {
		filter = " AND " + model.DeletedOn + " IS NOT NULL"
	}
	return expr + filter, args, nil
}

func keyPredicate(desc *model.Descriptor) string {
	parts := make([]string, len(desc.PrimaryKey))
	for i, col := range desc.PrimaryKey {
		parts[i] = col + " = ?"
	}
	return strings.Join(parts, " AND ")
}

func orderList(orders []Order) string {
	parts := make([]string, len(orders))
	for i, o := range orders {
		parts[i] = o.String()
	}
	return strings.Join(parts, ", ")
}

func checkColumns(desc *model.Descriptor, clause string, cols []string) error {
	for _, col := range cols {
		if !desc.Has(col) {
			return fmt.Errorf("%s: unknown column %q in %s", desc.Name, col, clause)
		}
	}
	return nil
}

func checkOrder(desc *model.Descriptor, orders []Order) error {
	for _, o := range orders {
		if !desc.Has(o.Column) {
			return fmt.Errorf("%s: unknown column %q in order by", desc.Name, o.Column)
		}
	}
	return nil
}
