package queryir

import (
	"errors"
	"fmt"

	"github.com/roach88/recordset/internal/ir"
)

// Conditions builds a nested AND/OR boolean expression.
//
// Builder methods return the receiver so calls chain. Conversion problems
// (an unsupported value type, an unknown operator, an empty IN list) do not
// panic; they are collected and reported by Err, which every consumer checks
// before compiling or evaluating the tree.
//
// Example:
//
//	c := queryir.New().
//	  Where("status", queryir.Eq, "active").
//	  WhereIn("role", "admin", "owner")
//	c.OrCondition().Where("age", queryir.Gt, 65).Where("vip", queryir.Eq, true)
//
// resolves to:
//
//	status = ? AND ( role = ? OR role = ? ) OR ( age > ? AND vip = ? )
type Conditions struct {
	terms []Term
	errs  []error
}

// New returns an empty tree.
func New() *Conditions {
	return &Conditions{}
}

// Where appends a comparison joined with AND.
func (c *Conditions) Where(column string, op Operator, value any) *Conditions {
	return c.appendComparison(And, column, op, value)
}

// AndWhere is an alias for Where.
func (c *Conditions) AndWhere(column string, op Operator, value any) *Conditions {
	return c.Where(column, op, value)
}

// OrWhere appends a comparison joined with OR.
func (c *Conditions) OrWhere(column string, op Operator, value any) *Conditions {
	return c.appendComparison(Or, column, op, value)
}

// Between appends (column >= lo AND column <= hi) joined with AND.
func (c *Conditions) Between(column string, lo, hi any) *Conditions {
	c.AndCondition().Where(column, Gte, lo).Where(column, Lte, hi)
	return c
}

// AndBetween is an alias for Between.
func (c *Conditions) AndBetween(column string, lo, hi any) *Conditions {
	return c.Between(column, lo, hi)
}

// OrBetween appends (column >= lo AND column <= hi) joined with OR.
func (c *Conditions) OrBetween(column string, lo, hi any) *Conditions {
	c.OrCondition().Where(column, Gte, lo).Where(column, Lte, hi)
	return c
}

// NotBetween appends (column < lo OR column > hi) joined with AND.
func (c *Conditions) NotBetween(column string, lo, hi any) *Conditions {
	c.AndCondition().Where(column, Lt, lo).OrWhere(column, Gt, hi)
	return c
}

// OrNotBetween appends (column < lo OR column > hi) joined with OR.
func (c *Conditions) OrNotBetween(column string, lo, hi any) *Conditions {
	c.OrCondition().Where(column, Lt, lo).OrWhere(column, Gt, hi)
	return c
}

// WhereIn appends an OR-chain of equalities as one unit joined with AND.
func (c *Conditions) WhereIn(column string, values ...any) *Conditions {
	return c.appendSet(And, column, values, false)
}

// AndWhereIn is an alias for WhereIn.
func (c *Conditions) AndWhereIn(column string, values ...any) *Conditions {
	return c.WhereIn(column, values...)
}

// OrWhereIn appends an OR-chain of equalities as one unit joined with OR.
func (c *Conditions) OrWhereIn(column string, values ...any) *Conditions {
	return c.appendSet(Or, column, values, false)
}

// WhereNotIn appends an AND-chain of inequalities as one unit joined with AND.
func (c *Conditions) WhereNotIn(column string, values ...any) *Conditions {
	return c.appendSet(And, column, values, true)
}

// AndWhereNotIn is an alias for WhereNotIn.
func (c *Conditions) AndWhereNotIn(column string, values ...any) *Conditions {
	return c.WhereNotIn(column, values...)
}

// OrWhereNotIn appends an AND-chain of inequalities as one unit joined with OR.
func (c *Conditions) OrWhereNotIn(column string, values ...any) *Conditions {
	return c.appendSet(Or, column, values, true)
}

// Function appends a boolean raw expression joined with AND.
// The text is used verbatim.
func (c *Conditions) Function(call string) *Conditions {
	c.terms = append(c.terms, Term{Junction: And, Node: Raw{Expr: call}})
	return c
}

// AndFunction is an alias for Function.
func (c *Conditions) AndFunction(call string) *Conditions {
	return c.Function(call)
}

// OrFunction appends a boolean raw expression joined with OR.
func (c *Conditions) OrFunction(call string) *Conditions {
	c.terms = append(c.terms, Term{Junction: Or, Node: Raw{Expr: call}})
	return c
}

// FunctionCompare appends <call> <op> <value> joined with AND.
func (c *Conditions) FunctionCompare(call string, op Operator, value any) *Conditions {
	return c.appendRaw(And, call, op, value)
}

// OrFunctionCompare appends <call> <op> <value> joined with OR.
func (c *Conditions) OrFunctionCompare(call string, op Operator, value any) *Conditions {
	return c.appendRaw(Or, call, op, value)
}

// AndCondition appends a nested tree joined with AND and returns it.
func (c *Conditions) AndCondition() *Conditions {
	child := New()
	c.terms = append(c.terms, Term{Junction: And, Node: Group{Conditions: child}})
	return child
}

// OrCondition appends a nested tree joined with OR and returns it.
func (c *Conditions) OrCondition() *Conditions {
	child := New()
	c.terms = append(c.terms, Term{Junction: Or, Node: Group{Conditions: child}})
	return child
}

// Unshift puts tree first, as a nested unit with no junction of its own.
// The previous first child joins it with AND.
func (c *Conditions) Unshift(tree *Conditions) *Conditions {
	if len(c.terms) > 0 {
		c.terms[0].Junction = And
	}
	c.terms = append([]Term{{Junction: And, Node: Group{Conditions: tree}}}, c.terms...)
	return c
}

// HasConditions reports whether anything has been added.
func (c *Conditions) HasConditions() bool {
	return c != nil && len(c.terms) > 0
}

// HasRootOr reports whether any top-level child joins with OR, in which case
// the tree needs parentheses before another condition can be ANDed to it.
func (c *Conditions) HasRootOr() bool {
	for i, t := range c.Terms() {
		if i > 0 && t.Junction == Or {
			return true
		}
	}
	return false
}

// Terms returns the child list for structural introspection.
func (c *Conditions) Terms() []Term {
	if c == nil {
		return nil
	}
	return c.terms
}

// Values returns the bound values in the order placeholders appear when the
// tree is resolved. A fresh slice is built on every call.
func (c *Conditions) Values() []ir.IRValue {
	var values []ir.IRValue
	c.collectValues(&values)
	return values
}

func (c *Conditions) collectValues(values *[]ir.IRValue) {
	for _, t := range c.Terms() {
		switch n := t.Node.(type) {
		case Comparison:
			*values = append(*values, n.Value)
		case Raw:
			if n.HasOperand {
				*values = append(*values, n.Value)
			}
		case Group:
			n.Conditions.collectValues(values)
		}
	}
}

// Columns returns every column referenced by a Comparison, in order,
// without duplicates. Raw expressions are not parsed.
func (c *Conditions) Columns() []string {
	seen := map[string]bool{}
	var cols []string
	var walk func(*Conditions)
	walk = func(t *Conditions) {
		for _, term := range t.Terms() {
			switch n := term.Node.(type) {
			case Comparison:
				if !seen[n.Column] {
					seen[n.Column] = true
					cols = append(cols, n.Column)
				}
			case Group:
				walk(n.Conditions)
			}
		}
	}
	walk(c)
	return cols
}

// Clone returns a deep copy; the clone can be unshifted without touching c.
func (c *Conditions) Clone() *Conditions {
	if c == nil {
		return New()
	}
	out := &Conditions{
		terms: make([]Term, len(c.terms)),
		errs:  append([]error(nil), c.errs...),
	}
	for i, t := range c.terms {
		if g, ok := t.Node.(Group); ok {
			t.Node = Group{Conditions: g.Conditions.Clone()}
		}
		out.terms[i] = t
	}
	return out
}

// Err reports every builder error in the tree, nested ones included.
func (c *Conditions) Err() error {
	if c == nil {
		return nil
	}
	errs := append([]error(nil), c.errs...)
	for _, t := range c.terms {
		if g, ok := t.Node.(Group); ok {
			if err := g.Conditions.Err(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (c *Conditions) appendComparison(j Junction, column string, op Operator, value any) *Conditions {
	v, err := c.convert(column, op, value)
	if err != nil {
		c.errs = append(c.errs, err)
		return c
	}
	c.terms = append(c.terms, Term{Junction: j, Node: Comparison{Column: column, Op: op, Value: v}})
	return c
}

func (c *Conditions) appendRaw(j Junction, call string, op Operator, value any) *Conditions {
	v, err := c.convert(call, op, value)
	if err != nil {
		c.errs = append(c.errs, err)
		return c
	}
	c.terms = append(c.terms, Term{Junction: j, Node: Raw{Expr: call, Op: op, Value: v, HasOperand: true}})
	return c
}

func (c *Conditions) appendSet(j Junction, column string, values []any, negate bool) *Conditions {
	if len(values) == 0 {
		c.errs = append(c.errs, fmt.Errorf("%s: empty value list", column))
		return c
	}
	child := New()
	for _, v := range values {
		if negate {
			child.Where(column, Neq, v)
		} else {
			child.OrWhere(column, Eq, v)
		}
	}
	c.terms = append(c.terms, Term{Junction: j, Node: Group{Conditions: child}})
	return c
}

func (c *Conditions) convert(lhs string, op Operator, value any) (ir.IRValue, error) {
	if !op.Valid() {
		return nil, fmt.Errorf("%s: unknown operator %q", lhs, op)
	}
	v, err := ir.FromGo(value)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", lhs, err)
	}
	switch v.(type) {
	case ir.IRArray, ir.IRObject:
		return nil, fmt.Errorf("%s: composite value not comparable", lhs)
	}
	return v, nil
}
