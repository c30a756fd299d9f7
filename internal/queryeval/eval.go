package queryeval

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/recordset/internal/ir"
	"github.com/roach88/recordset/internal/model"
	"github.com/roach88/recordset/internal/queryir"
)

// ErrUndecidable is returned when a tree references something the evaluator
// cannot see: an unset column, or a raw expression with no registered
// RawFunc. The backing store has to decide such rows.
var ErrUndecidable = errors.New("condition cannot be evaluated in memory")

// Accessor reads the current value of a column. ok is false when the column
// is unknown or has no value. *model.Model implements it.
type Accessor interface {
	Lookup(column string) (ir.IRValue, bool)
}

// TypedAccessor is an Accessor that knows column types. Literals are
// converted to the column's type before comparing, as the backing store
// applies column affinity to the other operand.
type TypedAccessor interface {
	Accessor
	ColumnType(column string) (model.ColumnType, bool)
}

// RawFunc computes a raw expression for one record. For a boolean raw leaf
// the result is tested for truth; otherwise it is compared with the leaf's
// operand.
type RawFunc func(acc Accessor) (ir.IRValue, error)

// Evaluator runs condition trees against in-memory records.
//
// It reads the same tree the SQL compiler reads, with the same operator,
// junction and NULL semantics: AND binds tighter than OR among siblings,
// comparisons against NULL are false, and values compare as ir.Compare
// orders them.
type Evaluator struct {
	raw map[string]RawFunc
}

// New creates an Evaluator with no raw expressions registered.
func New() *Evaluator {
	return &Evaluator{raw: make(map[string]RawFunc)}
}

// Register binds a raw expression's exact text to fn.
func (e *Evaluator) Register(expr string, fn RawFunc) {
	e.raw[expr] = fn
}

// Evaluate reports whether the record satisfies c. An empty tree matches
// everything.
func (e *Evaluator) Evaluate(c *queryir.Conditions, acc Accessor) (bool, error) {
	if err := c.Err(); err != nil {
		return false, fmt.Errorf("invalid conditions: %w", err)
	}
	if !c.HasConditions() {
		return true, nil
	}
	r := e.evalTerms(c, acc)
	if r.err != nil {
		return false, r.err
	}
	return r.value, nil
}

// Evaluate runs c with a default Evaluator.
func Evaluate(c *queryir.Conditions, acc Accessor) (bool, error) {
	return New().Evaluate(c, acc)
}

// result is a decided boolean, or the reason it could not be decided.
type result struct {
	value bool
	err   error
}

func decided(v bool) result { return result{value: v} }

// evalTerms splits siblings into OR-separated runs of AND terms.
// A decided true run makes the whole list true even if another run is
// undecidable; a decided false term makes its run false likewise.
func (e *Evaluator) evalTerms(c *queryir.Conditions, acc Accessor) result {
	var undecided error
	run := decided(true)

	closeRun := func() bool {
		if run.err != nil {
			if undecided == nil {
				undecided = run.err
			}
			return false
		}
		return run.value
	}

	for i, t := range c.Terms() {
		if i > 0 && t.Junction == queryir.Or {
			if closeRun() {
				return decided(true)
			}
			run = decided(true)
		}
		if run.err == nil && !run.value {
			continue // run already false
		}
		r := e.evalNode(t.Node, acc)
		switch {
		case r.err == nil && !r.value:
			run = decided(false)
		case r.err != nil:
			run = r
		}
	}
	if closeRun() {
		return decided(true)
	}
	if undecided != nil {
		return result{err: undecided}
	}
	return decided(false)
}

func (e *Evaluator) evalNode(n queryir.Node, acc Accessor) result {
	switch node := n.(type) {
	case queryir.Comparison:
		v, ok := acc.Lookup(node.Column)
		if !ok {
			return result{err: fmt.Errorf("%w: column %s has no value", ErrUndecidable, node.Column)}
		}
		return decided(compare(v, node.Op, literal(acc, node.Column, node.Value)))
	case queryir.Raw:
		fn, ok := e.raw[node.Expr]
		if !ok {
			return result{err: fmt.Errorf("%w: raw expression %q", ErrUndecidable, node.Expr)}
		}
		v, err := fn(acc)
		if err != nil {
			return result{err: fmt.Errorf("%w: raw expression %q: %v", ErrUndecidable, node.Expr, err)}
		}
		if node.HasOperand {
			return decided(compare(v, node.Op, node.Value))
		}
		return decided(truthy(v))
	case queryir.Group:
		if !node.Conditions.HasConditions() {
			return result{err: fmt.Errorf("%w: empty nested condition", ErrUndecidable)}
		}
		return e.evalTerms(node.Conditions, acc)
	default:
		return result{err: fmt.Errorf("%w: unsupported node %T", ErrUndecidable, n)}
	}
}

func literal(acc Accessor, column string, v ir.IRValue) ir.IRValue {
	typed, ok := acc.(TypedAccessor)
	if !ok {
		return v
	}
	t, ok := typed.ColumnType(column)
	if !ok {
		return v
	}
	if cv, err := t.Coerce(v); err == nil {
		return cv
	}
	return v
}

func compare(left ir.IRValue, op queryir.Operator, right ir.IRValue) bool {
	c, ok := ir.Compare(left, right)
	if !ok {
		return false
	}
	return op.Holds(c)
}

// truthy follows SQL: NULL and zero are false, text is read as a number.
func truthy(v ir.IRValue) bool {
	if ir.IsNull(v) {
		return false
	}
	if f, ok := ir.Numeric(v); ok {
		return f != 0
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v.Text()), 64)
	return err == nil && f != 0
}
