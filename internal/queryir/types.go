package queryir

import (
	"fmt"

	"github.com/roach88/recordset/internal/ir"
)

// Node is one child of a condition tree.
//
// This is a sealed interface - only types in this package implement it.
// The marker method pattern prevents external implementations and enables
// exhaustive type switches in the SQL and in-memory interpreters.
//
// Node types:
//   - Comparison: column <op> value
//   - Raw: unvalidated expression text, optionally followed by <op> value
//   - Group: a nested tree, resolved as one parenthesized unit
type Node interface {
	conditionNode() // Marker method - seals interface to this package
}

// Operator is a comparison operator.
type Operator string

const (
	Eq  Operator = "="
	Neq Operator = "<>"
	Lt  Operator = "<"
	Lte Operator = "<="
	Gt  Operator = ">"
	Gte Operator = ">="
)

// Valid reports whether op is one of the six supported operators.
func (op Operator) Valid() bool {
	switch op {
	case Eq, Neq, Lt, Lte, Gt, Gte:
		return true
	}
	return false
}

// Holds reports whether a three-way comparison result satisfies op.
func (op Operator) Holds(c int) bool {
	switch op {
	case Eq:
		return c == 0
	case Neq:
		return c != 0
	case Lt:
		return c < 0
	case Lte:
		return c <= 0
	case Gt:
		return c > 0
	case Gte:
		return c >= 0
	}
	return false
}

// ParseOperator accepts the SQL spelling of an operator. "!=" is read as "<>".
func ParseOperator(s string) (Operator, error) {
	if s == "!=" {
		return Neq, nil
	}
	op := Operator(s)
	if !op.Valid() {
		return "", fmt.Errorf("unknown operator %q", s)
	}
	return op, nil
}

// Junction joins a child to its previous sibling.
type Junction string

const (
	And Junction = "AND"
	Or  Junction = "OR"
)

// Comparison represents a column-versus-literal leaf.
//
// Semantics:
//
//	<column> <op> <value>
//
// Comparisons against NULL are never true, in SQL and in memory alike.
type Comparison struct {
	Column string
	Op     Operator
	Value  ir.IRValue
}

func (Comparison) conditionNode() {}

// Raw represents a leaf whose left-hand side is literal text such as
// DATE(created_on). The text is never parsed or validated.
//
// Without an operand the expression itself must be boolean. With one, it
// renders as <expr> <op> <value>.
type Raw struct {
	Expr       string
	Op         Operator
	Value      ir.IRValue
	HasOperand bool
}

func (Raw) conditionNode() {}

// Group represents a nested tree. Its children resolve inside one pair of
// parentheses and it joins its parent as a single unit.
type Group struct {
	Conditions *Conditions
}

func (Group) conditionNode() {}

// Term is a child with the junction that joins it to its previous sibling.
// The first term's junction is ignored.
type Term struct {
	Junction Junction
	Node     Node
}
