package queryir

import (
	"fmt"

	"github.com/roach88/recordset/internal/ir"
)

// ValidationResult contains portability analysis of a condition tree.
//
// A portable tree is one both interpreters evaluate without outside help:
// the SQL backend and the in-memory evaluator agree on it by construction.
// Trees outside that subset still compile to SQL; the repository falls back
// to the backing store for local entities it cannot decide.
type ValidationResult struct {
	// IsPortable indicates the tree can be evaluated in memory as-is.
	IsPortable bool

	// Warnings lists the constructs that make the tree non-portable, or that
	// can never match. Empty when IsPortable is true.
	Warnings []string
}

// Validate checks a tree against the portable subset.
//
// Rules:
//  1. Raw expressions need an evaluator registered with the repository
//  2. Comparisons against NULL never match (use a raw IS NULL expression)
//  3. Empty nested trees resolve to "(  )", which no backend accepts
//  4. When columns are given, every compared column must be one of them
//
// Builder errors (see Conditions.Err) are reported as warnings too.
//
// Validate is a pure function with no side effects.
func Validate(c *Conditions, columns ...string) ValidationResult {
	v := &validator{
		warnings: []string{},
	}
	if len(columns) > 0 {
		v.known = make(map[string]bool, len(columns))
		for _, col := range columns {
			v.known[col] = true
		}
	}
	if err := c.Err(); err != nil {
		v.addWarning("Builder error: %v", err)
	}
	v.validateConditions(c, true)

	return ValidationResult{
		IsPortable: len(v.warnings) == 0,
		Warnings:   v.warnings,
	}
}

// validator accumulates warnings during traversal.
type validator struct {
	known    map[string]bool
	warnings []string
}

// addWarning appends a warning message.
func (v *validator) addWarning(format string, args ...any) {
	v.warnings = append(v.warnings, fmt.Sprintf(format, args...))
}

func (v *validator) validateConditions(c *Conditions, root bool) {
	if !c.HasConditions() {
		if !root {
			v.addWarning("Empty nested condition - resolves to an empty parenthesized group")
		}
		return
	}

	for _, t := range c.Terms() {
		switch n := t.Node.(type) {
		case Comparison:
			v.validateComparison(n)
		case Raw:
			v.addWarning("Raw expression %q - in-memory evaluation requires a registered evaluator", n.Expr)
			if n.HasOperand && ir.IsNull(n.Value) {
				v.addWarning("Raw expression %q compared to NULL - never matches", n.Expr)
			}
		case Group:
			v.validateConditions(n.Conditions, false)
		default:
			v.addWarning("Unknown node type: %T - portability cannot be verified", t.Node)
		}
	}
}

func (v *validator) validateComparison(cmp Comparison) {
	if v.known != nil && !v.known[cmp.Column] {
		v.addWarning("Column '%s' is not a declared column", cmp.Column)
	}
	if ir.IsNull(cmp.Value) {
		v.addWarning("Column '%s' compared to NULL - never matches", cmp.Column)
	}
}
