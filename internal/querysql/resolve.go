package querysql

import (
	"fmt"
	"strings"

	"github.com/roach88/recordset/internal/ir"
	"github.com/roach88/recordset/internal/queryir"
)

// Resolve renders a condition tree as a parameterized boolean expression.
//
// Siblings are joined with their junctions in insertion order; every nested
// tree is wrapped as "( ... )". Parameters come back in placeholder order,
// which is the order of c.Values(). Each call builds fresh output, so a tree
// may be resolved any number of times.
//
// CRITICAL: Values are NEVER interpolated - always "?" placeholders.
func Resolve(c *queryir.Conditions) (string, []any, error) {
	if err := c.Err(); err != nil {
		return "", nil, fmt.Errorf("invalid conditions: %w", err)
	}
	var sb strings.Builder
	var params []any
	if err := resolveInto(&sb, &params, c); err != nil {
		return "", nil, err
	}
	return sb.String(), params, nil
}

func resolveInto(sb *strings.Builder, params *[]any, c *queryir.Conditions) error {
	for i, t := range c.Terms() {
		if i > 0 {
			sb.WriteByte(' ')
			sb.WriteString(string(t.Junction))
			sb.WriteByte(' ')
		}
		switch n := t.Node.(type) {
		case queryir.Comparison:
			fmt.Fprintf(sb, "%s %s ?", n.Column, n.Op)
			*params = append(*params, ir.ToDriver(n.Value))
		case queryir.Raw:
			sb.WriteString(n.Expr)
			if n.HasOperand {
				fmt.Fprintf(sb, " %s ?", n.Op)
				*params = append(*params, ir.ToDriver(n.Value))
			}
		case queryir.Group:
			if !n.Conditions.HasConditions() {
				return fmt.Errorf("empty nested condition at position %d", i)
			}
			sb.WriteString("( ")
			if err := resolveInto(sb, params, n.Conditions); err != nil {
				return err
			}
			sb.WriteString(" )")
		default:
			return fmt.Errorf("unsupported condition node: %T", t.Node)
		}
	}
	return nil
}
