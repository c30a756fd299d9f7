// Package queryir provides the condition tree shared by the SQL compiler and
// the in-memory evaluator.
//
// A tree is an ordered list of terms. Each term holds a node and the junction
// (AND/OR) that joins it to its previous sibling; the first junction is
// never used. Nested trees are a single node, so
//
//	a AND ( b OR c ) OR d
//
// is three terms: a, a Group of {b, OR c}, and OR d.
//
// SEALED INTERFACES:
//
// Node is a sealed interface using the marker method pattern. Only
// Comparison, Raw and Group implement it, which lets both interpreters use
// exhaustive type switches:
//
//	switch n := term.Node.(type) {
//	case Comparison:
//	case Raw:
//	case Group:
//	}
//
// VALUE ORDER:
//
// Values() flattens bound values depth-first in insertion order. That is the
// order "?" placeholders appear in the compiled SQL, and both interpreters
// walk the tree in the same order.
//
// PRECEDENCE:
//
// Junctions between siblings follow SQL precedence: AND binds tighter than
// OR. The SQL compiler emits siblings flat; the in-memory evaluator groups
// AND-runs before applying OR, so both read the same tree the same way.
package queryir
