// Package ir provides the column value representation shared by every layer
// of recordset.
//
// This package contains value types only. All other internal packages
// import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Values are sealed: IRNull, IRString, IRInt, IRFloat, IRBool (scalars)
//     plus IRArray and IRObject for rows and result sets
//   - Compare follows backing-store ordering, so the in-memory evaluator and
//     generated SQL agree
//   - Text() is the string-context rendering used to build record keys
//   - JSON output goes through MarshalCanonical for deterministic key order
package ir
