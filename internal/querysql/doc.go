// Package querysql compiles condition trees and entity descriptors into
// parameterized SQL.
//
// Resolve is the SQL interpreter for queryir trees. Compiler builds the full
// statements the repository runs: scoped SELECTs, soft deletes, inserts,
// dirty-column updates and point lookups. Statements are written with "?"
// placeholders and rebound for the target Dialect as the last step.
//
// NOW() is used for every managed timestamp. Postgres provides it; the
// sqlite driver registered by package store adds it.
package querysql
