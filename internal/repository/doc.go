// Package repository keeps a working set of entity instances consistent
// with a backing table.
//
// A Repository owns two local stores: instances read from the backing store
// (keyed by record key, in load order) and instances created but not yet
// inserted. Reads and deletes are described with promises:
//
//   - DataPromise: a SELECT whose results merge backing-store rows with
//     local instances. Local instances that match the conditions in memory,
//     are dirty, or are flagged for deletion are excluded from the SQL by
//     primary key, so the result never holds a stale copy or a duplicate.
//   - DeletePromise: a soft delete of matching rows that also flags
//     matching local instances.
//
// Local changes reach the backing store through FlushCreates, FlushUpdates
// and FlushDeletes. Each flush runs in one transaction under a Policy:
// StopOnFirstFail rolls back everything at the first failing row, while
// BestEffort isolates each row in a savepoint and commits the rest. Flushed
// instances leave their local store; failed ones stay for a retry.
//
// Unscoped reads and deletes are rejected before any I/O (IsScopeViolation).
package repository
