// Package store manages connections to the backing stores.
//
// A Config names credentials and datasources; a Manager resolves
// references against it and caches one pooled Conn per pair. Two drivers
// are built in:
//
//   - sqlite: mattn/go-sqlite3 through a connector that applies the
//     pragmas below and registers NOW() on every connection
//   - postgres: jackc/pgx through its database/sql adapter
//
// # SQLite Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//   - one open connection: one writer, and in-memory databases persist
//
// Conn and Tx log every statement at debug level. Tx adds the savepoint
// calls flushes use to isolate one row's failure.
package store
