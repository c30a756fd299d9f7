package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/roach88/recordset/internal/ir"
	"github.com/roach88/recordset/internal/querysql"
)

// QueryLogEntry is one statement sent to the backing store.
type QueryLogEntry struct {
	SQL  string `json:"sql"`
	Args []any  `json:"args"`
}

// Conn is a pooled connection to one datasource.
//
// Every statement is logged at debug level. When the config enables
// record_queries, statements are also kept in memory for inspection.
type Conn struct {
	db      *sql.DB
	dialect querysql.Dialect
	name    string
	logger  *slog.Logger

	record  bool
	mu      sync.Mutex
	queries []QueryLogEntry
}

func newConn(db *sql.DB, dialect querysql.Dialect, name string, record bool, logger *slog.Logger) *Conn {
	return &Conn{db: db, dialect: dialect, name: name, record: record, logger: logger}
}

// Dialect returns the SQL dialect of the datasource.
func (c *Conn) Dialect() querysql.Dialect {
	return c.dialect
}

// Name returns the datasource reference the connection was opened for.
func (c *Conn) Name() string {
	return c.name
}

// DB returns the underlying pool.
// Use with caution - statements issued through it are not logged.
func (c *Conn) DB() *sql.DB {
	return c.db
}

// QueryContext runs a read. Callers close the returned rows.
func (c *Conn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	c.observe(query, args)
	return c.db.QueryContext(ctx, query, args...)
}

// ExecContext runs a statement outside any transaction.
func (c *Conn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	c.observe(query, args)
	return c.db.ExecContext(ctx, query, args...)
}

// BeginTx starts a transaction.
func (c *Conn) BeginTx(ctx context.Context) (*Tx, error) {
	c.observe("BEGIN", nil)
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &Tx{tx: tx, conn: c}, nil
}

// Queries returns a copy of the recorded statements.
func (c *Conn) Queries() []QueryLogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.queries)
}

// ResetQueries clears the recorded statements.
func (c *Conn) ResetQueries() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queries = nil
}

func (c *Conn) observe(query string, args []any) {
	c.logger.Debug("sql", "datasource", c.name, "query", query, "args", args)
	if !c.record {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queries = append(c.queries, QueryLogEntry{SQL: query, Args: slices.Clone(args)})
}

// Tx is a transaction with named savepoints.
//
// Pattern:
//
//	tx, err := conn.BeginTx(ctx)
//	if err != nil { return err }
//	defer tx.Rollback() // no-op after Commit
//	...
//	return tx.Commit()
type Tx struct {
	tx   *sql.Tx
	conn *Conn
	done bool
}

// ExecContext runs a statement inside the transaction.
func (t *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	t.conn.observe(query, args)
	return t.tx.ExecContext(ctx, query, args...)
}

// QueryContext runs a read inside the transaction. Callers close the rows
// before issuing further statements.
func (t *Tx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	t.conn.observe(query, args)
	return t.tx.QueryContext(ctx, query, args...)
}

// PrepareContext prepares a statement for repeated execution in the transaction.
func (t *Tx) PrepareContext(ctx context.Context, query string) (*Stmt, error) {
	stmt, err := t.tx.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("prepare %q: %w", query, err)
	}
	return &Stmt{stmt: stmt, query: query, conn: t.conn}, nil
}

// Savepoint marks a point the transaction can roll back to.
func (t *Tx) Savepoint(ctx context.Context, name string) error {
	_, err := t.ExecContext(ctx, "SAVEPOINT "+name)
	return err
}

// RollbackTo undoes everything since the named savepoint. The savepoint
// stays open.
func (t *Tx) RollbackTo(ctx context.Context, name string) error {
	_, err := t.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name)
	return err
}

// Release discards the named savepoint, keeping its work.
func (t *Tx) Release(ctx context.Context, name string) error {
	_, err := t.ExecContext(ctx, "RELEASE SAVEPOINT "+name)
	return err
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	t.conn.observe("COMMIT", nil)
	t.done = true
	return t.tx.Commit()
}

// Rollback aborts the transaction. It is a no-op once committed or rolled back.
func (t *Tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.conn.observe("ROLLBACK", nil)
	return t.tx.Rollback()
}

// Stmt is a prepared statement bound to a transaction.
type Stmt struct {
	stmt  *sql.Stmt
	query string
	conn  *Conn
}

// ExecContext executes the statement with args.
func (s *Stmt) ExecContext(ctx context.Context, args ...any) (sql.Result, error) {
	s.conn.observe(s.query, args)
	return s.stmt.ExecContext(ctx, args...)
}

// Close releases the statement.
func (s *Stmt) Close() error {
	return s.stmt.Close()
}

// ScanValues reads the current row of rows as IR values.
func ScanValues(rows *sql.Rows, n int) ([]ir.IRValue, error) {
	raw := make([]any, n)
	ptrs := make([]any, n)
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("scan row: %w", err)
	}
	out := make([]ir.IRValue, n)
	for i, v := range raw {
		iv, err := ir.FromDriver(v)
		if err != nil {
			return nil, fmt.Errorf("column %d: %w", i, err)
		}
		out[i] = iv
	}
	return out, nil
}

// Args converts IR values to bind parameters.
func Args(values []ir.IRValue) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = ir.ToDriver(v)
	}
	return out
}
