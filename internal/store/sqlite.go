package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/recordset/internal/ir"
)

// sqlitePragmas are applied to every new connection.
var sqlitePragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA foreign_keys = ON",
}

// sqliteConnector opens connections with the pragmas applied and NOW()
// registered against the manager's clock.
type sqliteConnector struct {
	dsn    string
	driver *sqlite3.SQLiteDriver
}

func newSQLiteConnector(dsn string, clock Clock) *sqliteConnector {
	now := func() string {
		return clock.Now().UTC().Format(ir.TimestampLayout)
	}
	return &sqliteConnector{
		dsn: dsn,
		driver: &sqlite3.SQLiteDriver{
			ConnectHook: func(conn *sqlite3.SQLiteConn) error {
				// NOW() is not a sqlite builtin; the statements the
				// compiler emits rely on it for timestamp columns.
				if err := conn.RegisterFunc("now", now, false); err != nil {
					return fmt.Errorf("register now(): %w", err)
				}
				for _, pragma := range sqlitePragmas {
					if _, err := conn.Exec(pragma, nil); err != nil {
						return fmt.Errorf("failed to execute %q: %w", pragma, err)
					}
				}
				return nil
			},
		},
	}
}

// Connect implements driver.Connector.
func (c *sqliteConnector) Connect(context.Context) (driver.Conn, error) {
	return c.driver.Open(c.dsn)
}

// Driver implements driver.Connector.
func (c *sqliteConnector) Driver() driver.Driver {
	return c.driver
}

// openSQLite opens a single-connection pool.
// SQLite only supports one writer at a time, and an in-memory database
// lives exactly as long as its one connection.
func openSQLite(ctx context.Context, dsn string, clock Clock) (*sql.DB, error) {
	db := sql.OpenDB(newSQLiteConnector(dsn, clock))
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
