package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
)

const (
	postgresMaxOpen     = 10
	postgresMaxIdle     = 5
	postgresMaxLifetime = 30 * time.Minute
	postgresPingTimeout = 5 * time.Second
)

// openPostgres opens a pgx-backed pool. Credentials override any user or
// password embedded in the DSN.
func openPostgres(ctx context.Context, ds DataSource, cred Credentials) (*sql.DB, error) {
	cfg, err := pgx.ParseConfig(ds.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cred.User != "" {
		cfg.User = cred.User
	}
	if cred.Password != "" {
		cfg.Password = cred.Password
	}

	db := stdlib.OpenDB(*cfg)
	maxOpen := postgresMaxOpen
	if ds.MaxOpenConns > 0 {
		maxOpen = ds.MaxOpenConns
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(min(postgresMaxIdle, maxOpen))
	db.SetConnMaxLifetime(postgresMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, postgresPingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
