package store

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/recordset/internal/querysql"
)

// Clock supplies the time written to timestamp columns on SQLite.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Manager hands out connections by credentials and datasource reference.
// Connections are opened lazily and cached per pair.
//
// Thread-safety: all methods are safe for concurrent use.
type Manager struct {
	cfg    *Config
	clock  Clock
	logger *slog.Logger

	mu    sync.Mutex
	conns map[string]*Conn
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithClock sets the clock behind NOW() on SQLite datasources.
func WithClock(c Clock) ManagerOption {
	return func(m *Manager) {
		m.clock = c
	}
}

// WithLogger sets the logger for connection and statement events.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = l
	}
}

// NewManager creates a Manager for cfg.
func NewManager(cfg *Config, opts ...ManagerOption) *Manager {
	m := &Manager{
		cfg:    cfg,
		clock:  systemClock{},
		logger: slog.Default(),
		conns:  make(map[string]*Conn),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect returns the connection for the given references, opening it on
// first use. Empty references select the configured defaults.
func (m *Manager) Connect(ctx context.Context, credentialsRef, dataSourceRef string) (*Conn, error) {
	cred, credName, err := m.cfg.credentials(credentialsRef)
	if err != nil {
		return nil, err
	}
	ds, dsName, err := m.cfg.dataSource(dataSourceRef)
	if err != nil {
		return nil, err
	}
	dialect, err := querysql.ParseDialect(ds.Driver)
	if err != nil {
		return nil, &ConfigError{Code: ErrCodeUnavailableDriver, Ref: dsName, Message: err.Error()}
	}

	key := credName + "@" + dsName

	m.mu.Lock()
	defer m.mu.Unlock()

	if conn, ok := m.conns[key]; ok {
		return conn, nil
	}

	var db *sql.DB
	switch dialect {
	case querysql.SQLite:
		db, err = openSQLite(ctx, ds.DSN, m.clock)
	case querysql.Postgres:
		db, err = openPostgres(ctx, ds, cred)
	}
	if err != nil {
		m.logger.Error("connect failed", "datasource", dsName, "driver", ds.Driver, "error", err)
		return nil, &ConfigError{Code: ErrCodeConnectFailed, Ref: dsName, Message: "cannot connect", Err: err}
	}

	m.logger.Info("connected", "datasource", dsName, "driver", ds.Driver, "credentials", credName)
	conn := newConn(db, dialect, dsName, m.cfg.RecordQueries, m.logger)
	m.conns[key] = conn
	return conn, nil
}

// Dialect returns the SQL dialect of a datasource without connecting.
// An empty reference selects the default datasource.
func (m *Manager) Dialect(dataSourceRef string) (querysql.Dialect, error) {
	ds, dsName, err := m.cfg.dataSource(dataSourceRef)
	if err != nil {
		return "", err
	}
	d, err := querysql.ParseDialect(ds.Driver)
	if err != nil {
		return "", &ConfigError{Code: ErrCodeUnavailableDriver, Ref: dsName, Message: err.Error()}
	}
	return d, nil
}

// Close closes every cached connection.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for key, conn := range m.conns {
		if err := conn.db.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(m.conns, key)
	}
	return errors.Join(errs...)
}
