package store

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
)

// ConfigErrorCode identifies the kind of configuration or connectivity failure.
type ConfigErrorCode string

const (
	// ErrCodeCredentialsNotFound indicates an unknown credentials reference.
	ErrCodeCredentialsNotFound ConfigErrorCode = "CREDENTIALS_NOT_FOUND"

	// ErrCodeUnknownDataSource indicates an unknown or incomplete datasource.
	ErrCodeUnknownDataSource ConfigErrorCode = "UNKNOWN_DATASOURCE"

	// ErrCodeUnavailableDriver indicates a datasource driver that is not built in.
	ErrCodeUnavailableDriver ConfigErrorCode = "UNAVAILABLE_DRIVER"

	// ErrCodeConnectFailed indicates the backing store could not be reached.
	ErrCodeConnectFailed ConfigErrorCode = "CONNECT_FAILED"
)

// ConfigError is a configuration or connectivity failure. Repositories
// propagate it unchanged.
type ConfigError struct {
	Code    ConfigErrorCode
	Ref     string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Ref != "" {
		msg = fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Ref)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying driver error, if any.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// IsConfigError checks if an error is a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// ConstraintViolation reports whether err is an integrity constraint failure
// (unique, check, not null, foreign key) from either driver.
func ConstraintViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// SQLSTATE class 23: integrity constraint violation
		return len(pgErr.Code) == 5 && pgErr.Code[:2] == "23"
	}
	return false
}
