package repository

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes repository errors.
type ErrorCode string

const (
	// ErrCodeUnconditional indicates a read or delete without a WHERE clause.
	ErrCodeUnconditional ErrorCode = "UNCONDITIONAL_QUERY"

	// ErrCodeWrongEntityType indicates an instance of another entity type.
	ErrCodeWrongEntityType ErrorCode = "WRONG_ENTITY_TYPE"

	// ErrCodeUnknownStore indicates an unknown local store name.
	ErrCodeUnknownStore ErrorCode = "UNKNOWN_STORE"

	// ErrCodeKeyArity indicates a primary key with the wrong number of values.
	ErrCodeKeyArity ErrorCode = "KEY_ARITY"
)

// Error is a programmer error detected before any backing-store I/O.
//
// Errors with the same Code match under errors.Is, so callers can test
// against the sentinels below regardless of Op and Message.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Op is the repository operation that failed.
	Op string

	// Entity is the entity type name.
	Entity string

	// Message is a human-readable description.
	Message string
}

// Sentinels for errors.Is.
var (
	ErrUnconditionalQuery = &Error{Code: ErrCodeUnconditional}
	ErrWrongEntityType    = &Error{Code: ErrCodeWrongEntityType}
	ErrUnknownStore       = &Error{Code: ErrCodeUnknownStore}
	ErrKeyArity           = &Error{Code: ErrCodeKeyArity}
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Op != "" {
		return fmt.Sprintf("%s (op=%s, entity=%s)", msg, e.Op, e.Entity)
	}
	return msg
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// IsScopeViolation returns true for unconditional reads and deletes.
// Uses errors.As to handle wrapped errors.
func IsScopeViolation(err error) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.Code == ErrCodeUnconditional
	}
	return false
}

// IsIdentityViolation returns true for wrong entity types, unknown store
// names and malformed primary keys.
func IsIdentityViolation(err error) bool {
	var re *Error
	if errors.As(err, &re) {
		switch re.Code {
		case ErrCodeWrongEntityType, ErrCodeUnknownStore, ErrCodeKeyArity:
			return true
		}
	}
	return false
}

func (r *Repository) errorf(code ErrorCode, op, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Op:      op,
		Entity:  r.desc.Name,
		Message: fmt.Sprintf(format, args...),
	}
}
