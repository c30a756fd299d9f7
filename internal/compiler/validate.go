package compiler

import (
	"fmt"
	"regexp"
	"slices"

	"github.com/roach88/recordset/internal/model"
)

// Validation error codes (E100-E199)
const (
	ErrInvalidIdentifier = "E101" // table or column name is not a plain identifier
	ErrDuplicateTable    = "E102" // two entities map to the same table
	ErrReservedColumn    = "E103" // reserved timestamp column declared with another type
	ErrUselessSeparator  = "E104" // key separator on a single-column key
	ErrKeyType           = "E105" // primary key column of a type that makes poor keys
)

// identifier matches names that are safe to splice into SQL text.
var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidationError represents a schema validation error.
type ValidationError struct {
	Entity  string `json:"entity"`
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s.%s: %s", e.Code, e.Entity, e.Field, e.Message)
}

// Validate checks compiled descriptors against the rules a single
// descriptor cannot check on its own. Table and column names end up in SQL
// text verbatim, so they must be plain identifiers.
// Returns all errors found (does not fail-fast).
func Validate(descs []*model.Descriptor) []ValidationError {
	var errs []ValidationError
	tables := make(map[string]string)

	for _, d := range descs {
		if !identifier.MatchString(d.Table) {
			errs = append(errs, ValidationError{
				Entity:  d.Name,
				Field:   "table",
				Message: fmt.Sprintf("%q is not a valid identifier", d.Table),
				Code:    ErrInvalidIdentifier,
			})
		}
		if other, dup := tables[d.Table]; dup {
			errs = append(errs, ValidationError{
				Entity:  d.Name,
				Field:   "table",
				Message: fmt.Sprintf("table %q is already used by %s", d.Table, other),
				Code:    ErrDuplicateTable,
			})
		} else {
			tables[d.Table] = d.Name
		}

		for _, c := range d.Columns {
			if !identifier.MatchString(c.Name) {
				errs = append(errs, ValidationError{
					Entity:  d.Name,
					Field:   "columns." + c.Name,
					Message: fmt.Sprintf("%q is not a valid identifier", c.Name),
					Code:    ErrInvalidIdentifier,
				})
			}
			if slices.Contains(model.Timestamps, c.Name) && c.Type != model.TypeTimestamp {
				errs = append(errs, ValidationError{
					Entity:  d.Name,
					Field:   "columns." + c.Name,
					Message: fmt.Sprintf("reserved column must be a timestamp, got %s", c.Type),
					Code:    ErrReservedColumn,
				})
			}
		}

		if d.KeySeparator != "" && !d.CompositeKey() {
			errs = append(errs, ValidationError{
				Entity:  d.Name,
				Field:   "key_separator",
				Message: "key separator has no effect on a single-column primary key",
				Code:    ErrUselessSeparator,
			})
		}
		for _, k := range d.PrimaryKey {
			if c, _ := d.Column(k); c.Type == model.TypeFloat || c.Type == model.TypeBool {
				errs = append(errs, ValidationError{
					Entity:  d.Name,
					Field:   "primary_key",
					Message: fmt.Sprintf("column %s of type %s cannot be a key column", k, c.Type),
					Code:    ErrKeyType,
				})
			}
		}
	}
	return errs
}
