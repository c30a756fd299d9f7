package compiler

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/recordset/internal/model"
)

// Compile reads every entity under the top-level "entity" struct of v.
// Entities are returned in declaration order.
//
//	entity: User: {
//	  table:       "users"
//	  primary_key: ["id"]
//	  columns: {
//	    id:    int
//	    email: string
//	    seen:  "timestamp"
//	  }
//	}
func Compile(v cue.Value) ([]*model.Descriptor, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	entities := v.LookupPath(cue.ParsePath("entity"))
	if !entities.Exists() {
		return nil, &CompileError{Field: "entity", Message: "no entities defined", Pos: v.Pos()}
	}
	iter, err := entities.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var descs []*model.Descriptor
	for iter.Next() {
		desc, err := CompileEntity(iter.Value())
		if err != nil {
			return nil, err
		}
		descs = append(descs, desc)
	}
	return descs, nil
}

// CompileString compiles CUE source text. filename is used in error
// positions only.
func CompileString(filename, src string) ([]*model.Descriptor, error) {
	v := cuecontext.New().CompileString(src, cue.Filename(filename))
	return Compile(v)
}

// CompileEntity parses one entity struct into a descriptor. The entity name
// is the struct's label.
func CompileEntity(v cue.Value) (*model.Descriptor, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	d := model.Descriptor{}
	if sels := v.Path().Selectors(); len(sels) > 0 {
		d.Name = sels[len(sels)-1].String()
	}

	table, err := requiredString(v, "table")
	if err != nil {
		return nil, err
	}
	d.Table = table

	if d.PrimaryKey, err = stringList(v, "primary_key"); err != nil {
		return nil, err
	}
	if len(d.PrimaryKey) == 0 {
		return nil, &CompileError{Field: "primary_key", Message: "at least one primary key column is required", Pos: v.Pos()}
	}
	if d.Protected, err = stringList(v, "protected"); err != nil {
		return nil, err
	}

	if sep := v.LookupPath(cue.ParsePath("key_separator")); sep.Exists() {
		if d.KeySeparator, err = sep.String(); err != nil {
			return nil, formatCUEError(err)
		}
	}

	if d.Columns, err = parseColumns(v); err != nil {
		return nil, err
	}

	desc, err := model.NewDescriptor(d)
	if err != nil {
		return nil, &CompileError{Field: "entity." + d.Name, Message: err.Error(), Pos: v.Pos()}
	}
	return desc, nil
}

// parseColumns keeps the declaration order of the columns struct.
func parseColumns(v cue.Value) ([]model.Column, error) {
	colsVal := v.LookupPath(cue.ParsePath("columns"))
	if !colsVal.Exists() {
		return nil, &CompileError{Field: "columns", Message: "columns are required", Pos: v.Pos()}
	}
	iter, err := colsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var cols []model.Column
	for iter.Next() {
		typ, err := extractColumnType(iter.Value())
		if err != nil {
			return nil, err
		}
		cols = append(cols, model.Column{Name: iter.Label(), Type: typ})
	}
	if len(cols) == 0 {
		return nil, &CompileError{Field: "columns", Message: "at least one column is required", Pos: colsVal.Pos()}
	}
	return cols, nil
}

// extractColumnType accepts a CUE type (int, float, number, string, bool)
// or a type name given as a string, which is the only way to declare a
// timestamp column.
func extractColumnType(v cue.Value) (model.ColumnType, error) {
	if v.IsConcrete() {
		name, err := v.String()
		if err != nil {
			return "", &CompileError{Field: "type", Message: fmt.Sprintf("column type must be a type or type name, got %v", v), Pos: v.Pos()}
		}
		t, err := model.ParseColumnType(name)
		if err != nil {
			return "", &CompileError{Field: "type", Message: err.Error(), Pos: v.Pos()}
		}
		return t, nil
	}

	switch v.IncompleteKind() {
	case cue.StringKind:
		return model.TypeString, nil
	case cue.IntKind:
		return model.TypeInt, nil
	case cue.FloatKind, cue.NumberKind:
		return model.TypeFloat, nil
	case cue.BoolKind:
		return model.TypeBool, nil
	default:
		return "", &CompileError{
			Field:   "type",
			Message: fmt.Sprintf("unsupported type kind: %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}
}

func requiredString(v cue.Value, field string) (string, error) {
	f := v.LookupPath(cue.ParsePath(field))
	if !f.Exists() {
		return "", &CompileError{Field: field, Message: field + " is required", Pos: v.Pos()}
	}
	s, err := f.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	if s == "" {
		return "", &CompileError{Field: field, Message: field + " must be non-empty", Pos: f.Pos()}
	}
	return s, nil
}

func stringList(v cue.Value, field string) ([]string, error) {
	f := v.LookupPath(cue.ParsePath(field))
	if !f.Exists() {
		return nil, nil
	}
	iter, err := f.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out = append(out, s)
	}
	return out, nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
