package model

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/roach88/recordset/internal/ir"
)

// Reserved timestamp columns. Every table carries them and callers never
// set them directly.
const (
	CreatedOn = "created_on"
	UpdatedOn = "updated_on"
	DeletedOn = "deleted_on"
)

// Timestamps lists the reserved columns in declaration order.
var Timestamps = []string{CreatedOn, UpdatedOn, DeletedOn}

// ColumnType is the declared type of a column.
type ColumnType string

const (
	TypeInt       ColumnType = "int"
	TypeFloat     ColumnType = "float"
	TypeString    ColumnType = "string"
	TypeBool      ColumnType = "bool"
	TypeTimestamp ColumnType = "timestamp"
)

// ParseColumnType validates a type name.
func ParseColumnType(s string) (ColumnType, error) {
	t := ColumnType(s)
	switch t {
	case TypeInt, TypeFloat, TypeString, TypeBool, TypeTimestamp:
		return t, nil
	}
	return "", fmt.Errorf("unknown column type %q", s)
}

// Numeric reports whether values of this type sort numerically.
func (t ColumnType) Numeric() bool {
	return t == TypeInt || t == TypeFloat || t == TypeBool
}

// Coerce converts v to the column's representation. NULL passes through.
func (t ColumnType) Coerce(v ir.IRValue) (ir.IRValue, error) {
	if ir.IsNull(v) {
		return ir.IRNull{}, nil
	}
	switch t {
	case TypeInt:
		switch val := v.(type) {
		case ir.IRInt:
			return val, nil
		case ir.IRBool:
			if val {
				return ir.IRInt(1), nil
			}
			return ir.IRInt(0), nil
		case ir.IRFloat:
			if float64(val) == float64(int64(val)) {
				return ir.IRInt(int64(val)), nil
			}
		case ir.IRString:
			if n, err := strconv.ParseInt(strings.TrimSpace(string(val)), 10, 64); err == nil {
				return ir.IRInt(n), nil
			}
		}
	case TypeFloat:
		if f, ok := ir.Numeric(v); ok {
			return ir.IRFloat(f), nil
		}
		if s, ok := v.(ir.IRString); ok {
			if f, err := strconv.ParseFloat(strings.TrimSpace(string(s)), 64); err == nil {
				return ir.IRFloat(f), nil
			}
		}
	case TypeBool:
		switch val := v.(type) {
		case ir.IRBool:
			return val, nil
		case ir.IRInt:
			if val == 0 || val == 1 {
				return ir.IRBool(val == 1), nil
			}
		case ir.IRFloat:
			if val == 0 || val == 1 {
				return ir.IRBool(val == 1), nil
			}
		case ir.IRString:
			// Only numeric text converts; the backing store compares
			// "true" as text, which never equals a stored 0 or 1.
			if f, err := strconv.ParseFloat(strings.TrimSpace(string(val)), 64); err == nil && (f == 0 || f == 1) {
				return ir.IRBool(f == 1), nil
			}
		}
	case TypeString, TypeTimestamp:
		switch val := v.(type) {
		case ir.IRString:
			return val, nil
		case ir.IRInt, ir.IRFloat, ir.IRBool:
			return ir.IRString(val.Text()), nil
		}
	}
	return nil, fmt.Errorf("cannot use %T as %s", v, t)
}

// Column is one declared column.
type Column struct {
	Name string     `json:"name"`
	Type ColumnType `json:"type"`
}

// Descriptor is the entity-type level description of a table: the ordered
// column list, the primary key and the protected subset. It is resolved once
// and shared read-only by every instance of the type.
type Descriptor struct {
	Name         string   `json:"name"`
	Table        string   `json:"table"`
	Columns      []Column `json:"columns"`
	PrimaryKey   []string `json:"primary_key"`
	Protected    []string `json:"protected"`
	KeySeparator string   `json:"key_separator,omitempty"`

	index     map[string]int
	protected map[string]bool
}

// NewDescriptor validates d and returns a ready-to-use copy.
//
// The reserved timestamp columns are appended (and protected) when missing.
// Rules:
//   - name, table and at least one primary key column are required
//   - column names are unique
//   - primary key and protected columns are declared columns
//   - primary key and protected sets are disjoint
func NewDescriptor(d Descriptor) (*Descriptor, error) {
	if d.Name == "" {
		return nil, fmt.Errorf("descriptor: name is required")
	}
	if d.Table == "" {
		return nil, fmt.Errorf("descriptor %s: table is required", d.Name)
	}
	if len(d.PrimaryKey) == 0 {
		return nil, fmt.Errorf("descriptor %s: primary key is required", d.Name)
	}

	out := &Descriptor{
		Name:         d.Name,
		Table:        d.Table,
		Columns:      slices.Clone(d.Columns),
		PrimaryKey:   slices.Clone(d.PrimaryKey),
		Protected:    slices.Clone(d.Protected),
		KeySeparator: d.KeySeparator,
		index:        make(map[string]int),
		protected:    make(map[string]bool),
	}

	for _, ts := range Timestamps {
		if !slices.ContainsFunc(out.Columns, func(c Column) bool { return c.Name == ts }) {
			out.Columns = append(out.Columns, Column{Name: ts, Type: TypeTimestamp})
		}
		if !slices.Contains(out.Protected, ts) {
			out.Protected = append(out.Protected, ts)
		}
	}

	for i, c := range out.Columns {
		if c.Name == "" {
			return nil, fmt.Errorf("descriptor %s: column %d has no name", d.Name, i)
		}
		if _, err := ParseColumnType(string(c.Type)); err != nil {
			return nil, fmt.Errorf("descriptor %s: column %s: %w", d.Name, c.Name, err)
		}
		if _, dup := out.index[c.Name]; dup {
			return nil, fmt.Errorf("descriptor %s: duplicate column %s", d.Name, c.Name)
		}
		out.index[c.Name] = i
	}
	for _, p := range out.Protected {
		if _, ok := out.index[p]; !ok {
			return nil, fmt.Errorf("descriptor %s: protected column %s is not declared", d.Name, p)
		}
		out.protected[p] = true
	}
	for _, k := range out.PrimaryKey {
		if _, ok := out.index[k]; !ok {
			return nil, fmt.Errorf("descriptor %s: primary key column %s is not declared", d.Name, k)
		}
		if out.protected[k] {
			return nil, fmt.Errorf("descriptor %s: primary key column %s is protected", d.Name, k)
		}
	}
	return out, nil
}

// MustDescriptor is NewDescriptor for static definitions. It panics on error.
func MustDescriptor(d Descriptor) *Descriptor {
	out, err := NewDescriptor(d)
	if err != nil {
		panic(err)
	}
	return out
}

// Has reports whether column is declared.
func (d *Descriptor) Has(column string) bool {
	_, ok := d.index[column]
	return ok
}

// Column returns the declared column by name.
func (d *Descriptor) Column(name string) (Column, bool) {
	i, ok := d.index[name]
	if !ok {
		return Column{}, false
	}
	return d.Columns[i], true
}

// IsProtected reports whether column is system managed.
func (d *Descriptor) IsProtected(column string) bool {
	return d.protected[column]
}

// ColumnNames returns all column names in declaration order.
func (d *Descriptor) ColumnNames() []string {
	names := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		names[i] = c.Name
	}
	return names
}

// InsertColumns returns the unprotected columns in declaration order.
func (d *Descriptor) InsertColumns() []string {
	var names []string
	for _, c := range d.Columns {
		if !d.protected[c.Name] {
			names = append(names, c.Name)
		}
	}
	return names
}

// CompositeKey reports whether the primary key spans several columns.
func (d *Descriptor) CompositeKey() bool {
	return len(d.PrimaryKey) > 1
}

// JoinKey builds the record key string from primary key values.
func (d *Descriptor) JoinKey(values []ir.IRValue) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = v.Text()
	}
	return strings.Join(parts, d.KeySeparator)
}

// CoerceKey converts caller-supplied key values to the primary key column types.
func (d *Descriptor) CoerceKey(values []any) ([]ir.IRValue, error) {
	if len(values) != len(d.PrimaryKey) {
		return nil, fmt.Errorf("%s: primary key has %d columns, got %d values", d.Name, len(d.PrimaryKey), len(values))
	}
	out := make([]ir.IRValue, len(values))
	for i, raw := range values {
		v, err := ir.FromGo(raw)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", d.Name, d.PrimaryKey[i], err)
		}
		col, _ := d.Column(d.PrimaryKey[i])
		if out[i], err = col.Type.Coerce(v); err != nil {
			return nil, fmt.Errorf("%s.%s: %w", d.Name, d.PrimaryKey[i], err)
		}
	}
	return out, nil
}
