package model

import (
	"fmt"

	"github.com/roach88/recordset/internal/ir"
)

// Model is one entity instance: a baseline row plus a dirty overlay.
//
// Slots are indexed by column position in the descriptor. A nil baseline
// slot means the column was never set or loaded; a nil dirty slot means the
// column is clean.
type Model struct {
	desc     *Descriptor
	baseline []ir.IRValue
	dirty    []ir.IRValue
	deleted   bool
	readOnly  bool
	persisted bool
}

// New returns an empty instance of desc's entity type.
func New(desc *Descriptor) *Model {
	return &Model{
		desc:     desc,
		baseline: make([]ir.IRValue, len(desc.Columns)),
		dirty:    make([]ir.IRValue, len(desc.Columns)),
	}
}

// Descriptor returns the entity type.
func (m *Model) Descriptor() *Descriptor {
	return m.desc
}

// Get returns the current value of column: overlay first, baseline second.
// Unset columns read as NULL.
func (m *Model) Get(column string) (ir.IRValue, error) {
	i, ok := m.desc.index[column]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownColumn, m.desc.Name, column)
	}
	return m.at(i), nil
}

// Lookup is Get for evaluators: ok is false when the column is unknown or
// has never been set, so a predicate over it cannot be decided locally.
func (m *Model) Lookup(column string) (ir.IRValue, bool) {
	i, ok := m.desc.index[column]
	if !ok {
		return nil, false
	}
	if m.dirty[i] == nil && m.baseline[i] == nil {
		return nil, false
	}
	return m.at(i), true
}

// ColumnType returns the declared type of column.
func (m *Model) ColumnType(column string) (ColumnType, bool) {
	c, ok := m.desc.Column(column)
	return c.Type, ok
}

func (m *Model) at(i int) ir.IRValue {
	if m.dirty[i] != nil {
		return m.dirty[i]
	}
	if m.baseline[i] != nil {
		return m.baseline[i]
	}
	return ir.IRNull{}
}

// Set writes a column value.
//
// On a new instance, a column without a baseline value takes the value as
// its baseline. Otherwise a value different from the baseline goes to the
// dirty overlay, and a value equal to it clears the overlay entry. Columns of
// a persisted instance that were not loaded always go to the overlay.
func (m *Model) Set(column string, value any) error {
	if m.readOnly {
		return fmt.Errorf("%w: %s.%s", ErrReadOnly, m.desc.Name, column)
	}
	if m.deleted {
		return fmt.Errorf("%w: %s.%s", ErrDeleteFlagged, m.desc.Name, column)
	}
	i, ok := m.desc.index[column]
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrUnknownColumn, m.desc.Name, column)
	}
	if m.desc.protected[column] {
		return fmt.Errorf("%w: %s.%s", ErrProtectedColumn, m.desc.Name, column)
	}

	v, err := m.coerce(i, value)
	if err != nil {
		return err
	}

	switch {
	case m.baseline[i] == nil && !m.persisted:
		m.baseline[i] = v
	case m.baseline[i] == nil:
		m.dirty[i] = v
	case ir.Equal(m.baseline[i], v):
		m.dirty[i] = nil
	default:
		m.dirty[i] = v
	}
	return nil
}

// Hydrate loads a column value from the backing store into the baseline,
// bypassing protection and clearing any overlay for that column.
func (m *Model) Hydrate(column string, value any) error {
	i, ok := m.desc.index[column]
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrUnknownColumn, m.desc.Name, column)
	}
	v, err := m.coerce(i, value)
	if err != nil {
		return err
	}
	m.baseline[i] = v
	m.dirty[i] = nil
	return nil
}

func (m *Model) coerce(i int, value any) (ir.IRValue, error) {
	col := m.desc.Columns[i]
	v, err := ir.FromGo(value)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", m.desc.Name, col.Name, err)
	}
	v, err = col.Type.Coerce(v)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", m.desc.Name, col.Name, err)
	}
	return v, nil
}

// IsDirty reports whether any column has an overlay value.
func (m *Model) IsDirty() bool {
	for _, v := range m.dirty {
		if v != nil {
			return true
		}
	}
	return false
}

// DirtyColumns returns the overlay columns in declaration order.
func (m *Model) DirtyColumns() []string {
	var cols []string
	for i, v := range m.dirty {
		if v != nil {
			cols = append(cols, m.desc.Columns[i].Name)
		}
	}
	return cols
}

// DirtyValues returns the overlay values, aligned with DirtyColumns.
func (m *Model) DirtyValues() []ir.IRValue {
	var vals []ir.IRValue
	for _, v := range m.dirty {
		if v != nil {
			vals = append(vals, v)
		}
	}
	return vals
}

// PrimaryKey returns the baseline primary key values. The baseline identifies
// the stored row even when a key column has a pending change.
func (m *Model) PrimaryKey() []ir.IRValue {
	vals := make([]ir.IRValue, len(m.desc.PrimaryKey))
	for j, col := range m.desc.PrimaryKey {
		i := m.desc.index[col]
		if m.baseline[i] != nil {
			vals[j] = m.baseline[i]
		} else {
			vals[j] = ir.IRNull{}
		}
	}
	return vals
}

// HasKey reports whether every primary key column has a value.
func (m *Model) HasKey() bool {
	for _, v := range m.PrimaryKey() {
		if ir.IsNull(v) {
			return false
		}
	}
	return true
}

// Key returns the record key: the primary key values joined with the
// descriptor's separator.
func (m *Model) Key() string {
	return m.desc.JoinKey(m.PrimaryKey())
}

// InsertValues returns current values for the unprotected columns, in
// declaration order. Unset columns are NULL.
func (m *Model) InsertValues() []ir.IRValue {
	var vals []ir.IRValue
	for i, c := range m.desc.Columns {
		if !m.desc.protected[c.Name] {
			vals = append(vals, m.at(i))
		}
	}
	return vals
}

// Delete flags the instance for a soft delete on the next flush.
func (m *Model) Delete() error {
	if m.readOnly {
		return fmt.Errorf("%w: %s", ErrReadOnly, m.desc.Name)
	}
	m.deleted = true
	return nil
}

// IsDeleteFlagged reports whether Delete was called.
func (m *Model) IsDeleteFlagged() bool {
	return m.deleted
}

// SetReadOnly makes the instance immutable.
func (m *Model) SetReadOnly() {
	m.readOnly = true
}

// MarkPersisted records that the instance was loaded from the backing store.
func (m *Model) MarkPersisted() {
	m.persisted = true
}

// IsPersisted reports whether the instance was loaded from the backing store.
func (m *Model) IsPersisted() bool {
	return m.persisted
}

// IsReadOnly reports whether the instance rejects writes.
func (m *Model) IsReadOnly() bool {
	return m.readOnly
}

// ToObject returns the current value of every column that has one.
func (m *Model) ToObject() ir.IRObject {
	obj := make(ir.IRObject, len(m.desc.Columns))
	for i, c := range m.desc.Columns {
		if m.dirty[i] != nil || m.baseline[i] != nil {
			obj[c.Name] = m.at(i)
		}
	}
	return obj
}

// MarshalJSON renders current values as canonical JSON.
func (m *Model) MarshalJSON() ([]byte, error) {
	return ir.MarshalCanonical(m.ToObject())
}

// String implements fmt.Stringer for log output.
func (m *Model) String() string {
	return fmt.Sprintf("%s(%s)", m.desc.Name, m.Key())
}
