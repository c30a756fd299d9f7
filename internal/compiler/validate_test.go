package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recordset/internal/model"
)

func desc(t *testing.T, d model.Descriptor) *model.Descriptor {
	t.Helper()
	out, err := model.NewDescriptor(d)
	require.NoError(t, err)
	return out
}

func TestValidate_Clean(t *testing.T) {
	descs, err := CompileString("schema.cue", schemaSrc)
	require.NoError(t, err)
	assert.Empty(t, Validate(descs))
}

func TestValidate(t *testing.T) {
	intID := []model.Column{{Name: "id", Type: model.TypeInt}}

	tests := []struct {
		name      string
		descs     []model.Descriptor
		wantCodes []string
	}{
		{
			name: "table is not an identifier",
			descs: []model.Descriptor{
				{Name: "X", Table: "x; DROP TABLE y", Columns: intID, PrimaryKey: []string{"id"}},
			},
			wantCodes: []string{ErrInvalidIdentifier},
		},
		{
			name: "column is not an identifier",
			descs: []model.Descriptor{
				{Name: "X", Table: "x", Columns: append(intID, model.Column{Name: "first name", Type: model.TypeString}), PrimaryKey: []string{"id"}},
			},
			wantCodes: []string{ErrInvalidIdentifier},
		},
		{
			name: "duplicate table",
			descs: []model.Descriptor{
				{Name: "A", Table: "t", Columns: intID, PrimaryKey: []string{"id"}},
				{Name: "B", Table: "t", Columns: intID, PrimaryKey: []string{"id"}},
			},
			wantCodes: []string{ErrDuplicateTable},
		},
		{
			name: "reserved column retyped",
			descs: []model.Descriptor{
				{Name: "X", Table: "x", Columns: append(intID, model.Column{Name: model.CreatedOn, Type: model.TypeInt}), PrimaryKey: []string{"id"}},
			},
			wantCodes: []string{ErrReservedColumn},
		},
		{
			name: "separator on single key",
			descs: []model.Descriptor{
				{Name: "X", Table: "x", Columns: intID, PrimaryKey: []string{"id"}, KeySeparator: "-"},
			},
			wantCodes: []string{ErrUselessSeparator},
		},
		{
			name: "float key",
			descs: []model.Descriptor{
				{Name: "X", Table: "x", Columns: []model.Column{{Name: "id", Type: model.TypeFloat}}, PrimaryKey: []string{"id"}},
			},
			wantCodes: []string{ErrKeyType},
		},
		{
			name: "collects every error",
			descs: []model.Descriptor{
				{Name: "A", Table: "bad-name", Columns: []model.Column{{Name: "id", Type: model.TypeBool}}, PrimaryKey: []string{"id"}, KeySeparator: ":"},
			},
			wantCodes: []string{ErrInvalidIdentifier, ErrUselessSeparator, ErrKeyType},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var descs []*model.Descriptor
			for _, d := range tt.descs {
				descs = append(descs, desc(t, d))
			}
			var codes []string
			for _, e := range Validate(descs) {
				codes = append(codes, e.Code)
			}
			assert.Equal(t, tt.wantCodes, codes)
		})
	}
}

func TestValidationError_Format(t *testing.T) {
	e := ValidationError{Entity: "User", Field: "table", Message: "bad", Code: ErrInvalidIdentifier}
	assert.Equal(t, "[E101] User.table: bad", e.Error())
}
