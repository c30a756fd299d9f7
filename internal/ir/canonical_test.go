package ir

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonicalBasic(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"string", IRString("hello"), `"hello"`},
		{"empty string", IRString(""), `""`},
		{"int", IRInt(42), "42"},
		{"negative int", IRInt(-100), "-100"},
		{"max int64", IRInt(math.MaxInt64), "9223372036854775807"},
		{"float", IRFloat(0.25), "0.25"},
		{"null", IRNull{}, "null"},
		{"nil", nil, "null"},
		{"bool true", IRBool(true), "true"},
		{"empty array", IRArray{}, "[]"},
		{"empty object", IRObject{}, "{}"},
		{"plain go map", map[string]any{"b": 2, "a": "x"}, `{"a":"x","b":2}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalSortedKeys(t *testing.T) {
	obj := IRObject{
		"zebra": IRInt(1),
		"alpha": IRNull{},
		"beta":  IRObject{"y": IRInt(1), "x": IRInt(2)},
	}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":null,"beta":{"x":2,"y":1},"zebra":1}`, string(result))
}

func TestSortedKeysUTF16Order(t *testing.T) {
	obj := IRObject{"a": IRInt(1), "A": IRInt(2), "aa": IRInt(3), "AA": IRInt(4)}
	assert.Equal(t, []string{"A", "AA", "a", "aa"}, obj.SortedKeys())
}

func TestMarshalCanonicalNoHTMLEscape(t *testing.T) {
	result, err := MarshalCanonical(IRString("<a&b>"))
	require.NoError(t, err)
	assert.Equal(t, `"<a&b>"`, string(result))
}

func TestMarshalCanonicalNFC(t *testing.T) {
	// "e" + combining acute accent normalizes to a single code point
	result, err := MarshalCanonical(IRString("e\u0301"))
	require.NoError(t, err)
	assert.Equal(t, "\"\u00e9\"", string(result))
}

func TestMarshalCanonicalLineSeparators(t *testing.T) {
	result, err := MarshalCanonical(IRString("a\u2028b"))
	require.NoError(t, err)
	assert.Equal(t, "\"a\u2028b\"", string(result))

	result, err = MarshalCanonical(IRString(`a\u2028b`))
	require.NoError(t, err)
	assert.Equal(t, `"a\\u2028b"`, string(result))
}

func TestMarshalCanonicalRejectsNonFinite(t *testing.T) {
	_, err := MarshalCanonical(IRFloat(math.Inf(1)))
	assert.Error(t, err)
}

func TestIRObjectMarshalJSON(t *testing.T) {
	b, err := json.Marshal(IRObject{"b": IRInt(1), "a": IRBool(false)})
	require.NoError(t, err)
	assert.Equal(t, `{"a":false,"b":1}`, string(b))
}
