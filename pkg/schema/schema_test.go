package schema_test

import (
	"testing"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseType(t *testing.T) {
	tests := []struct {
		in   string
		name string
	}{
		{"", "string"},
		{"text", "string"},
		{"Boolean", "bool"},
		{"integer", "int"},
		{"number", "float"},
		{"json", "json"},
		{"object", "object"},
		{"list", "[json]"},
		{"[int]", "[int]"},
		{"[[string]]", "[[string]]"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			typ, err := schema.ParseType(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.name, typ.Name())
		})
	}

	_, err := schema.ParseType("date")
	assert.ErrorContains(t, err, "unsupported type")
	_, err = schema.ParseType("[date]")
	assert.Error(t, err)
}

func TestTypes(t *testing.T) {
	tests := []struct {
		name  string
		typ   schema.Type
		ok    []any
		wrong []any
	}{
		{"String", schema.String(), []any{"", "x"}, []any{1, nil}},
		{"Int", schema.Int(), []any{1, int64(2), float64(3)}, []any{1.5, "1"}},
		{"Float", schema.Float(), []any{1, 1.5}, []any{"1.5", true}},
		{"Bool", schema.Bool(), []any{true}, []any{"true", 1}},
		{"Object", schema.Object(), []any{map[string]any{}}, []any{[]any{}, map[int]any{}}},
		{"Slice", schema.Slice(schema.Int()), []any{[]any{1, 2}, []int{}}, []any{[]any{"a"}, "a"}},
		{"Any", schema.Any(), []any{nil, 1, "x"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, v := range tt.ok {
				assert.NoError(t, tt.typ.Validate(v), "%#v", v)
			}
			for _, v := range tt.wrong {
				assert.Error(t, tt.typ.Validate(v), "%#v", v)
			}
		})
	}
}

func TestApply(t *testing.T) {
	s, err := schema.FromFields([]domain.FormField{
		{Name: "ok", Type: "bool"},
		{Name: "amount", Type: "int"},
		{Name: "note", Default: "none"},
	})
	require.NoError(t, err)
	assert.True(t, s["ok"].Required())
	assert.False(t, s["note"].Required())

	out, err := s.Apply(map[string]any{"ok": true, "amount": float64(3), "extra": 1})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ok": true, "amount": float64(3), "note": "none", "extra": 1}, out)

	_, err = s.Apply(map[string]any{"ok": "yes"})
	require.Error(t, err)
	errs := schema.ValidationErrors(err)
	require.Len(t, errs, 2)
	assert.Equal(t, "amount", errs[0].Key)
	assert.Equal(t, "required", errs[0].Reason)
	assert.Equal(t, "ok", errs[1].Key)
	assert.Contains(t, err.Error(), "2 validation errors")

	_, err = s.Apply(nil)
	assert.Len(t, schema.ValidationErrors(err), 2)

	_, err = s.Apply("yes")
	assert.ErrorContains(t, err, "must be an object")
}

func TestFromFields_Errors(t *testing.T) {
	_, err := schema.FromFields([]domain.FormField{{Type: "bool"}})
	assert.ErrorContains(t, err, "without a name")

	_, err = schema.FromFields([]domain.FormField{{Name: "when", Type: "date"}})
	assert.ErrorContains(t, err, "when")

	_, err = schema.FromFields([]domain.FormField{{Name: "n", Type: "int", Default: "ten"}})
	assert.ErrorContains(t, err, "default")
}
