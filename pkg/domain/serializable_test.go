package domain_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/stretchr/testify/assert"
)

func TestCheckSerializable(t *testing.T) {
	tests := []struct {
		name  string
		value any
		ok    bool
	}{
		{"nil", nil, true},
		{"string", "a", true},
		{"int", 42, true},
		{"float", 1.5, true},
		{"json number", json.Number("7"), true},
		{"time", time.Now(), true},
		{"nested", map[string]any{"a": []any{1, "b", map[string]any{"c": true}}}, true},
		{"typed slice", []string{"a"}, true},
		{"func", func() {}, false},
		{"channel", make(chan int), false},
		{"pointer", new(int), false},
		{"struct", struct{ A int }{1}, false},
		{"int keyed map", map[int]string{1: "a"}, false},
		{"nested func", map[string]any{"a": []any{func() {}}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := domain.CheckSerializable("v", tt.value)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestCheckScope_ReportsPath(t *testing.T) {
	err := domain.CheckScope("frame.", map[string]any{
		"ok":  "fine",
		"bad": map[string]any{"list": []any{1, make(chan int)}},
	})

	var nse *domain.NotSerializableError
	assert.ErrorAs(t, err, &nse)
	assert.Equal(t, "frame.bad.list[1]", nse.Path)
}
