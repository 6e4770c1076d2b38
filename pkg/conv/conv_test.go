package conv

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfigGetters(t *testing.T) {
	m := map[string]any{
		"name":      "mmr",
		"k":         10,
		"lambda":    0.7,
		"cap":       2.0,
		"one":       1,
		"half_life": "720h",
		"timeout":   3,
		"bad":       "soon",
		"ids":       []any{"a", 42, true, nil},
	}

	assert.Equal(t, "mmr", ConfigGet(m, "name", ""))
	assert.Equal(t, "x", ConfigGet(m, "k", "x"), "type mismatch falls back")
	assert.Equal(t, "x", ConfigGet[string](nil, "name", "x"))

	assert.Equal(t, int64(10), ConfigGetInt64(m, "k", 0))
	assert.Equal(t, int64(2), ConfigGetInt64(m, "cap", 0))
	assert.Equal(t, int64(5), ConfigGetInt64(m, "missing", 5))

	assert.Equal(t, 0.7, ConfigGetFloat64(m, "lambda", 0))
	assert.Equal(t, 1.0, ConfigGetFloat64(m, "one", 0))
	assert.Equal(t, 0.5, ConfigGetFloat64(m, "missing", 0.5))
	assert.Equal(t, 0.5, ConfigGetFloat64(m, "name", 0.5))

	assert.Equal(t, 720*time.Hour, ConfigGetDuration(m, "half_life", 0))
	assert.Equal(t, 3*time.Second, ConfigGetDuration(m, "timeout", 0))
	assert.Equal(t, time.Minute, ConfigGetDuration(m, "bad", time.Minute))
	assert.Equal(t, time.Minute, ConfigGetDuration(m, "missing", time.Minute))
	assert.Equal(t, time.Minute, ConfigGetDuration(nil, "timeout", time.Minute))

	assert.Equal(t, []string{"a", "42", "1"}, SliceAnyToString(m["ids"]))
	assert.Nil(t, SliceAnyToString("a"))
}

func TestToFloat64(t *testing.T) {
	tests := []struct {
		in   any
		want float64
		ok   bool
	}{
		{in: 1.5, want: 1.5, ok: true},
		{in: float32(2), want: 2, ok: true},
		{in: 3, want: 3, ok: true},
		{in: int64(4), want: 4, ok: true},
		{in: true, want: 1, ok: true},
		{in: "5", want: 0, ok: false},
		{in: nil, want: 0, ok: false},
	}
	for _, tt := range tests {
		got, ok := ToFloat64(tt.in)
		assert.Equal(t, tt.ok, ok, "%v", tt.in)
		assert.Equal(t, tt.want, got, "%v", tt.in)
	}
}
