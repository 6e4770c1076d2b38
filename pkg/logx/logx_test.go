package logx

import (
	"bytes"
	"testing"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "WARN", Output: &buf})

	l.Info().Msg("dropped")
	assert.Zero(t, buf.Len())

	c := Component(&l, "ranker")
	c.Warn().Str("user_id", "u1").Msg("partial")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "ranker", entry["component"])
	assert.Equal(t, "u1", entry["user_id"])
	assert.Equal(t, "warn", entry["level"])
	assert.Contains(t, entry, "time")
}

func TestOr(t *testing.T) {
	nop := Or(nil)
	assert.Equal(t, zerolog.Disabled, nop.GetLevel())

	l := New(Config{Level: "nonsense"})
	assert.Equal(t, zerolog.InfoLevel, l.GetLevel())
}
