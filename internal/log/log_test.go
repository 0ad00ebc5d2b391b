package log

import (
	"bytes"
	"errors"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigure_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	Configure(&buf, "json", "debug")
	t.Cleanup(func() { Configure(nil, "json", "info") })

	Error("geocode failed", errors.New("boom"), "location", "Paris", "attempt", 2, "dangling")

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "error", line["level"])
	assert.Equal(t, "geocode failed", line["message"])
	assert.Equal(t, "boom", line["error"])
	assert.Equal(t, "Paris", line["location"])
	assert.EqualValues(t, 2, line["attempt"])
	assert.NotContains(t, line, "dangling")
}

func TestSetLevel_FiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	Configure(&buf, "json", "info")
	t.Cleanup(func() { Configure(nil, "json", "info") })

	Debug("hidden")
	assert.Empty(t, buf.String())

	SetLevel(LevelDebug)
	Debug("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   LevelDebug,
		"WARNING": LevelWarn,
		" error ": LevelError,
		"":        LevelInfo,
		"verbose": LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}
