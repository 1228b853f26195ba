package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Levels(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Level: "warn", Output: &buf})

	log.Info("hidden")
	log.Warn("shown", "type", "task")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "type=task")
	assert.Contains(t, out, "entity:")
}

func TestNew_UnknownLevelIsInfo(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Level: "loud", Output: &buf})
	assert.True(t, log.IsInfo())
	assert.False(t, log.IsDebug())
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Name: "test", Level: "debug", JSON: true, Output: &buf})
	log.Debug("loaded", "id", 7)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "loaded", line["@message"])
	assert.Equal(t, "test", line["@module"])
	assert.Equal(t, float64(7), line["id"])
}
