package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesConsoleAndFile(t *testing.T) {
	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "agent.log")

	log, closeFn := New(Options{Level: "debug", File: path, Console: &console})
	log.Debug().Str("comp", "test").Msg("hello")
	require.NoError(t, closeFn())

	assert.Contains(t, console.String(), "hello")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &line))
	assert.Equal(t, "hello", line["message"])
	assert.Equal(t, "test", line["comp"])
}

func TestNewFallsBackToInfo(t *testing.T) {
	var console bytes.Buffer
	log, _ := New(Options{Level: "chatty", Console: &console})
	assert.Equal(t, zerolog.InfoLevel, log.GetLevel())
	log.Debug().Msg("hidden")
	assert.Empty(t, console.String())
}
