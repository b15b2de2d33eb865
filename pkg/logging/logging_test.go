package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithWriterJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithWriter(Config{Level: "debug", Format: "json"}, &buf)
	require.NoError(t, err)

	logger.Debug().Str("project_id", "proj-42").Msg("build settled")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "debug", line["level"])
	assert.Equal(t, "proj-42", line["project_id"])
	assert.Equal(t, "build settled", line["message"])
	assert.Contains(t, line, "time")
}

func TestNewWithWriterFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithWriter(Config{Level: "warn", Format: "json"}, &buf)
	require.NoError(t, err)

	logger.Info().Msg("ignored")
	assert.Zero(t, buf.Len())
}

func TestNewWithWriterRejectsBadInput(t *testing.T) {
	_, err := NewWithWriter(Config{Level: "loud"}, &bytes.Buffer{})
	assert.Error(t, err)

	_, err = NewWithWriter(Config{Format: "xml"}, &bytes.Buffer{})
	assert.Error(t, err)
}
