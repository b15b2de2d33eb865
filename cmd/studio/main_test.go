package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunRejectsBadConfig(t *testing.T) {
	t.Setenv("STUDIO_BUILDER_URL", "builder.local")

	err := run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

func TestRunRejectsBadLogLevel(t *testing.T) {
	t.Setenv("STUDIO_LOG_LEVEL", "loud")

	err := run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "build logger")
}

func TestRunStopsWithContext(t *testing.T) {
	t.Setenv("STUDIO_LISTEN_ADDR", "127.0.0.1:0")
	t.Setenv("STUDIO_LOG_LEVEL", "error")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.NoError(t, run(ctx))
}
