package bootstrap

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-rubric/internal/application"
)

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(application.LogConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info("dropped")
	logger.Warn("kept", "submission_id", "sub-1")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "kept", line["msg"])
	assert.Equal(t, "sub-1", line["submission_id"])

	buf.Reset()
	NewLogger(application.LogConfig{Level: "bogus", Format: "text"}, &buf).Info("hello")
	assert.Contains(t, buf.String(), "msg=hello")
}

func TestBuild_InMemory(t *testing.T) {
	cfg := application.DefaultConfig()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	rt, err := Build(context.Background(), &cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })

	require.NotNil(t, rt.Service)
	require.NoError(t, rt.Health(context.Background()))
	assert.False(t, rt.Service.HasGradingRubric(context.Background(), "actor-1"))

	n, err := testutil.GatherAndCount(rt.Registry, "rubric_system_state")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
