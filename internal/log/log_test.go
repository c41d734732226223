package log_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/CZERTAINLY/autoroam/internal/log"
	"github.com/stretchr/testify/require"
)

func TestContextAttrs(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := log.New(&buf, true).With("component", "test")

	parent := log.ContextAttrs(context.Background(), slog.String("cmd", "run"))
	child := log.ContextAttrs(parent, slog.String("run", "abc"))

	logger.DebugContext(child, "child")
	logger.InfoContext(parent, "parent")

	dec := json.NewDecoder(&buf)
	var first, second map[string]any
	require.NoError(t, dec.Decode(&first))
	require.NoError(t, dec.Decode(&second))

	require.Equal(t, "child", first["msg"])
	require.Equal(t, "run", first["cmd"])
	require.Equal(t, "abc", first["run"])
	require.Equal(t, "test", first["component"])

	require.Equal(t, "parent", second["msg"])
	require.Equal(t, "run", second["cmd"])
	require.NotContains(t, second, "run")
}

func TestNewLevel(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := log.New(&buf, false)
	logger.Debug("hidden")
	require.Zero(t, buf.Len())
	logger.Info("shown")
	require.Contains(t, buf.String(), `"msg":"shown"`)
}
