package main

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/CZERTAINLY/autoroam/internal/model"
	"github.com/CZERTAINLY/autoroam/internal/roam"
)

func TestStoreAndLoadDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autoroam", "autoroam.yaml")
	stored, err := storeDefaultConfig(path)
	require.NoError(t, err)
	require.True(t, exists(path))

	loaded, err := loadConfig(path)
	require.NoError(t, err)
	require.Equal(t, stored, loaded)

	_, err = loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestRunParameters(t *testing.T) {
	cfg := model.DefaultConfig()
	require.Equal(t, roam.Parameters{Iface: "wlan0", RSSI: -75}, runParameters(cfg))

	t.Setenv("AUTOROAM_IFACE", "wlp3s0")
	t.Setenv("AUTOROAM_RSSI", "-60")
	overrides.SetEnvPrefix("AUTOROAM")
	require.NoError(t, overrides.BindEnv("iface"))
	require.NoError(t, overrides.BindEnv("rssi"))
	require.Equal(t, roam.Parameters{Iface: "wlp3s0", RSSI: -60}, runParameters(cfg))

	cfg.Run = nil
	overrides.Set("iface", "wlan9")
	require.Equal(t, roam.Parameters{Iface: "wlan9", RSSI: -60}, runParameters(cfg))
}

func TestCoordinatorConfig(t *testing.T) {
	t.Parallel()
	got := coordinatorConfig(model.DefaultConfig())
	require.Equal(t, 120*time.Second, got.Watch.MaxWait)
	require.Equal(t, 3*time.Second, got.Watch.PollInterval)
	require.Equal(t, time.Second, got.LogInterval)

	require.Zero(t, coordinatorConfig(&model.Config{}))
}

func TestServerConfig(t *testing.T) {
	t.Setenv("ROAM_HOME", "/opt/roam")
	got := serverConfig(model.Server{
		Listen:  ":9000",
		DataDir: "/var/lib/autoroam",
		Command: model.Command{
			Path:           "python3",
			Args:           []string{"-u", "main.py"},
			Env:            map[string]string{"PYTHONUNBUFFERED": "1", "HOME": "$ROAM_HOME"},
			TimeoutSeconds: 60,
		},
	})
	require.Equal(t, ":9000", got.Listen)
	require.Equal(t, []string{"HOME=/opt/roam", "PYTHONUNBUFFERED=1"}, got.Command.Env)
	require.Equal(t, time.Minute, got.Command.Timeout)
}

func TestTerminal(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	term := newTerminal(&buf)
	term.NotifyLogAppend(t.Context(), "scan\n")
	term.NotifyLogAppend(t.Context(), "roam 1\n")
	term.NotifyTerminal(t.Context(), roam.Result{Status: roam.StatusTimeout, Message: roam.MsgTimeout})
	require.Equal(t, "scan\nroam 1\n", buf.String())
}
