package autoroam_test

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var (
	autoroamPath string

	// tmpDir is a function used to create a tempdir
	// -test.keepdir flag says test to use os.MkdirTemp
	// default is t.TempDir, which will be cleaned up
	tmpDir func(t *testing.T) string
)

func TestMain(m *testing.M) {
	var keepTestDir bool
	flag.BoolVar(&keepTestDir, "test.keepdir", false, "use os.TempDir instead of t.TempDir to keep test artifacts")
	flag.Parse()

	if testing.Short() {
		slog.Warn("integration tests with -short are ignored")
		os.Exit(0)
	}

	if !keepTestDir {
		tmpDir = func(t *testing.T) string {
			t.Helper()
			return t.TempDir()
		}
	} else {
		tmpDir = func(t *testing.T) string {
			t.Helper()
			dir, err := os.MkdirTemp("", t.Name()+"*")
			require.NoError(t, err)
			_, err = fmt.Fprintf(t.Output(), "TEMPDIR %s: -test.keepdir used, so it won't be automatically deleted", dir)
			require.NoError(t, err)
			return dir
		}
	}

	if !isExecutable("autoroam-ci") {
		slog.Error("cannot locate autoroam-ci binary: run go build -race -cover -covermode=atomic -o autoroam-ci ./cmd/autoroam/ first")
		os.Exit(1)
	}

	var err error
	autoroamPath, err = filepath.Abs("autoroam-ci")
	if err != nil {
		slog.Error("can't get abspath for autoroam-ci", "error", err)
		os.Exit(1)
	}
	coverDir, err := filepath.Abs("coverage")
	if err != nil {
		slog.Error("can't get value for GOCOVERDIR for autoroam-ci", "error", err)
		os.Exit(1)
	}
	err = rmRfMkdirp(coverDir)
	if err != nil {
		slog.Error("can't reset GOCOVERDIR for autoroam-ci", "error", err, "coverdir", coverDir)
		os.Exit(1)
	}

	err = os.Setenv("GOCOVERDIR", coverDir)
	if err != nil {
		slog.Error("can't set GOCOVERDIR env variable", "error", err)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

const roamScript = `#!/bin/sh
echo "checking $2"
sleep 0.3
echo "roaming above $4 dBm"
printf '{"roams":2,"iface":"%s"}' "$2" > "$DATA/cycle_summary.json"
`

func TestAutoroam(t *testing.T) {
	dir := tmpDir(t)
	addr := freeAddr(t)

	creat(t, filepath.Join(dir, "roam.sh"), []byte(roamScript))
	serverConfig := fmt.Sprintf(`
version: 0
service:
    mode: manual
server:
    listen: "%[1]s"
    data_dir: %[2]s/data
    command:
        path: sh
        args: ["%[2]s/roam.sh"]
        env:
            DATA: %[2]s/data
        timeout_seconds: 30
`, addr, dir)
	creat(t, filepath.Join(dir, "server.yaml"), []byte(serverConfig))

	clientConfig := fmt.Sprintf(`
version: 0
endpoint:
    url: http://%[1]s
watch:
    max_wait_seconds: 20
    poll_interval_seconds: 1
    log_interval_seconds: 0.2
service:
    mode: manual
    verbose: true
`, addr)
	creat(t, filepath.Join(dir, "client.yaml"), []byte(clientConfig))

	ctx, cancel := context.WithTimeout(t.Context(), 60*time.Second)
	t.Cleanup(cancel)

	var serveStderr bytes.Buffer
	serve := exec.CommandContext(ctx, autoroamPath, "serve", "--config", filepath.Join(dir, "server.yaml"))
	serve.Stderr = &serveStderr
	require.NoError(t, serve.Start())
	t.Cleanup(func() {
		_ = serve.Process.Signal(os.Interrupt)
		_ = serve.Wait()
		t.Logf("serve: %s", serveStderr.String())
	})
	waitHealthy(t, addr)

	var stdout, stderr bytes.Buffer
	run := exec.CommandContext(ctx, autoroamPath, "run", "--config", filepath.Join(dir, "client.yaml"), "--iface", "wlp3s0")
	run.Stdout = &stdout
	run.Stderr = &stderr
	err := run.Run()
	if err != nil {
		t.Logf("%s", stderr.String())
		require.NoError(t, err)
	}

	// store the $TEST_NAME json
	creat(t, filepath.Join(dir, t.Name()+".json"), stdout.Bytes())

	var result struct {
		Status     string `json:"status"`
		Parameters struct {
			Iface string `json:"iface"`
			RSSI  int    `json:"rssi"`
		} `json:"parameters"`
		Summary struct {
			Data json.RawMessage `json:"data"`
		} `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &result))
	require.Equal(t, "success", result.Status)
	require.Equal(t, "wlp3s0", result.Parameters.Iface)
	require.Equal(t, -75, result.Parameters.RSSI)
	require.JSONEq(t, `{"roams":2,"iface":"wlp3s0"}`, string(result.Summary.Data))

	require.Contains(t, stderr.String(), "checking wlp3s0\n")
	require.Contains(t, stderr.String(), "roaming above -75 dBm\n")
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func waitHealthy(t *testing.T, addr string) {
	t.Helper()
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/healthz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 10*time.Second, 50*time.Millisecond)
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().Perm()&0111 != 0
}

func rmRfMkdirp(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return nil
}

func creat(t *testing.T, path string, content []byte) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, f.Close())
	}()
	_, err = f.Write(content)
	require.NoError(t, err)
	err = f.Sync()
	require.NoError(t, err)
}
