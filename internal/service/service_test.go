package service_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/CZERTAINLY/autoroam/internal/model"
	"github.com/CZERTAINLY/autoroam/internal/roam"
	"github.com/CZERTAINLY/autoroam/internal/service"

	"github.com/stretchr/testify/require"
)

// fakeCoordinator returns status for each accepted run and rejects runs
// while busy is set.
type fakeCoordinator struct {
	status roam.Status
	busy   atomic.Bool
	calls  atomic.Int32

	mx     sync.Mutex
	params []roam.Parameters
}

func (f *fakeCoordinator) Start(ctx context.Context, params roam.Parameters) (roam.Result, bool) {
	f.calls.Add(1)
	if f.busy.Load() {
		return roam.Result{}, false
	}
	f.mx.Lock()
	f.params = append(f.params, params)
	f.mx.Unlock()
	now := time.Now().UTC()
	return roam.Result{
		RunID:      "run-1",
		Parameters: params,
		Status:     f.status,
		Message:    "fake " + string(f.status),
		Started:    now,
		Stopped:    now,
	}, true
}

type syncBuf struct {
	mx  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuf) Write(p []byte) (int, error) {
	b.mx.Lock()
	defer b.mx.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuf) String() string {
	b.mx.Lock()
	defer b.mx.Unlock()
	return b.buf.String()
}

type failingUploader struct{}

func (failingUploader) Upload(context.Context, []byte) error {
	return errors.New("disk full")
}

func TestSupervisor(t *testing.T) {
	t.Parallel()
	params := roam.Parameters{Iface: "wlan0", RSSI: -75}

	t.Run("service", func(t *testing.T) {
		t.Parallel()
		var buf syncBuf
		coord := &fakeCoordinator{status: roam.StatusSuccess}
		supervisor := service.NewSupervisor(coord, params, service.NewWriteUploader(&buf))
		ctx, cancel := context.WithCancel(t.Context())
		t.Cleanup(cancel)

		var g sync.WaitGroup
		g.Go(func() {
			err := supervisor.Do(ctx)
			require.NoError(t, err)
		})

		for i := range 3 {
			supervisor.Start()
			require.Eventually(t, func() bool {
				return strings.Count(buf.String(), "\n") == i+1
			}, 5*time.Second, time.Millisecond)
		}

		cancel()
		g.Wait()
		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		require.Len(t, lines, 3)
		var res roam.Result
		require.NoError(t, json.Unmarshal([]byte(lines[0]), &res))
		require.Equal(t, roam.StatusSuccess, res.Status)
		require.Equal(t, params, res.Parameters)
	})

	t.Run("oneshot", func(t *testing.T) {
		t.Parallel()
		var buf syncBuf
		coord := &fakeCoordinator{status: roam.StatusSuccess}
		supervisor := service.NewSupervisor(coord, params, service.NewWriteUploader(&buf)).SetOneshot(true)
		err := supervisor.Do(t.Context())
		require.NoError(t, err)
		require.Equal(t, int32(1), coord.calls.Load())
		require.Contains(t, buf.String(), `"status":"success"`)
	})

	t.Run("oneshot failed run", func(t *testing.T) {
		t.Parallel()
		var buf syncBuf
		coord := &fakeCoordinator{status: roam.StatusTimeout}
		supervisor := service.NewSupervisor(coord, params, service.NewWriteUploader(&buf)).SetOneshot(true)
		err := supervisor.Do(t.Context())
		require.ErrorIs(t, err, model.ErrRunFailed)
		require.ErrorContains(t, err, "timeout")
		require.Contains(t, buf.String(), `"status":"timeout"`, "failed runs are uploaded too")
	})

	t.Run("oneshot rejected", func(t *testing.T) {
		t.Parallel()
		coord := &fakeCoordinator{status: roam.StatusSuccess}
		coord.busy.Store(true)
		supervisor := service.NewSupervisor(coord, params).SetOneshot(true)
		err := supervisor.Do(t.Context())
		require.ErrorIs(t, err, model.ErrRunRejected)
	})

	t.Run("oneshot upload error", func(t *testing.T) {
		t.Parallel()
		var buf syncBuf
		coord := &fakeCoordinator{status: roam.StatusSuccess}
		supervisor := service.NewSupervisor(coord, params, failingUploader{}, service.NewWriteUploader(&buf)).SetOneshot(true)
		err := supervisor.Do(t.Context())
		require.ErrorContains(t, err, "disk full")
		require.NotEmpty(t, buf.String(), "remaining uploaders still run")
	})
}

func TestSupervisorTimer(t *testing.T) {
	t.Parallel()
	var buf syncBuf
	coord := &fakeCoordinator{status: roam.StatusSuccess}
	cfg := model.Service{
		Mode:     model.ServiceModeTimer,
		Schedule: &model.Schedule{Duration: "PT0.05S"},
	}
	supervisor, err := service.SupervisorFromConfig(t.Context(), cfg, coord, roam.Parameters{})
	require.NoError(t, err)
	supervisor = supervisor.WithUploaders(t.Context(), service.NewWriteUploader(&buf))

	ctx, cancel := context.WithCancel(t.Context())
	var g sync.WaitGroup
	g.Go(func() {
		require.NoError(t, supervisor.Do(ctx))
	})
	require.Eventually(t, func() bool {
		return strings.Count(buf.String(), "\n") >= 2
	}, 5*time.Second, 5*time.Millisecond)
	cancel()
	g.Wait()
}

func TestSupervisorFromConfig(t *testing.T) {
	t.Parallel()
	dir := filepath.Join(t.TempDir(), "results")

	var testCases = []struct {
		scenario string
		given    model.Service
		err      error
		fails    bool
	}{
		{
			scenario: "manual",
			given:    model.Service{Mode: model.ServiceModeManual},
		},
		{
			scenario: "manual with dir and repository",
			given: model.Service{
				Mode:       model.ServiceModeManual,
				Dir:        &dir,
				Repository: &model.Repository{Enabled: true, URL: "http://results.local"},
			},
		},
		{
			scenario: "timer cron",
			given:    model.Service{Mode: model.ServiceModeTimer, Schedule: &model.Schedule{Cron: "@every 30m"}},
		},
		{
			scenario: "timer without schedule",
			given:    model.Service{Mode: model.ServiceModeTimer},
			err:      model.ErrNoSchedule,
		},
		{
			scenario: "timer bad duration",
			given:    model.Service{Mode: model.ServiceModeTimer, Schedule: &model.Schedule{Duration: "30m"}},
			err:      model.ErrISOFormat,
		},
		{
			scenario: "repository url with path",
			given: model.Service{
				Mode:       model.ServiceModeManual,
				Repository: &model.Repository{Enabled: true, URL: "http://results.local/api"},
			},
			fails: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			supervisor, err := service.SupervisorFromConfig(t.Context(), tc.given, &fakeCoordinator{}, roam.Parameters{})
			switch {
			case tc.err != nil:
				require.ErrorIs(t, err, tc.err)
			case tc.fails:
				require.Error(t, err)
			default:
				require.NoError(t, err)
				require.NotNil(t, supervisor)
			}
		})
	}
}

func TestOSRootUploader(t *testing.T) {
	t.Parallel()
	dir := filepath.Join(t.TempDir(), "results")
	u, err := service.NewOSRootUploader(dir)
	require.NoError(t, err)

	require.NoError(t, u.Upload(t.Context(), []byte(`{"status":"success"}`)))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.True(t, strings.HasPrefix(entries[0].Name(), "summary-"))
	b, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	require.JSONEq(t, `{"status":"success"}`, string(b))

	require.NoError(t, u.Close())
	require.ErrorIs(t, u.Upload(t.Context(), []byte("{}")), model.ErrUploaderClosed)
	require.ErrorIs(t, u.Close(), model.ErrUploaderClosed)
}

// not parallel: replaces the default logger
func TestSupervisorRejectedRunLoggedOnce(t *testing.T) {
	var logs syncBuf
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&logs, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf syncBuf
	coord := &fakeCoordinator{status: roam.StatusSuccess}
	coord.busy.Store(true)
	supervisor := service.NewSupervisor(coord, roam.Parameters{}, service.NewWriteUploader(&buf))
	ctx, cancel := context.WithCancel(t.Context())
	t.Cleanup(cancel)

	var g sync.WaitGroup
	g.Go(func() {
		err := supervisor.Do(ctx)
		require.NoError(t, err)
	})

	supervisor.Start()
	require.Eventually(t, func() bool {
		return strings.Contains(logs.String(), "run not started")
	}, 5*time.Second, time.Millisecond)
	cancel()
	g.Wait()

	require.Equal(t, 1, strings.Count(logs.String(), "run not started"))
	require.NotContains(t, logs.String(), "run handling failed")
	require.Empty(t, buf.String())
}
