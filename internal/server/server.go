// Package server implements the remote run endpoint. It launches the roam
// test process on request and exposes its growing log, the latest cycle
// summary and the early exit marker over HTTP.
//
// Files in the data directory:
//
//	current_run.log      stdout and stderr of the last process, truncated on each start
//	cycle_summary.json   written by the roam test process when a cycle completes
//	roam_done.flag       written here when the process exits without a newer summary
//
// Only one process runs at a time, further start requests get 409.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/CZERTAINLY/autoroam/internal/remote"
	"github.com/CZERTAINLY/autoroam/internal/roam"
	"github.com/CZERTAINLY/autoroam/internal/service"
)

const (
	LogFileName     = "current_run.log"
	SummaryFileName = "cycle_summary.json"
	DoneFlagName    = "roam_done.flag"

	maxStartBody = 1 << 16
)

type Config struct {
	Listen      string
	DataDir     string
	Command     service.Command
	CORSOrigins []string
}

type Server struct {
	cfg     Config
	runner  *service.Runner
	handler http.Handler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// guards running, which stays set until the exit of the process is
	// fully handled
	mx      sync.Mutex
	running bool
}

func New(cfg Config) (*Server, error) {
	if cfg.Command.Path == "" {
		return nil, errors.New("server.command.path is empty")
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "."
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory %s: %w", cfg.DataDir, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:    cfg,
		runner: service.NewRunner(),
		ctx:    ctx,
		cancel: cancel,
	}

	r := mux.NewRouter()
	r.HandleFunc(remote.StartPath, s.handleStart).Methods(http.MethodPost)
	r.HandleFunc(remote.LogsPath, s.handleLogs).Methods(http.MethodGet)
	r.HandleFunc(remote.SummaryPath, s.handleSummary).Methods(http.MethodGet)
	r.HandleFunc(remote.DoneFlagPath, s.handleDoneFlag).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler())
	r.Use(instrument)

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.handler = cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodHead},
		AllowedHeaders: []string{"Content-Type", "Cache-Control"},
	}).Handler(r)

	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe serves until ctx is done, then shuts the HTTP server down
// and kills a running roam process.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.InfoContext(ctx, "remote run endpoint listening", "addr", s.cfg.Listen, "data_dir", s.cfg.DataDir)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.Close()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.Close()
	if err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return nil
}

// Close kills a running roam process and waits for its exit handling.
func (s *Server) Close() {
	s.cancel()
	s.runner.Close()
	s.wg.Wait()
}

func (s *Server) path(name string) string {
	return filepath.Join(s.cfg.DataDir, name)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var params roam.Parameters
	body, err := io.ReadAll(io.LimitReader(r.Body, maxStartBody))
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "reading request body: "+err.Error())
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &params); err != nil {
			writeProblem(w, http.StatusBadRequest, "decoding request body: "+err.Error())
			return
		}
	}
	params = params.WithDefaults()

	if err := s.start(ctx, params); err != nil {
		if errors.Is(err, service.ErrRunInProgress) {
			startsTotal.WithLabelValues("rejected").Inc()
			writeProblem(w, http.StatusConflict, "a roam process is already running")
			return
		}
		startsTotal.WithLabelValues("error").Inc()
		slog.ErrorContext(ctx, "starting roam process failed", "error", err)
		writeProblem(w, http.StatusInternalServerError, err.Error())
		return
	}
	startsTotal.WithLabelValues("started").Inc()
	writeJSON(w, http.StatusOK, roam.Ack{Status: "started"})
}

func (s *Server) start(ctx context.Context, params roam.Parameters) error {
	s.mx.Lock()
	defer s.mx.Unlock()

	if s.running {
		return service.ErrRunInProgress
	}

	if err := os.Remove(s.path(DoneFlagName)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing early exit flag: %w", err)
	}
	baseline := s.summaryMTime()

	logf, err := os.Create(s.path(LogFileName))
	if err != nil {
		return fmt.Errorf("truncating run log: %w", err)
	}

	cmd := s.cfg.Command.WithArgs("-i", params.Iface, "-r", strconv.Itoa(params.RSSI))
	results, err := s.runner.Start(s.ctx, cmd, logf)
	if err != nil {
		_ = logf.Close()
		return err
	}
	s.running = true
	slog.InfoContext(ctx, "roam process started", "iface", params.Iface, "rssi", params.RSSI)

	s.wg.Go(func() {
		res := <-results
		_ = logf.Close()
		s.finish(res, baseline)
	})
	return nil
}

// finish records an early exit when the process ended without producing a
// newer summary than the one present at start.
func (s *Server) finish(res service.Result, baseline time.Time) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.running = false

	ctx := s.ctx
	mtime := s.summaryMTime()
	if mtime.After(baseline) {
		exitsTotal.WithLabelValues("summary").Inc()
		slog.InfoContext(ctx, "roam process finished", "exit_code", res.ExitCode(), "duration", res.Stopped.Sub(res.Started))
		return
	}

	exitsTotal.WithLabelValues("early").Inc()
	slog.WarnContext(ctx, "roam process exited without a new summary", "exit_code", res.ExitCode(), "error", res.Err)
	flag := fmt.Sprintf("exit_code=%d\nstopped=%s\n", res.ExitCode(), res.Stopped.Format(time.RFC3339))
	if err := os.WriteFile(s.path(DoneFlagName), []byte(flag), 0o644); err != nil {
		slog.ErrorContext(ctx, "writing early exit flag failed", "error", err)
	}
}

func (s *Server) summaryMTime() time.Time {
	info, err := os.Stat(s.path(SummaryFileName))
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	b, err := os.ReadFile(s.path(LogFileName))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		writeProblem(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"log": string(b)})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	path := s.path(SummaryFileName)
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "No summary found yet"})
		return
	}
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, err.Error())
		return
	}
	b, err := os.ReadFile(path)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !json.Valid(b) {
		// the test process may be in the middle of writing it
		writeProblem(w, http.StatusServiceUnavailable, "cycle summary is not valid JSON")
		return
	}
	writeJSON(w, http.StatusOK, roam.Summary{
		MTime: float64(info.ModTime().UnixNano()) / float64(time.Second),
		Data:  b,
	})
}

func (s *Server) handleDoneFlag(w http.ResponseWriter, r *http.Request) {
	http.ServeFile(w, r, s.path(DoneFlagName))
}

// Running reports whether a roam process is active or its exit is still
// being handled.
func (s *Server) Running() bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.running
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"running": s.Running()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"title":  http.StatusText(status),
		"status": status,
		"detail": detail,
	})
}
