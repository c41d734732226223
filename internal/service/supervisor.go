package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	gocron "github.com/go-co-op/gocron/v2"

	"github.com/CZERTAINLY/autoroam/internal/model"
	"github.com/CZERTAINLY/autoroam/internal/roam"
)

// Coordinator runs a single roam cycle. It reports false when another run
// is already active.
type Coordinator interface {
	Start(ctx context.Context, params roam.Parameters) (roam.Result, bool)
}

type outcome struct {
	result   roam.Result
	accepted bool
}

type Supervisor struct {
	start     chan struct{}
	coord     Coordinator
	params    roam.Parameters
	uploaders []model.Uploader
	oneshot   bool
	scheduler gocron.Scheduler
	results   chan outcome
	wg        sync.WaitGroup
}

func NewSupervisor(coord Coordinator, params roam.Parameters, uploaders ...model.Uploader) *Supervisor {
	return &Supervisor{
		start:     make(chan struct{}, 1),
		coord:     coord,
		params:    params,
		uploaders: uploaders,
		results:   make(chan outcome, 1),
	}
}

// SetOneshot makes Do start a single run and return its outcome.
func (s *Supervisor) SetOneshot(oneshot bool) *Supervisor {
	s.oneshot = oneshot
	return s
}

// WithUploaders replaces the uploaders of an initialized Supervisor.
// This method exists for a unit testing only.
func (s *Supervisor) WithUploaders(ctx context.Context, uploaders ...model.Uploader) *Supervisor {
	s.closeUploaders(ctx)
	s.uploaders = uploaders
	return s
}

// SupervisorFromConfig wires uploaders and, in timer mode, the scheduler
// from the service configuration.
func SupervisorFromConfig(ctx context.Context, cfg model.Service, coord Coordinator, params roam.Parameters) (*Supervisor, error) {
	uploaders, err := uploaders(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing uploaders: %w", err)
	}

	supervisor := NewSupervisor(coord, params, uploaders...)
	switch cfg.Mode {
	case model.ServiceModeManual, "":
		supervisor.oneshot = true
	case model.ServiceModeTimer:
		supervisor.scheduler, err = newScheduler(ctx, cfg.Schedule, supervisor.Start)
		if err != nil {
			supervisor.closeUploaders(ctx)
			return nil, fmt.Errorf("timer mode failed: %w", err)
		}
	default:
		supervisor.closeUploaders(ctx)
		return nil, fmt.Errorf("unsupported service.mode %q", cfg.Mode)
	}
	return supervisor, nil
}

// Start tells supervisor to start a new run. It is a signal, it returns
// immediately. A start requested while one is pending is dropped.
func (s *Supervisor) Start() {
	select {
	case s.start <- struct{}{}:
	default:
	}
}

// Do runs the supervisor event loop.
//
// Start signals launch a coordinator run in a goroutine; terminal results
// are uploaded. A run rejected by the coordinator, because the previous one
// is still active, is logged and skipped.
//
// In oneshot mode a run is triggered on entry and Do returns after its
// result: an upload error, ErrRunFailed for a failed run or nil. Otherwise
// errors are only logged and the loop runs until ctx is cancelled.
func (s *Supervisor) Do(ctx context.Context) error {
	slog.DebugContext(ctx, "starting a supervisor", "oneshot", s.oneshot)

	if s.scheduler != nil {
		s.scheduler.Start()
		defer func() {
			if err := s.scheduler.Shutdown(); err != nil {
				slog.ErrorContext(ctx, "shutting down gocron has failed", "error", err)
			}
		}()
	}

	defer func() {
		s.closeUploaders(ctx)
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		s.wg.Wait()
	}()

	if s.oneshot {
		s.Start()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.start:
			s.wg.Go(func() {
				s.run(ctx)
			})
		case o := <-s.results:
			err := s.handle(ctx, o)
			if s.oneshot {
				return err
			}
			if err != nil && !errors.Is(err, model.ErrRunRejected) {
				slog.ErrorContext(ctx, "run handling failed", "error", err)
			}
		}
	}
}

func (s *Supervisor) run(ctx context.Context) {
	res, ok := s.coord.Start(ctx, s.params)
	select {
	case s.results <- outcome{result: res, accepted: ok}:
	case <-ctx.Done():
	}
}

func (s *Supervisor) handle(ctx context.Context, o outcome) error {
	if !o.accepted {
		slog.WarnContext(ctx, "run not started: previous run still active")
		return model.ErrRunRejected
	}
	res := o.result
	raw, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encoding run result: %w", err)
	}
	if err := s.upload(ctx, raw); err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}
	if !res.Succeeded() {
		return fmt.Errorf("%w: %s: %s", model.ErrRunFailed, res.Status, res.Message)
	}
	slog.DebugContext(ctx, "run succeeded", "run_id", res.RunID)
	return nil
}

func (s *Supervisor) closeUploaders(ctx context.Context) {
	for _, uploader := range s.uploaders {
		if closer, ok := uploader.(model.UploadCloser); ok {
			err := closer.Close()
			if err != nil {
				slog.ErrorContext(ctx, "closing uploader have failed", "error", err)
			}
		}
	}
}

func (s *Supervisor) upload(ctx context.Context, raw []byte) error {
	var errs []error
	for _, u := range s.uploaders {
		if err := u.Upload(ctx, raw); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func newScheduler(ctx context.Context, cfgp *model.Schedule, startFunc func()) (gocron.Scheduler, error) {
	if cfgp == nil {
		return nil, model.ErrNoSchedule
	}
	cfg := *cfgp
	var job gocron.JobDefinition
	switch {
	case cfg.Cron != "":
		sched, err := model.ParseCron(cfg.Cron)
		if err != nil {
			return nil, fmt.Errorf("parsing service.schedule.cron: %w", err)
		}
		job = gocron.CronJob(cfg.Cron, false)
		slog.DebugContext(ctx, "successfully parsed", "cron", cfg.Cron, "interval", model.CronInterval(sched, time.Now()).String())
	case cfg.Duration != "":
		d, err := model.ParseISODuration(cfg.Duration)
		if err != nil {
			return nil, fmt.Errorf("parsing service.schedule.duration: %w", err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("service.schedule.duration must be positive: %s", cfg.Duration)
		}
		slog.DebugContext(ctx, "successfully parsed", "duration", d.String())
		job = gocron.DurationJob(d)
	default:
		return nil, model.ErrNoSchedule
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("initializing gocron scheduler: %w", err)
	}
	_, err = s.NewJob(
		job,
		gocron.NewTask(startFunc),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, fmt.Errorf("initializing gocron job: %w", err)
	}
	return s, nil
}

func uploaders(_ context.Context, cfg model.Service) ([]model.Uploader, error) {
	repo := cfg.Repository != nil && cfg.Repository.Enabled
	if cfg.Dir == nil && !repo {
		return []model.Uploader{NewWriteUploader(os.Stdout)}, nil
	}
	var uploaders []model.Uploader
	if cfg.Dir != nil {
		u, err := NewOSRootUploader(*cfg.Dir)
		if err != nil {
			return nil, err
		}
		uploaders = append(uploaders, u)
	}

	if repo {
		u, err := NewResultRepoUploader(cfg.Repository.URL)
		if err != nil {
			return nil, err
		}
		uploaders = append(uploaders, u)
	}
	return uploaders, nil
}

type WriteUploader struct {
	w io.Writer
}

func NewWriteUploader(w io.Writer) WriteUploader {
	return WriteUploader{w: w}
}

func (u WriteUploader) Upload(_ context.Context, raw []byte) error {
	if u.w == nil {
		u.w = os.Stdout
	}
	if _, err := u.w.Write(raw); err != nil {
		return err
	}
	_, err := u.w.Write([]byte{'\n'})
	return err
}

// OSRootUploader saves each result to its own file inside a directory.
type OSRootUploader struct {
	mx   sync.Mutex
	root *os.Root
	now  func() time.Time
}

func NewOSRootUploader(path string) (*OSRootUploader, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, err
	}
	root, err := os.OpenRoot(path)
	if err != nil {
		return nil, err
	}
	return &OSRootUploader{root: root, now: time.Now}, nil
}

func (u *OSRootUploader) Upload(ctx context.Context, b []byte) error {
	u.mx.Lock()
	defer u.mx.Unlock()
	if u.root == nil {
		return model.ErrUploaderClosed
	}

	path := "summary-" + u.now().UTC().Format("2006-01-02-15-04-05.000") + ".json"

	f, err := u.root.Create(path)
	if err != nil {
		return fmt.Errorf("creating run result: %w", err)
	}
	_, err = f.Write(b)
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("saving run result: %w", err)
	}
	err = f.Close()
	if err != nil {
		return fmt.Errorf("closing run result: %w", err)
	}
	slog.InfoContext(ctx, "run result saved", "path", path)
	return nil
}

func (u *OSRootUploader) Close() error {
	u.mx.Lock()
	defer u.mx.Unlock()
	if u.root == nil {
		return model.ErrUploaderClosed
	}
	err := u.root.Close()
	u.root = nil
	return err
}
