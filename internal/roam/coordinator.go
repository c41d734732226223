package roam

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/CZERTAINLY/autoroam/internal/log"
)

const (
	MsgSuccess   = "new cycle summary"
	MsgEarlyExit = "roam process exited early"
	MsgTimeout   = "timed out waiting for roam summary"
	MsgCancelled = "run cancelled"
)

// Config configures a Coordinator. Zero values use defaults.
type Config struct {
	Watch       WatchConfig
	LogInterval time.Duration
	Clock       Clock
	// Liveness is an optional secondary stop condition of the log tail.
	Liveness func() bool
}

// Coordinator is the only entry point to start a run. It triggers the
// remote test, runs the log tail next to the summary watch and reports
// exactly one terminal Result per accepted run.
type Coordinator struct {
	endpoint  Endpoint
	presenter Presenter
	tail      *LogTailPoller
	watcher   *SummaryWatcher
	state     atomic.Int32
}

func NewCoordinator(endpoint Endpoint, presenter Presenter, cfg Config) *Coordinator {
	if presenter == nil {
		presenter = discardPresenter{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = RealClock()
	}
	tail := NewLogTailPoller(endpoint,
		WithLogInterval(cfg.LogInterval),
		WithLiveness(cfg.Liveness),
		WithTailClock(clock),
	)
	return &Coordinator{
		endpoint:  endpoint,
		presenter: presenter,
		tail:      tail,
		watcher:   NewSummaryWatcher(endpoint, cfg.Watch, clock),
	}
}

func (c *Coordinator) State() State {
	return State(c.state.Load())
}

func (c *Coordinator) setState(s State) {
	c.state.Store(int32(s))
	runState.Set(float64(s))
}

// Start executes one run and blocks until it is terminal. It returns
// false, and does nothing, when a run is already in progress.
//
// Whatever happens during the run, the coordinator is back in StateIdle
// when Start returns and the run's cancellation token is cancelled.
func (c *Coordinator) Start(ctx context.Context, params Parameters) (result Result, ok bool) {
	if !c.state.CompareAndSwap(int32(StateIdle), int32(StateTriggering)) {
		slog.DebugContext(ctx, "run already in progress: ignoring start", "state", c.State().String())
		return Result{}, false
	}
	runState.Set(float64(StateTriggering))

	result = Result{
		RunID:      uuid.NewString(),
		Parameters: params.WithDefaults(),
		Started:    time.Now().UTC(),
	}
	ctx = log.ContextAttrs(ctx, slog.Group("run",
		slog.String("id", result.RunID),
		slog.String("iface", result.Parameters.Iface),
		slog.Int("rssi", result.Parameters.RSSI),
	))
	token := NewCancelToken()

	defer c.setState(StateIdle)
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "roam run panicked", "panic", r)
			result.Status = StatusFault
			result.Message = fmt.Sprintf("fault: %v", r)
			result.Summary = nil
		}
		token.Cancel()
		result.Stopped = time.Now().UTC()
		c.setState(result.Status.State())
		recordResult(result)
		slog.InfoContext(ctx, "roam run finished", "status", result.Status, "message", result.Message)
		ok = true
		c.notifyTerminal(ctx, result)
	}()

	outcome, err := c.execute(ctx, token, result.Parameters)
	var fault *faultError
	if errors.As(err, &fault) {
		result.Status = StatusFault
		result.Message = fault.Error()
		return result, true
	}
	if err != nil {
		result.Status = StatusTriggerError
		result.Message = "trigger error: " + err.Error()
		return result, true
	}

	switch outcome.Kind {
	case OutcomeFresh:
		result.Status = StatusSuccess
		result.Message = MsgSuccess
		result.Summary = outcome.Summary
	case OutcomeEarlyExit:
		result.Status = StatusEarlyExit
		result.Message = MsgEarlyExit
	case OutcomeCancelled:
		result.Status = StatusCancelled
		result.Message = MsgCancelled
	default:
		result.Status = StatusTimeout
		result.Message = MsgTimeout
	}
	return result, true
}

// execute triggers the run and waits for the summary watch. The log tail
// is cancelled only after the watch resolved and execute returns only
// after the tail performed its final drain.
func (c *Coordinator) execute(ctx context.Context, token *CancelToken, params Parameters) (Outcome, error) {
	baseline := c.watcher.Baseline(ctx)

	slog.InfoContext(ctx, "triggering roam run")
	ack, err := c.endpoint.TriggerRun(ctx, params)
	if err != nil {
		slog.ErrorContext(ctx, "triggering roam run failed", "error", err)
		return Outcome{}, err
	}
	slog.DebugContext(ctx, "roam run triggered", "ack", ack.Status)
	c.setState(StateRunning)

	var g errgroup.Group
	defer func() {
		token.Cancel()
		_ = g.Wait()
	}()
	g.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				slog.ErrorContext(ctx, "log tail panicked", "panic", r)
				err = &faultError{value: r}
			}
		}()
		if !c.tail.Run(ctx, token, c.presenter) {
			slog.WarnContext(ctx, "log tail rejected: run continues without live log")
		}
		return nil
	})

	outcome := c.watcher.Wait(ctx, baseline)
	token.Cancel()
	if err := g.Wait(); err != nil {
		return Outcome{}, err
	}
	return outcome, nil
}

func (c *Coordinator) notifyTerminal(ctx context.Context, result Result) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "presenter panicked on terminal result", "panic", r)
		}
	}()
	c.presenter.NotifyTerminal(ctx, result)
}

// faultError carries a panic recovered outside of the Start goroutine.
type faultError struct {
	value any
}

func (e *faultError) Error() string {
	return fmt.Sprintf("fault: %v", e.value)
}
