package roam

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const DefaultLogInterval = time.Second

// LogTailPoller turns a growing remote log into an append-only stream
// of suffixes. The cursor is a byte offset into the fetched text; it is
// reset when a loop starts and only moves forward afterwards.
//
// At most one loop is active at a time, a concurrent Run is rejected.
type LogTailPoller struct {
	source   LogSource
	clock    Clock
	interval time.Duration
	observed func() bool

	active atomic.Bool
	cursor atomic.Int64

	mx    sync.Mutex
	token *CancelToken
}

type TailOption func(*LogTailPoller)

// WithLogInterval sets the pause between two log fetches.
func WithLogInterval(d time.Duration) TailOption {
	return func(p *LogTailPoller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithLiveness installs a probe reporting whether anybody still observes
// the run. The loop stops once it returns false.
func WithLiveness(observed func() bool) TailOption {
	return func(p *LogTailPoller) {
		p.observed = observed
	}
}

func WithTailClock(c Clock) TailOption {
	return func(p *LogTailPoller) {
		if c != nil {
			p.clock = c
		}
	}
}

func NewLogTailPoller(source LogSource, opts ...TailOption) *LogTailPoller {
	p := &LogTailPoller{
		source:   source,
		clock:    RealClock(),
		interval: DefaultLogInterval,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run polls the log until the token is cancelled, ctx is done or the
// liveness probe reports the run is not observed anymore. Cancellation is
// checked between iterations only, an in-flight fetch always completes.
// After the token is observed as cancelled, one last fetch drains the
// tail written since the previous iteration.
//
// Returns false without doing anything if another loop is active.
func (p *LogTailPoller) Run(ctx context.Context, token *CancelToken, sink LogSink) bool {
	if !p.active.CompareAndSwap(false, true) {
		slog.WarnContext(ctx, "log tail already running: ignoring start")
		return false
	}
	defer p.active.Store(false)

	p.mx.Lock()
	if p.token != nil && p.token != token {
		p.token.Cancel()
	}
	p.token = token
	p.mx.Unlock()

	p.cursor.Store(0)
	slog.DebugContext(ctx, "starting log tail", "interval", p.interval)
	defer slog.DebugContext(ctx, "log tail stopped")

	for {
		if token.Cancelled() {
			p.poll(ctx, sink)
			return true
		}

		p.poll(ctx, sink)

		if p.observed != nil && !p.observed() {
			slog.DebugContext(ctx, "run not observed anymore: stopping log tail")
			return true
		}

		if err := p.clock.Sleep(ctx, p.interval, token.Done()); err != nil {
			return true
		}
	}
}

// Active reports whether a loop is running.
func (p *LogTailPoller) Active() bool {
	return p.active.Load()
}

// Cursor returns how many bytes of the log were delivered so far.
func (p *LogTailPoller) Cursor() int {
	return int(p.cursor.Load())
}

func (p *LogTailPoller) poll(ctx context.Context, sink LogSink) {
	text, err := p.source.FetchLog(ctx)
	if err != nil {
		fetchErrorsTotal.WithLabelValues("log").Inc()
		slog.DebugContext(ctx, "fetching log failed: skipping", "error", err)
		return
	}

	cursor := int(p.cursor.Load())
	if len(text) <= cursor {
		return
	}
	tail := text[cursor:]
	p.cursor.Store(int64(len(text)))
	logBytesTotal.Add(float64(len(tail)))
	sink.NotifyLogAppend(ctx, tail)
}
