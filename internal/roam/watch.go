package roam

import (
	"context"
	"log/slog"
	"time"
)

const (
	DefaultMaxWait      = 120 * time.Second
	DefaultPollInterval = 3 * time.Second
)

// WatchConfig bounds the summary watch. Zero values fall back to the
// defaults.
type WatchConfig struct {
	MaxWait      time.Duration
	PollInterval time.Duration
}

func (c WatchConfig) withDefaults() WatchConfig {
	if c.MaxWait <= 0 {
		c.MaxWait = DefaultMaxWait
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	return c
}

// Attempts is ceil(MaxWait / PollInterval), at least one.
func (c WatchConfig) Attempts() int {
	c = c.withDefaults()
	n := int(c.MaxWait / c.PollInterval)
	if c.MaxWait%c.PollInterval != 0 {
		n++
	}
	return max(n, 1)
}

type OutcomeKind int

const (
	OutcomeFresh OutcomeKind = iota
	OutcomeEarlyExit
	OutcomeTimeout
	OutcomeCancelled
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeFresh:
		return "fresh"
	case OutcomeEarlyExit:
		return "early_exit"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Outcome is how a summary watch resolved. Summary is set for
// OutcomeFresh only; Attempts counts the polling cycles performed.
type Outcome struct {
	Kind     OutcomeKind
	Summary  *Summary
	Attempts int
}

// SummaryWatcher detects completion of the remote run by comparing the
// summary modification time against a baseline captured before the
// trigger.
type SummaryWatcher struct {
	source SummarySource
	clock  Clock
	cfg    WatchConfig
}

func NewSummaryWatcher(source SummarySource, cfg WatchConfig, clock Clock) *SummaryWatcher {
	if clock == nil {
		clock = RealClock()
	}
	return &SummaryWatcher{
		source: source,
		clock:  clock,
		cfg:    cfg.withDefaults(),
	}
}

// Baseline returns the modification time of the current summary, or 0
// if there is none or it cannot be fetched.
func (w *SummaryWatcher) Baseline(ctx context.Context) float64 {
	summary, err := w.source.FetchLatestSummary(ctx)
	if err != nil {
		fetchErrorsTotal.WithLabelValues("summary").Inc()
		slog.DebugContext(ctx, "no summary baseline: starting fresh", "error", err)
		return 0
	}
	if summary == nil {
		return 0
	}
	slog.DebugContext(ctx, "summary baseline", "mtime", summary.MTime)
	return summary.MTime
}

// Wait polls until a summary newer than baseline appears, the early exit
// flag shows up or the attempts are exhausted. The early exit flag is
// checked before the summary in every cycle.
func (w *SummaryWatcher) Wait(ctx context.Context, baseline float64) Outcome {
	attempts := w.cfg.Attempts()
	for i := 1; i <= attempts; i++ {
		if ctx.Err() != nil {
			return Outcome{Kind: OutcomeCancelled, Attempts: i - 1}
		}
		summaryAttemptsTotal.Inc()

		if w.exited(ctx) {
			slog.InfoContext(ctx, "roam process exited early", "attempt", i)
			return Outcome{Kind: OutcomeEarlyExit, Attempts: i}
		}

		if summary := w.fresh(ctx, baseline); summary != nil {
			slog.InfoContext(ctx, "new cycle summary", "attempt", i, "mtime", summary.MTime)
			return Outcome{Kind: OutcomeFresh, Summary: summary, Attempts: i}
		}

		if i == attempts {
			break
		}
		slog.DebugContext(ctx, "waiting for new roam data", "attempt", i, "of", attempts)
		if err := w.clock.Sleep(ctx, w.cfg.PollInterval, nil); err != nil {
			return Outcome{Kind: OutcomeCancelled, Attempts: i}
		}
	}
	return Outcome{Kind: OutcomeTimeout, Attempts: attempts}
}

func (w *SummaryWatcher) exited(ctx context.Context) bool {
	present, err := w.source.FetchEarlyExit(ctx)
	if err != nil {
		fetchErrorsTotal.WithLabelValues("early_exit").Inc()
		slog.DebugContext(ctx, "checking early exit flag failed", "error", err)
		return false
	}
	return present
}

func (w *SummaryWatcher) fresh(ctx context.Context, baseline float64) *Summary {
	summary, err := w.source.FetchLatestSummary(ctx)
	if err != nil {
		fetchErrorsTotal.WithLabelValues("summary").Inc()
		slog.DebugContext(ctx, "fetching summary failed", "error", err)
		return nil
	}
	if summary == nil || summary.MTime <= baseline {
		return nil
	}
	return summary
}
