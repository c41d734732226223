package main

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/CZERTAINLY/autoroam/internal/roam"
)

// terminal copies the live log of a run to w and logs its outcome.
type terminal struct {
	mx sync.Mutex
	w  io.Writer
}

func newTerminal(w io.Writer) *terminal {
	return &terminal{w: w}
}

func (t *terminal) NotifyLogAppend(ctx context.Context, text string) {
	t.mx.Lock()
	defer t.mx.Unlock()
	if _, err := io.WriteString(t.w, text); err != nil {
		slog.DebugContext(ctx, "writing run log failed", "error", err)
	}
}

func (t *terminal) NotifyTerminal(ctx context.Context, r roam.Result) {
	level := slog.LevelInfo
	if !r.Succeeded() {
		level = slog.LevelWarn
	}
	slog.Log(ctx, level, r.Message,
		"run_id", r.RunID,
		"status", r.Status,
		"iface", r.Parameters.Iface,
		"rssi", r.Parameters.RSSI,
		"duration", r.Stopped.Sub(r.Started).String(),
	)
}
