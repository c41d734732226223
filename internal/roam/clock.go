package roam

import (
	"context"
	"time"
)

// Clock provides the delayed continuations used by the pollers.
//
// Sleep blocks for d, returning early with nil when wake is closed or
// with ctx.Err() when ctx is done. A nil wake channel never fires.
type Clock interface {
	Sleep(ctx context.Context, d time.Duration, wake <-chan struct{}) error
}

type realClock struct{}

// RealClock returns a Clock backed by runtime timers.
func RealClock() Clock {
	return realClock{}
}

func (realClock) Sleep(ctx context.Context, d time.Duration, wake <-chan struct{}) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-wake:
		return nil
	case <-timer.C:
		return nil
	}
}
