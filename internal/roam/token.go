package roam

import "sync"

// CancelToken is a cooperative, one-way cancellation signal. Once
// cancelled it stays cancelled; every run allocates a new one.
type CancelToken struct {
	once sync.Once
	done chan struct{}
}

func NewCancelToken() *CancelToken {
	return &CancelToken{done: make(chan struct{})}
}

// Cancel marks the token as cancelled. It is safe to call repeatedly.
func (t *CancelToken) Cancel() {
	t.once.Do(func() {
		close(t.done)
	})
}

// Cancelled reports whether Cancel has been called.
func (t *CancelToken) Cancelled() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Done is closed once the token is cancelled.
func (t *CancelToken) Done() <-chan struct{} {
	return t.done
}
