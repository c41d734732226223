package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"slices"
	"sync"
	"time"
)

var (
	ErrRunNotStarted = errors.New("roam process not started")
	ErrRunInProgress = errors.New("roam process in progress")
)

// Runner starts the roam test process and ensures a single instance of it
// is active at a time.
type Runner struct {
	mx         sync.Mutex
	cmd        *exec.Cmd
	cancelFunc context.CancelFunc
	result     Result
}

func NewRunner() *Runner {
	return &Runner{
		result: Result{Err: ErrRunNotStarted},
	}
}

type Command struct {
	Path    string
	Args    []string
	Env     []string
	Timeout time.Duration
}

// WithArgs returns a copy of the command with args appended.
func (c Command) WithArgs(args ...string) Command {
	c.Args = append(slices.Clone(c.Args), args...)
	return c
}

type Result struct {
	Path    string
	Args    []string
	Started time.Time
	Stopped time.Time
	State   *os.ProcessState
	Err     error
}

// ExitCode returns the process exit code or -1 if it is unknown.
func (r Result) ExitCode() int {
	if r.State == nil {
		return -1
	}
	return r.State.ExitCode()
}

// Start runs the process with stdout and stderr written to out. It returns
// ErrRunInProgress or an exec error, otherwise a channel receiving the
// result once the process ends. The channel is closed afterwards.
//
// The process is killed when ctx is done or the command timeout elapses.
func (r *Runner) Start(ctx context.Context, proto Command, out io.Writer) (<-chan Result, error) {
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.cmd != nil {
		return nil, ErrRunInProgress
	}

	r.result = Result{
		Path: proto.Path,
		Args: slices.Clone(proto.Args),
	}

	var cancel context.CancelFunc
	if proto.Timeout == 0 {
		slog.WarnContext(ctx, "command has no timeout", "path", proto.Path)
		ctx, cancel = context.WithCancel(ctx)
	} else {
		ctx, cancel = context.WithTimeout(ctx, proto.Timeout)
	}

	cmd := exec.CommandContext(ctx, proto.Path, proto.Args...)
	if len(proto.Env) > 0 {
		cmd.Env = append(os.Environ(), proto.Env...)
	}
	cmd.Stdout = out
	cmd.Stderr = out

	r.result.Started = time.Now().UTC()
	if err := cmd.Start(); err != nil {
		cancel()
		r.result.Stopped = time.Now().UTC()
		r.result.Err = err
		return nil, err
	}
	slog.DebugContext(ctx, "roam process started", "path", proto.Path, "args", proto.Args, "pid", cmd.Process.Pid)

	r.cmd = cmd
	r.cancelFunc = cancel
	ch := make(chan Result, 1)
	go r.wait(cmd, cancel, ch)
	return ch, nil
}

func (r *Runner) wait(cmd *exec.Cmd, cancel context.CancelFunc, ch chan<- Result) {
	err := cmd.Wait()
	cancel()
	stopped := time.Now().UTC()

	r.mx.Lock()
	r.result.Stopped = stopped
	r.result.State = cmd.ProcessState
	r.result.Err = err
	r.cmd = nil
	r.cancelFunc = nil
	res := r.result
	r.mx.Unlock()

	ch <- res
	close(ch)
}

// Running reports whether a process is active.
func (r *Runner) Running() bool {
	r.mx.Lock()
	defer r.mx.Unlock()
	return r.cmd != nil
}

// LastResult returns the last process result, ErrRunNotStarted if nothing
// was started yet. While a process runs, Err is nil and State is unset.
func (r *Runner) LastResult() Result {
	r.mx.Lock()
	defer r.mx.Unlock()
	return r.result
}

// Close kills the running process, if any.
func (r *Runner) Close() {
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.cancelFunc != nil {
		r.cancelFunc()
	}
}
