package roam

import "context"

// LogSource returns the full current log text of the active run.
type LogSource interface {
	FetchLog(ctx context.Context) (string, error)
}

// SummarySource exposes the completion signals of the remote run.
// FetchLatestSummary returns nil and no error when no artifact exists yet.
type SummarySource interface {
	FetchEarlyExit(ctx context.Context) (bool, error)
	FetchLatestSummary(ctx context.Context) (*Summary, error)
}

// Endpoint is the remote run endpoint a Coordinator drives.
type Endpoint interface {
	LogSource
	SummarySource
	TriggerRun(ctx context.Context, params Parameters) (Ack, error)
}

// LogSink receives each newly observed log suffix, in order.
type LogSink interface {
	NotifyLogAppend(ctx context.Context, text string)
}

// Presenter is the presentation layer notified about live logs and
// the terminal result. It must not block for long.
type Presenter interface {
	LogSink
	NotifyTerminal(ctx context.Context, result Result)
}

type discardPresenter struct{}

func (discardPresenter) NotifyLogAppend(context.Context, string) {}
func (discardPresenter) NotifyTerminal(context.Context, Result)  {}
