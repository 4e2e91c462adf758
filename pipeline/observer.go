package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RunStatus is the outcome of a run.
type RunStatus string

const (
	StatusCompleted RunStatus = "completed"
	StatusAborted   RunStatus = "aborted"
	StatusFailed    RunStatus = "failed"
)

// RunInfo identifies one run of a pipeline.
type RunInfo struct {
	ID         uuid.UUID
	Pipeline   string
	Title      string
	Steps      int
	Processors int
	StartedAt  time.Time
}

// RunObserver receives lifecycle notifications from the run loop. Observers
// must not block; they run on the caller's goroutine.
type RunObserver interface {
	RunStarted(ctx context.Context, run RunInfo)
	ProcessorStarted(ctx context.Context, run RunInfo, step, index int, processorType string)
	ProcessorFinished(ctx context.Context, run RunInfo, step, index int, processorType string, result Result, elapsed time.Duration, err error)
	MessageReported(ctx context.Context, run RunInfo, text string)
	RunFinished(ctx context.Context, run RunInfo, status RunStatus, elapsed time.Duration, err error)
}

type multiObserver []RunObserver

func (m multiObserver) RunStarted(ctx context.Context, run RunInfo) {
	for _, o := range m {
		o.RunStarted(ctx, run)
	}
}

func (m multiObserver) ProcessorStarted(ctx context.Context, run RunInfo, step, index int, processorType string) {
	for _, o := range m {
		o.ProcessorStarted(ctx, run, step, index, processorType)
	}
}

func (m multiObserver) ProcessorFinished(ctx context.Context, run RunInfo, step, index int, processorType string, result Result, elapsed time.Duration, err error) {
	for _, o := range m {
		o.ProcessorFinished(ctx, run, step, index, processorType, result, elapsed, err)
	}
}

func (m multiObserver) MessageReported(ctx context.Context, run RunInfo, text string) {
	for _, o := range m {
		o.MessageReported(ctx, run, text)
	}
}

func (m multiObserver) RunFinished(ctx context.Context, run RunInfo, status RunStatus, elapsed time.Duration, err error) {
	for _, o := range m {
		o.RunFinished(ctx, run, status, elapsed, err)
	}
}

// observedController forwards to the caller's controller and copies every
// message to the run's observers.
type observedController struct {
	Controller
	ctx      context.Context
	run      RunInfo
	observer RunObserver
}

func (c *observedController) ReportMessage(text string) {
	c.Controller.ReportMessage(text)
	c.observer.MessageReported(c.ctx, c.run, text)
}
