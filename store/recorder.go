package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/GoCodeAlone/provision/pipeline"
)

// RunRecorder writes pipeline run notifications to an EventStore. Append
// failures are logged and never interrupt the run.
type RunRecorder struct {
	store  EventStore
	logger *slog.Logger
}

// NewRunRecorder creates a recorder for store. A nil logger uses
// slog.Default().
func NewRunRecorder(store EventStore, logger *slog.Logger) *RunRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &RunRecorder{store: store, logger: logger}
}

func (r *RunRecorder) append(ctx context.Context, run pipeline.RunInfo, eventType string, data map[string]any) {
	// History must be written even when the run's context was cancelled.
	ctx = context.WithoutCancel(ctx)
	if err := r.store.Append(ctx, run.ID, eventType, data); err != nil {
		r.logger.Warn("Failed to record run event", "run_id", run.ID, "event", eventType, "error", err)
	}
}

func (r *RunRecorder) RunStarted(ctx context.Context, run pipeline.RunInfo) {
	r.append(ctx, run, EventRunStarted, map[string]any{
		"pipeline":   run.Pipeline,
		"title":      run.Title,
		"steps":      run.Steps,
		"processors": run.Processors,
	})
}

func (r *RunRecorder) ProcessorStarted(ctx context.Context, run pipeline.RunInfo, step, index int, processorType string) {
	r.append(ctx, run, EventProcessorStarted, map[string]any{
		"step":      step,
		"index":     index,
		"processor": processorType,
	})
}

func (r *RunRecorder) ProcessorFinished(ctx context.Context, run pipeline.RunInfo, step, index int, processorType string, result pipeline.Result, elapsed time.Duration, err error) {
	data := map[string]any{
		"step":       step,
		"index":      index,
		"processor":  processorType,
		"elapsed_ms": elapsed.Milliseconds(),
	}
	if err != nil {
		data["error"] = err.Error()
		r.append(ctx, run, EventProcessorFailed, data)
		return
	}
	data["result"] = result.String()
	r.append(ctx, run, EventProcessorCompleted, data)
}

func (r *RunRecorder) MessageReported(ctx context.Context, run pipeline.RunInfo, text string) {
	r.append(ctx, run, EventMessageReported, map[string]any{"text": text})
}

func (r *RunRecorder) RunFinished(ctx context.Context, run pipeline.RunInfo, status pipeline.RunStatus, elapsed time.Duration, err error) {
	data := map[string]any{"elapsed_ms": elapsed.Milliseconds()}
	eventType := EventRunCompleted
	switch status {
	case pipeline.StatusAborted:
		eventType = EventRunAborted
	case pipeline.StatusFailed:
		eventType = EventRunFailed
		if err != nil {
			data["error"] = err.Error()
		}
	}
	r.append(ctx, run, eventType, data)
}

var _ pipeline.RunObserver = (*RunRecorder)(nil)
