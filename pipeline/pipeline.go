package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/GoCodeAlone/provision/config"
	"github.com/GoCodeAlone/provision/observability/tracing"
)

// Pipeline is a materialized definition: every step and processor built and
// ready to run once.
type Pipeline struct {
	Name  string
	Title string
	Steps []*Step
}

// Build materializes def against the run's args. No processor is invoked.
func Build(r *ProcessorRegistry, def config.PipelineDefinition, argsCtx *ArgsContext) (*Pipeline, error) {
	steps, err := CreateSteps(r, def.Steps, argsCtx)
	if err != nil {
		return nil, fmt.Errorf("pipeline %q: %w", def.Name, err)
	}
	return &Pipeline{Name: def.Name, Title: def.Title, Steps: steps}, nil
}

// ProcessorCount returns the total number of processors across all steps.
func (p *Pipeline) ProcessorCount() int {
	n := 0
	for _, s := range p.Steps {
		n += len(s.Processors)
	}
	return n
}

// runner carries the collaborators of one run.
type runner struct {
	logger   *slog.Logger
	tracer   *tracing.PipelineTracer
	observer RunObserver
	info     RunInfo
}

// Run executes every step in order against argsCtx. A cooperative abort is not
// an error: it returns StatusAborted and nil, with the root args aborted.
func (p *Pipeline) Run(ctx context.Context, argsCtx *ArgsContext, c Controller) (RunStatus, error) {
	rn := &runner{
		logger:   slog.Default(),
		observer: multiObserver(nil),
		info:     RunInfo{Pipeline: p.Name, Title: p.Title, Steps: len(p.Steps), Processors: p.ProcessorCount(), StartedAt: time.Now()},
	}
	return rn.run(ctx, p, argsCtx, c)
}

func (rn *runner) run(ctx context.Context, p *Pipeline, argsCtx *ArgsContext, c Controller) (RunStatus, error) {
	start := time.Now()
	runID := rn.info.ID.String()

	ctx, span := rn.tracer.StartRun(ctx, p.Name, runID, len(p.Steps))
	defer span.End()

	rn.observer.RunStarted(ctx, rn.info)
	progress, _ := c.(ProgressReporter)
	if progress != nil {
		progress.PipelineStarted(p.Name, p.Title, rn.info.Processors)
	}
	ctrl := Controller(&observedController{Controller: c, ctx: ctx, run: rn.info, observer: rn.observer})

	rn.logger.Info("Pipeline started", "pipeline", p.Name, "run_id", runID, "steps", len(p.Steps), "processors", rn.info.Processors)

	status, err := rn.execute(ctx, p, argsCtx, ctrl, progress)
	elapsed := time.Since(start)

	switch status {
	case StatusFailed:
		rn.tracer.RecordError(span, err)
		rn.logger.Error("Pipeline failed", "pipeline", p.Name, "run_id", runID, "error", err, "elapsed", elapsed)
	case StatusAborted:
		rn.tracer.MarkAborted(span)
		rn.logger.Info("Pipeline aborted", "pipeline", p.Name, "run_id", runID, "elapsed", elapsed)
	default:
		rn.tracer.SetSuccess(span)
		rn.logger.Info("Pipeline completed", "pipeline", p.Name, "run_id", runID, "elapsed", elapsed)
	}

	rn.observer.RunFinished(ctx, rn.info, status, elapsed, err)
	if progress != nil {
		progress.PipelineFinished(status)
	}
	return status, err
}

func (rn *runner) execute(ctx context.Context, p *Pipeline, argsCtx *ArgsContext, c Controller, progress ProgressReporter) (RunStatus, error) {
	root := argsCtx.Root()
	if root == nil {
		return StatusFailed, fmt.Errorf("pipeline %q: %w: no root args", p.Name, ErrMissingArgs)
	}
	if root.Aborted() {
		rn.logger.Info("Pipeline args already aborted, nothing to run", "pipeline", p.Name)
		return StatusAborted, nil
	}

	total := rn.info.Processors
	counter := 0
	for si, step := range p.Steps {
		args, err := argsCtx.Resolve(step.ArgsName)
		if err != nil {
			return StatusFailed, fmt.Errorf("pipeline %q step %d: %w", p.Name, si, err)
		}
		for pi, proc := range step.Processors {
			if chk, ok := proc.(argsChecker); ok && !chk.accepts(args) {
				return StatusFailed, fmt.Errorf("pipeline %q step %d: processor %d: %w: %s cannot take %T",
					p.Name, si, pi, ErrArgsType, proc.Type(), args)
			}
		}

		status, err := rn.runStep(ctx, p, si, step, args, root, c, progress, &counter, total)
		if status != StatusCompleted {
			return status, err
		}
	}
	return StatusCompleted, nil
}

func (rn *runner) runStep(ctx context.Context, p *Pipeline, si int, step *Step, args, root Args, c Controller, progress ProgressReporter, counter *int, total int) (RunStatus, error) {
	ctx, span := rn.tracer.StartStep(ctx, si, step.ArgsName)
	defer span.End()

	rn.logger.Info("Step started", "pipeline", p.Name, "step", si, "args", step.ArgsName, "processors", len(step.Processors))
	start := time.Now()

	stopped := func() bool {
		if !args.Aborted() && !root.Aborted() {
			return false
		}
		// Named args share the run with the root; the caller only sees the root.
		root.Abort()
		args.Abort()
		return true
	}

	for pi, proc := range step.Processors {
		if stopped() {
			rn.tracer.MarkAborted(span)
			return StatusAborted, nil
		}
		if progress != nil {
			progress.ProcessorStarted(*counter, total, proc.Type())
		}
		*counter++

		rn.observer.ProcessorStarted(ctx, rn.info, si, pi, proc.Type())
		pctx, pspan := rn.tracer.StartProcessor(ctx, proc.Type(), pi)
		began := time.Now()
		result, err := proc.Process(pctx, args, c)
		elapsed := time.Since(began)
		rn.observer.ProcessorFinished(ctx, rn.info, si, pi, proc.Type(), result, elapsed, err)

		if err != nil {
			rn.tracer.RecordError(pspan, err)
			pspan.End()
			rn.tracer.RecordError(span, err)
			rn.logger.Error("Processor failed", "pipeline", p.Name, "step", si, "processor", proc.Type(), "index", pi, "error", err, "elapsed", elapsed)
			return StatusFailed, &ProcessorError{Pipeline: p.Name, Step: si, Index: pi, Processor: proc.Type(), Err: err}
		}
		pspan.End()
		rn.logger.Debug("Processor completed", "pipeline", p.Name, "step", si, "processor", proc.Type(), "result", result, "elapsed", elapsed)

		if result == Abort {
			args.Abort()
		}
	}
	if stopped() {
		rn.tracer.MarkAborted(span)
		return StatusAborted, nil
	}

	rn.tracer.SetSuccess(span)
	rn.logger.Info("Step completed", "pipeline", p.Name, "step", si, "elapsed", time.Since(start))
	return StatusCompleted, nil
}
