package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/GoCodeAlone/provision/config"
	"github.com/GoCodeAlone/provision/observability/tracing"
)

// Definitions is an immutable set of pipeline definitions keyed by name.
type Definitions struct {
	pipelines map[string]config.PipelineDefinition
}

// Load checks a parsed document and indexes its pipelines. It has no side
// effects; the caller decides where the result lives.
func Load(cfg *config.PipelinesConfig) (*Definitions, error) {
	d := &Definitions{pipelines: make(map[string]config.PipelineDefinition)}
	if cfg == nil {
		return d, nil
	}
	for key, def := range cfg.Pipelines {
		name := strings.TrimSpace(key)
		if name == "" {
			return nil, fmt.Errorf("%w: empty pipeline name", ErrInvalidPipeline)
		}
		if def.Name != "" && def.Name != key {
			return nil, fmt.Errorf("%w: pipeline %q declares name %q", ErrInvalidPipeline, key, def.Name)
		}
		for i, step := range def.Steps {
			if step.Processors == nil {
				return nil, fmt.Errorf("pipeline %q step %d: %w: no processor list", name, i, ErrMalformedStep)
			}
		}
		def.Name = name
		d.pipelines[name] = def
	}
	return d, nil
}

// Lookup returns the definition for name.
func (d *Definitions) Lookup(name string) (config.PipelineDefinition, bool) {
	if d == nil {
		return config.PipelineDefinition{}, false
	}
	def, ok := d.pipelines[name]
	return def, ok
}

// Names returns the defined pipeline names, sorted.
func (d *Definitions) Names() []string {
	if d == nil {
		return nil
	}
	names := make([]string, 0, len(d.pipelines))
	for name := range d.pipelines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Config returns the definitions as a document.
func (d *Definitions) Config() *config.PipelinesConfig {
	cfg := &config.PipelinesConfig{Pipelines: make(map[string]config.PipelineDefinition)}
	if d != nil {
		for name, def := range d.pipelines {
			cfg.Pipelines[name] = def
		}
	}
	return cfg
}

// Len returns the number of definitions.
func (d *Definitions) Len() int {
	if d == nil {
		return 0
	}
	return len(d.pipelines)
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger for the manager and its runs.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// WithTracer sets the tracer used for run, step and processor spans.
func WithTracer(t *tracing.PipelineTracer) ManagerOption {
	return func(m *Manager) { m.tracer = t }
}

// WithObserver adds observers notified of every run.
func WithObserver(observers ...RunObserver) ManagerOption {
	return func(m *Manager) { m.observers = append(m.observers, observers...) }
}

// ReloadObserver is told whenever Initialize or Watch replaces the
// definitions or rejects a replacement. On rejection err is set, diff is
// empty and total is the count still in place.
type ReloadObserver interface {
	DefinitionsReloaded(diff *config.PipelineDiff, total int, err error)
}

// WithReloadObserver adds observers of definition reloads.
func WithReloadObserver(observers ...ReloadObserver) ManagerOption {
	return func(m *Manager) { m.reloads = append(m.reloads, observers...) }
}

// Manager owns the loaded definitions and starts runs against them.
type Manager struct {
	processors *ProcessorRegistry
	logger     *slog.Logger
	tracer     *tracing.PipelineTracer
	observers  multiObserver
	reloads    []ReloadObserver

	mu   sync.RWMutex
	defs *Definitions
}

// NewManager creates a manager with no definitions loaded.
func NewManager(processors *ProcessorRegistry, opts ...ManagerOption) *Manager {
	m := &Manager{
		processors: processors,
		logger:     slog.Default(),
		defs:       &Definitions{pipelines: map[string]config.PipelineDefinition{}},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Registry returns the processor registry runs are built from.
func (m *Manager) Registry() *ProcessorRegistry { return m.processors }

// Initialize loads cfg and replaces the current definitions. Calling it again
// with the same document leaves the manager in the same state. On error the
// previous definitions stay in place.
func (m *Manager) Initialize(cfg *config.PipelinesConfig) error {
	_, err := m.initialize(cfg)
	return err
}

func (m *Manager) initialize(cfg *config.PipelinesConfig) (*config.PipelineDiff, error) {
	defs, err := Load(cfg)
	if err != nil {
		m.notifyReload(&config.PipelineDiff{}, m.Definitions().Len(), err)
		return nil, err
	}
	m.mu.Lock()
	previous := m.defs
	m.defs = defs
	m.mu.Unlock()

	diff := config.DiffPipelines(previous.Config(), defs.Config())
	m.logger.Debug("Pipelines initialized", "count", defs.Len(), "names", defs.Names())
	m.notifyReload(diff, defs.Len(), nil)
	return diff, nil
}

func (m *Manager) notifyReload(diff *config.PipelineDiff, total int, err error) {
	for _, o := range m.reloads {
		o.DefinitionsReloaded(diff, total, err)
	}
}

// Definitions returns the current definition set.
func (m *Manager) Definitions() *Definitions {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.defs
}

// Definition returns the current definition for name.
func (m *Manager) Definition(name string) (config.PipelineDefinition, bool) {
	return m.Definitions().Lookup(name)
}

// Names returns the current pipeline names, sorted.
func (m *Manager) Names() []string {
	return m.Definitions().Names()
}

// Validate builds every processor of cfg without args and reports all
// failures together. It does not change the manager's definitions.
func (m *Manager) Validate(cfg *config.PipelinesConfig) error {
	defs, err := Load(cfg)
	if err != nil {
		return err
	}
	var errs []error
	for _, name := range defs.Names() {
		def, _ := defs.Lookup(name)
		for si, step := range def.Steps {
			for pi, pd := range step.Processors {
				if _, err := m.processors.Create(pd, nil); err != nil {
					errs = append(errs, fmt.Errorf("pipeline %q step %d processor %d: %w", name, si, pi, err))
				}
			}
		}
	}
	return errors.Join(errs...)
}

// RunOption configures a single run.
type RunOption func(*runConfig)

type runConfig struct {
	id        uuid.UUID
	named     map[string]Args
	observers []RunObserver
}

// WithNamedArgs adds a named entry to the run's ArgsContext. It overrides an
// entry of the same name exposed by the root args; a nil args removes it.
func WithNamedArgs(name string, args Args) RunOption {
	return func(rc *runConfig) {
		if rc.named == nil {
			rc.named = make(map[string]Args)
		}
		rc.named[name] = args
	}
}

// WithRunID sets the run's identifier instead of generating one.
func WithRunID(id uuid.UUID) RunOption {
	return func(rc *runConfig) { rc.id = id }
}

// WithRunObserver adds an observer for this run only.
func WithRunObserver(o RunObserver) RunOption {
	return func(rc *runConfig) { rc.observers = append(rc.observers, o) }
}

// StartPipeline runs the named pipeline to completion on the calling
// goroutine. All steps are built before the first processor runs, so
// configuration errors never leave a run half done. A cooperative abort
// returns nil; the caller inspects args.Aborted() and the controller.
func (m *Manager) StartPipeline(ctx context.Context, name string, args Args, c Controller, opts ...RunOption) error {
	def, ok := m.Definition(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownPipeline, name)
	}
	if isNilArgs(args) {
		return fmt.Errorf("pipeline %q: %w: no root args", name, ErrMissingArgs)
	}
	if c == nil {
		c = NewAggregateController()
	}

	rc := runConfig{id: uuid.New()}
	for _, opt := range opts {
		opt(&rc)
	}

	argsCtx := NewArgsContext(args)
	for n, a := range rc.named {
		argsCtx.Set(n, a)
	}

	p, err := Build(m.processors, def, argsCtx)
	if err != nil {
		m.logger.Error("Pipeline build failed", "pipeline", name, "error", err)
		return err
	}

	observers := append(multiObserver{}, m.observers...)
	observers = append(observers, rc.observers...)
	rn := &runner{
		logger:   m.logger,
		tracer:   m.tracer,
		observer: observers,
		info: RunInfo{
			ID:         rc.id,
			Pipeline:   p.Name,
			Title:      p.Title,
			Steps:      len(p.Steps),
			Processors: p.ProcessorCount(),
			StartedAt:  time.Now(),
		},
	}
	_, err = rn.run(ctx, p, argsCtx, c)
	return err
}

// Watch re-initializes the manager whenever source changes. Reloads whose
// processors cannot be built are logged and the previous definitions are
// kept.
func (m *Manager) Watch(source *config.FileSource, opts ...config.WatcherOption) (*config.ConfigWatcher, error) {
	opts = append([]config.WatcherOption{config.WithWatchLogger(m.logger)}, opts...)
	w := config.NewConfigWatcher(source, func(evt config.ConfigChangeEvent) {
		if err := m.Validate(evt.Config); err != nil {
			m.logger.Error("Pipeline reload rejected", "source", evt.Source, "error", err)
			m.notifyReload(&config.PipelineDiff{}, m.Definitions().Len(), err)
			return
		}
		diff, err := m.initialize(evt.Config)
		if err != nil {
			m.logger.Error("Pipeline reload rejected", "source", evt.Source, "error", err)
			return
		}
		m.logger.Info("Pipelines reloaded", "source", evt.Source,
			"added", diff.Added, "removed", diff.Removed, "modified", diff.Modified)
	}, opts...)
	if err := w.Start(); err != nil {
		return nil, err
	}
	return w, nil
}
