package pipeline

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/GoCodeAlone/provision/config"
)

// Result tells the run loop whether to keep going after a processor returns.
type Result int

const (
	// Continue proceeds to the next processor.
	Continue Result = iota
	// Abort stops the whole pipeline. The effective args are marked aborted.
	Abort
)

func (r Result) String() string {
	if r == Abort {
		return "abort"
	}
	return "continue"
}

// Processor is a materialized unit of work. Instances are built fresh for
// every run and are invoked at most once.
type Processor interface {
	// Type returns the registry name the processor was built from.
	Type() string
	// Process performs the work against the run's effective args.
	Process(ctx context.Context, args Args, c Controller) (Result, error)
}

// TypedProcessor is what processor implementations provide: Process with
// the concrete argument type they need.
type TypedProcessor[A Args] interface {
	Process(ctx context.Context, args A, c Controller) (Result, error)
}

// ProcessorFunc adapts a function to TypedProcessor.
type ProcessorFunc[A Args] func(ctx context.Context, args A, c Controller) (Result, error)

// Process calls f.
func (f ProcessorFunc[A]) Process(ctx context.Context, args A, c Controller) (Result, error) {
	return f(ctx, args, c)
}

// Factory builds a TypedProcessor from bound parameters. Factories validate
// parameter values beyond their kind (ranges, expression syntax) and return
// an error for bad ones.
type Factory[A Args] func(params Values) (TypedProcessor[A], error)

// ProcessorType is a registered processor implementation.
type ProcessorType struct {
	Name        string
	Description string
	Schema      Schema
	// ArgsType is the argument type the processor declares. A run's args must
	// be assignable to it.
	ArgsType reflect.Type

	build func(params Values) (Processor, error)
}

// Accepts reports whether args can be handed to processors of this type.
func (t ProcessorType) Accepts(args Args) bool {
	return args != nil && reflect.TypeOf(args).AssignableTo(t.ArgsType)
}

// TypeOption configures a ProcessorType at registration.
type TypeOption func(*ProcessorType)

// WithDescription sets a human-readable description.
func WithDescription(desc string) TypeOption {
	return func(t *ProcessorType) { t.Description = desc }
}

// ProcessorRegistry maps processor type names to implementations.
type ProcessorRegistry struct {
	mu    sync.RWMutex
	types map[string]ProcessorType
}

// NewProcessorRegistry creates an empty ProcessorRegistry.
func NewProcessorRegistry() *ProcessorRegistry {
	return &ProcessorRegistry{types: make(map[string]ProcessorType)}
}

// RegisterProcessor adds a processor type whose instances take args of type
// A. Registering an existing name replaces it.
func RegisterProcessor[A Args](r *ProcessorRegistry, name string, schema Schema, factory Factory[A], opts ...TypeOption) {
	t := ProcessorType{
		Name:     name,
		Schema:   schema,
		ArgsType: reflect.TypeFor[A](),
		build: func(params Values) (Processor, error) {
			impl, err := factory(params)
			if err != nil {
				return nil, err
			}
			return &boundProcessor[A]{typeName: name, impl: impl}, nil
		},
	}
	for _, opt := range opts {
		opt(&t)
	}

	r.mu.Lock()
	r.types[name] = t
	r.mu.Unlock()
}

// Lookup returns the registered type for name.
func (r *ProcessorRegistry) Lookup(name string) (ProcessorType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[name]
	return t, ok
}

// Types returns all registered type names, sorted.
func (r *ProcessorRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Create builds one processor from its definition. When args is non-nil the
// type's declared argument type is checked against it.
func (r *ProcessorRegistry) Create(def config.ProcessorDefinition, args Args) (Processor, error) {
	t, ok := r.Lookup(def.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProcessor, def.Type)
	}
	if args != nil && !t.Accepts(args) {
		return nil, fmt.Errorf("%w: %s requires %s, got %T", ErrArgsType, def.Type, t.ArgsType, args)
	}
	values, err := Bind(t.Schema, def.Params)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", def.Type, err)
	}
	p, err := t.build(values)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidParam, def.Type, err)
	}
	return p, nil
}

// CreateProcessors builds processors in declaration order. On the first
// failure it returns the error and no processors.
func CreateProcessors(r *ProcessorRegistry, defs []config.ProcessorDefinition, args Args) ([]Processor, error) {
	out := make([]Processor, 0, len(defs))
	for i, def := range defs {
		p, err := r.Create(def, args)
		if err != nil {
			return nil, fmt.Errorf("processor %d: %w", i, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// argsChecker lets the run loop verify a step's args against every processor
// before the first one is invoked.
type argsChecker interface {
	accepts(args Args) bool
}

type boundProcessor[A Args] struct {
	typeName string
	impl     TypedProcessor[A]
}

func (p *boundProcessor[A]) Type() string { return p.typeName }

func (p *boundProcessor[A]) accepts(args Args) bool {
	_, ok := args.(A)
	return ok
}

func (p *boundProcessor[A]) Process(ctx context.Context, args Args, c Controller) (Result, error) {
	typed, ok := args.(A)
	if !ok {
		return Continue, fmt.Errorf("%w: %s requires %s, got %T", ErrArgsType, p.typeName, reflect.TypeFor[A](), args)
	}
	return p.impl.Process(ctx, typed, c)
}
