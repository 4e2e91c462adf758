package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/GoCodeAlone/provision/config"
)

// testArgs is a root argument struct that can expose named entries.
type testArgs struct {
	BaseArgs
	Folder string
	named  map[string]Args
}

func (a *testArgs) NamedArgs() map[string]Args { return a.named }

// dbArgs is a secondary argument struct used by named steps.
type dbArgs struct {
	BaseArgs
	Databases []string
}

// recorder collects processor invocations in order.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(name string) {
	r.mu.Lock()
	r.calls = append(r.calls, name)
	r.mu.Unlock()
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.calls = nil
	r.mu.Unlock()
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

var recordSchema = Schema{
	{Name: "name", Kind: KindString, Required: true},
	{Name: "message", Kind: KindString},
	{Name: "abort", Kind: KindBool},
	{Name: "flag", Kind: KindBool, Description: "set the abort flag instead of returning Abort"},
	{Name: "fail", Kind: KindString},
}

// newTestRegistry registers "record" (any args), "root.only" (*testArgs) and
// "db.only" (*dbArgs). Every invocation is appended to rec.
func newTestRegistry(rec *recorder) *ProcessorRegistry {
	r := NewProcessorRegistry()
	RegisterProcessor[Args](r, "record", recordSchema, func(v Values) (TypedProcessor[Args], error) {
		return recordingProcessor[Args](rec, v), nil
	})
	RegisterProcessor[*testArgs](r, "root.only", recordSchema, func(v Values) (TypedProcessor[*testArgs], error) {
		return recordingProcessor[*testArgs](rec, v), nil
	})
	RegisterProcessor[*dbArgs](r, "db.only", recordSchema, func(v Values) (TypedProcessor[*dbArgs], error) {
		return recordingProcessor[*dbArgs](rec, v), nil
	})
	return r
}

func recordingProcessor[A Args](rec *recorder, v Values) ProcessorFunc[A] {
	name := v.String("name")
	return func(_ context.Context, args A, c Controller) (Result, error) {
		rec.add(name)
		if msg := v.String("message"); msg != "" {
			c.ReportMessage(msg)
		}
		if f := v.String("fail"); f != "" {
			return Continue, errors.New(f)
		}
		if v.Bool("flag") {
			args.Abort()
		}
		if v.Bool("abort") {
			return Abort, nil
		}
		return Continue, nil
	}
}

// proc builds a "record" definition with optional extra params.
func proc(typ, name string, extra ...config.Param) config.ProcessorDefinition {
	params := config.Params{{Name: "name", Value: name}}
	params = append(params, extra...)
	return config.ProcessorDefinition{Type: typ, Params: params}
}

func step(argsName string, processors ...config.ProcessorDefinition) config.StepDefinition {
	if processors == nil {
		processors = []config.ProcessorDefinition{}
	}
	return config.StepDefinition{Args: argsName, Processors: processors}
}

func pipelinesConfig(defs ...config.PipelineDefinition) *config.PipelinesConfig {
	cfg := &config.PipelinesConfig{Pipelines: map[string]config.PipelineDefinition{}}
	for _, d := range defs {
		cfg.Pipelines[d.Name] = d
	}
	return cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
