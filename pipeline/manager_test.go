package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/GoCodeAlone/provision/config"
)

func newTestManager(rec *recorder, opts ...ManagerOption) *Manager {
	opts = append([]ManagerOption{WithLogger(quietLogger())}, opts...)
	return NewManager(newTestRegistry(rec), opts...)
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  *config.PipelinesConfig
		want error
	}{
		{"empty name", &config.PipelinesConfig{Pipelines: map[string]config.PipelineDefinition{" ": {}}}, ErrInvalidPipeline},
		{"mismatched name", &config.PipelinesConfig{Pipelines: map[string]config.PipelineDefinition{"a": {Name: "b"}}}, ErrInvalidPipeline},
		{"malformed step", &config.PipelinesConfig{Pipelines: map[string]config.PipelineDefinition{
			"a": {Steps: []config.StepDefinition{{Args: "x"}}},
		}}, ErrMalformedStep},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(tt.cfg); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	defs, err := Load(nil)
	if err != nil || defs.Len() != 0 {
		t.Fatalf("nil config should load empty, got %v %v", defs.Len(), err)
	}
}

func TestManager_InitializeIsIdempotent(t *testing.T) {
	m := newTestManager(&recorder{})
	cfg := pipelinesConfig(
		config.PipelineDefinition{Name: "install", Title: "Install", Steps: []config.StepDefinition{step("", proc("record", "a"))}},
		config.PipelineDefinition{Name: "delete", Steps: []config.StepDefinition{step("", proc("record", "b"))}},
	)

	if err := m.Initialize(cfg); err != nil {
		t.Fatal(err)
	}
	first := m.Names()
	firstDef, _ := m.Definition("install")

	if err := m.Initialize(cfg); err != nil {
		t.Fatal(err)
	}
	if !equalStrings(m.Names(), first) {
		t.Errorf("names changed: %v -> %v", first, m.Names())
	}
	secondDef, _ := m.Definition("install")
	if secondDef.Title != firstDef.Title || len(secondDef.Steps) != len(firstDef.Steps) {
		t.Error("definition changed across identical initializations")
	}
	if !equalStrings(first, []string{"delete", "install"}) {
		t.Errorf("Names() = %v", first)
	}
}

func TestManager_InitializeFailureKeepsPrevious(t *testing.T) {
	m := newTestManager(&recorder{})
	good := pipelinesConfig(config.PipelineDefinition{Name: "a", Steps: []config.StepDefinition{step("", proc("record", "a"))}})
	if err := m.Initialize(good); err != nil {
		t.Fatal(err)
	}
	bad := &config.PipelinesConfig{Pipelines: map[string]config.PipelineDefinition{"b": {Steps: []config.StepDefinition{{}}}}}
	if err := m.Initialize(bad); err == nil {
		t.Fatal("expected error")
	}
	if !equalStrings(m.Names(), []string{"a"}) {
		t.Errorf("previous definitions should stay, got %v", m.Names())
	}
}

func TestManager_StartPipeline_UnknownName(t *testing.T) {
	rec := &recorder{}
	m := newTestManager(rec)
	err := m.StartPipeline(context.Background(), "ghost", &testArgs{}, NewAggregateController())
	if !errors.Is(err, ErrUnknownPipeline) {
		t.Fatalf("expected ErrUnknownPipeline, got %v", err)
	}
	if !errors.Is(err, ErrConfiguration) {
		t.Error("unknown pipeline must be a configuration error")
	}
}

func TestManager_StartPipeline_NilArgs(t *testing.T) {
	m := newTestManager(&recorder{})
	_ = m.Initialize(pipelinesConfig(config.PipelineDefinition{Name: "p", Steps: []config.StepDefinition{}}))
	if err := m.StartPipeline(context.Background(), "p", nil, nil); !errors.Is(err, ErrMissingArgs) {
		t.Fatalf("expected ErrMissingArgs, got %v", err)
	}
}

func TestManager_StartPipeline_BuildErrorRunsNothing(t *testing.T) {
	rec := &recorder{}
	m := newTestManager(rec)
	_ = m.Initialize(pipelinesConfig(config.PipelineDefinition{Name: "p", Steps: []config.StepDefinition{
		step("", proc("record", "a")),
		step("", proc("db.only", "b")),
	}}))

	err := m.StartPipeline(context.Background(), "p", &testArgs{}, NewAggregateController())
	if !errors.Is(err, ErrArgsType) {
		t.Fatalf("expected ErrArgsType, got %v", err)
	}
	if calls := rec.list(); len(calls) != 0 {
		t.Errorf("nothing may run when building fails, got %v", calls)
	}
}

func TestManager_StartPipeline_NamedArgsOption(t *testing.T) {
	rec := &recorder{}
	m := newTestManager(rec)
	_ = m.Initialize(pipelinesConfig(config.PipelineDefinition{Name: "p", Steps: []config.StepDefinition{
		step("database", proc("db.only", "db")),
	}}))

	if err := m.StartPipeline(context.Background(), "p", &testArgs{}, nil); !errors.Is(err, ErrMissingArgs) {
		t.Fatalf("expected ErrMissingArgs without the option, got %v", err)
	}
	if err := m.StartPipeline(context.Background(), "p", &testArgs{}, nil, WithNamedArgs("database", &dbArgs{})); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := rec.list(); !equalStrings(got, []string{"db"}) {
		t.Errorf("invocations = %v", got)
	}
}

func TestManager_StartPipeline_NilNamedArgsAreMissing(t *testing.T) {
	rec := &recorder{}
	m := newTestManager(rec)
	_ = m.Initialize(pipelinesConfig(config.PipelineDefinition{Name: "p", Steps: []config.StepDefinition{
		step("", proc("record", "first")),
		{Args: "database", Processors: []config.ProcessorDefinition{}},
		step("database", proc("db.only", "db")),
	}}))

	for _, named := range []Args{nil, (*dbArgs)(nil)} {
		rec.reset()
		err := m.StartPipeline(context.Background(), "p", &testArgs{}, nil, WithNamedArgs("database", named))
		if !errors.Is(err, ErrMissingArgs) {
			t.Fatalf("named %T: expected ErrMissingArgs, got %v", named, err)
		}
		if got := rec.list(); !equalStrings(got, []string{"first"}) {
			t.Errorf("named %T: invocations = %v", named, got)
		}
	}

	var root *testArgs
	if err := m.StartPipeline(context.Background(), "p", root, nil); !errors.Is(err, ErrMissingArgs) {
		t.Fatalf("expected ErrMissingArgs for a nil pointer root, got %v", err)
	}
}

func TestManager_StartPipeline_Observers(t *testing.T) {
	global := &eventObserver{}
	perRun := &eventObserver{}
	m := newTestManager(&recorder{}, WithObserver(global))
	_ = m.Initialize(pipelinesConfig(config.PipelineDefinition{Name: "p", Steps: []config.StepDefinition{
		step("", proc("record", "a", config.Param{Name: "message", Value: "hello"})),
		step("", proc("record", "b", config.Param{Name: "fail", Value: "boom"})),
	}}))

	id := uuid.New()
	err := m.StartPipeline(context.Background(), "p", &testArgs{}, nil, WithRunID(id), WithRunObserver(perRun))
	if err == nil {
		t.Fatal("expected processor error")
	}

	want := []string{
		"run.started",
		"processor.started:record",
		"message:hello",
		"processor.completed:record:continue",
		"processor.started:record",
		"processor.failed:record",
		"run.finished",
	}
	for _, o := range []*eventObserver{global, perRun} {
		if !equalStrings(o.events, want) {
			t.Errorf("events = %v, want %v", o.events, want)
		}
		if o.status != StatusFailed {
			t.Errorf("status = %s", o.status)
		}
		if o.run.ID != id || o.run.Processors != 2 || o.run.Pipeline != "p" {
			t.Errorf("run info = %+v", o.run)
		}
	}
}

// installArgs mirrors a small installation run.
type installArgs struct {
	BaseArgs
	InstanceName string
	Folder       string
	Started      bool
}

func TestManager_InstallScenario(t *testing.T) {
	r := NewProcessorRegistry()
	var order []string
	register := func(name string, fn func(*installArgs, Controller) Result) {
		RegisterProcessor[*installArgs](r, name, nil, func(Values) (TypedProcessor[*installArgs], error) {
			return ProcessorFunc[*installArgs](func(_ context.Context, a *installArgs, c Controller) (Result, error) {
				order = append(order, name)
				return fn(a, c), nil
			}), nil
		})
	}
	register("ValidateInputs", func(a *installArgs, c Controller) Result {
		c.ReportMessage("inputs valid for " + a.InstanceName)
		return Continue
	})
	register("CreateFolder", func(a *installArgs, c Controller) Result {
		a.Folder = "/sites/" + a.InstanceName
		c.ReportMessage("created " + a.Folder)
		return Continue
	})
	register("WriteConfig", func(a *installArgs, c Controller) Result {
		c.ReportMessage("config conflict, aborting")
		return Abort
	})
	register("StartService", func(a *installArgs, c Controller) Result {
		a.Started = true
		c.ReportMessage("started")
		return Continue
	})

	m := NewManager(r, WithLogger(quietLogger()))
	err := m.Initialize(pipelinesConfig(config.PipelineDefinition{Name: "install", Steps: []config.StepDefinition{
		{Processors: []config.ProcessorDefinition{{Type: "ValidateInputs"}}},
		{Processors: []config.ProcessorDefinition{{Type: "CreateFolder"}, {Type: "WriteConfig"}}},
		{Processors: []config.ProcessorDefinition{{Type: "StartService"}}},
	}}))
	if err != nil {
		t.Fatal(err)
	}

	args := &installArgs{InstanceName: "site1"}
	ctrl := NewAggregateController()
	if err := m.StartPipeline(context.Background(), "install", args, ctrl); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !equalStrings(order, []string{"ValidateInputs", "CreateFolder", "WriteConfig"}) {
		t.Errorf("order = %v", order)
	}
	if args.Started {
		t.Error("StartService must not run")
	}
	if !args.Aborted() {
		t.Error("args should be aborted")
	}
	if args.Folder != "/sites/site1" {
		t.Errorf("processors share args, Folder = %q", args.Folder)
	}
	if ctrl.Message() != "config conflict, aborting" {
		t.Errorf("last message = %q", ctrl.Message())
	}
	if len(ctrl.Messages()) != 3 {
		t.Errorf("messages = %v", ctrl.Messages())
	}
}

func TestManager_Validate(t *testing.T) {
	m := newTestManager(&recorder{})
	cfg := pipelinesConfig(
		config.PipelineDefinition{Name: "ok", Steps: []config.StepDefinition{step("", proc("db.only", "a"))}},
		config.PipelineDefinition{Name: "bad", Steps: []config.StepDefinition{
			step("", config.ProcessorDefinition{Type: "ghost"}),
			step("", config.ProcessorDefinition{Type: "record"}),
		}},
	)
	err := m.Validate(cfg)
	if !errors.Is(err, ErrUnknownProcessor) || !errors.Is(err, ErrInvalidParam) {
		t.Fatalf("expected both failures reported, got %v", err)
	}
	if len(m.Names()) != 0 {
		t.Error("Validate must not change definitions")
	}

	if err := m.Validate(pipelinesConfig(cfg.Pipelines["ok"])); err != nil {
		t.Errorf("valid config reported %v", err)
	}
}

type reloadRecorder struct {
	diffs  []*config.PipelineDiff
	totals []int
	errs   []error
}

func (r *reloadRecorder) DefinitionsReloaded(diff *config.PipelineDiff, total int, err error) {
	r.diffs = append(r.diffs, diff)
	r.totals = append(r.totals, total)
	r.errs = append(r.errs, err)
}

func TestManager_ReloadObserver(t *testing.T) {
	obs := &reloadRecorder{}
	m := newTestManager(&recorder{}, WithReloadObserver(obs))

	a := config.PipelineDefinition{Name: "a", Steps: []config.StepDefinition{step("", proc("record", "one"))}}
	b := config.PipelineDefinition{Name: "b", Steps: []config.StepDefinition{}}
	if err := m.Initialize(pipelinesConfig(a)); err != nil {
		t.Fatal(err)
	}
	if err := m.Initialize(pipelinesConfig(b)); err != nil {
		t.Fatal(err)
	}
	bad := &config.PipelinesConfig{Pipelines: map[string]config.PipelineDefinition{"c": {Steps: []config.StepDefinition{{}}}}}
	if err := m.Initialize(bad); !errors.Is(err, ErrMalformedStep) {
		t.Fatalf("expected ErrMalformedStep, got %v", err)
	}

	if len(obs.diffs) != 3 {
		t.Fatalf("observer called %d times, want 3", len(obs.diffs))
	}
	if !equalStrings(obs.diffs[0].Added, []string{"a"}) {
		t.Errorf("first diff = %+v", obs.diffs[0])
	}
	if !equalStrings(obs.diffs[1].Added, []string{"b"}) || !equalStrings(obs.diffs[1].Removed, []string{"a"}) {
		t.Errorf("second diff = %+v", obs.diffs[1])
	}
	if obs.errs[2] == nil || !obs.diffs[2].Empty() || obs.totals[2] != 1 {
		t.Errorf("rejected reload = %+v total %d err %v", obs.diffs[2], obs.totals[2], obs.errs[2])
	}
}

func TestManager_WatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipelines.yaml")
	write := func(body string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("pipelines:\n  first:\n    steps: []\n")

	m := newTestManager(&recorder{})
	source := config.NewFileSource(path)
	cfg, err := source.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Initialize(cfg); err != nil {
		t.Fatal(err)
	}

	w, err := m.Watch(source, config.WithWatchDebounce(50*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = w.Stop() }()

	write("pipelines:\n  second:\n    steps: []\n")

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := m.Definition("second"); ok {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("expected reload, names = %v", m.Names())
}

func TestManager_WatchRejectsUnknownProcessors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipelines.yaml")
	if err := os.WriteFile(path, []byte("pipelines:\n  first:\n    steps: []\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	m := newTestManager(&recorder{})
	source := config.NewFileSource(path)
	cfg, err := source.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Initialize(cfg); err != nil {
		t.Fatal(err)
	}
	w, err := m.Watch(source, config.WithWatchDebounce(50*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = w.Stop() }()

	bad := "pipelines:\n  bad:\n    steps:\n      - processors:\n          - type: nope\n"
	if err := os.WriteFile(path, []byte(bad), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(500 * time.Millisecond)

	if _, ok := m.Definition("bad"); ok {
		t.Fatal("definitions with unknown processors must not be loaded")
	}
	if _, ok := m.Definition("first"); !ok {
		t.Fatalf("previous definitions should be kept, names = %v", m.Names())
	}
}

func TestDefinitions_Config(t *testing.T) {
	defs, err := Load(pipelinesConfig(config.PipelineDefinition{
		Name:  "a",
		Steps: []config.StepDefinition{step("", proc("record", "one"))},
	}))
	if err != nil {
		t.Fatal(err)
	}
	cfg := defs.Config()
	if len(cfg.Pipelines) != 1 || cfg.Pipelines["a"].Name != "a" {
		t.Errorf("Config() = %+v", cfg)
	}
	var empty *Definitions
	if got := empty.Config(); len(got.Pipelines) != 0 {
		t.Errorf("nil definitions should give an empty document")
	}
}
