package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/GoCodeAlone/provision/config"
	"github.com/GoCodeAlone/provision/pipeline"
)

func runPipeline(args []string) error {
	if len(args) < 1 {
		return pipelineUsage()
	}
	switch args[0] {
	case "list":
		return runPipelineList(args[1:])
	case "show":
		return runPipelineShow(args[1:])
	case "processors":
		return runPipelineProcessors(args[1:])
	case "run":
		return runPipelineRun(args[1:])
	case "validate":
		return runPipelineValidate(args[1:])
	case "watch":
		return runPipelineWatch(args[1:])
	default:
		return pipelineUsage()
	}
}

func pipelineUsage() error {
	fmt.Fprintf(os.Stderr, `Usage: provctl pipeline <subcommand> [options]

Subcommands:
  list         List available pipelines
  show         Print a pipeline definition
  processors   List registered processor types and their parameters
  run          Run a pipeline with ad-hoc variables
  validate     Check a definitions file against the registered processors
  watch        Reload a definitions file on every change
`)
	return errors.New("pipeline subcommand is required")
}

func runPipelineList(args []string) error {
	fs := pflag.NewFlagSet("pipeline list", pflag.ContinueOnError)
	path := fs.StringP("config", "c", "", "Pipeline definitions file overlaid on the built-in ones")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadDefinitions(*path)
	if err != nil {
		return err
	}
	defs, err := pipeline.Load(cfg)
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "Pipelines (%d):\n", defs.Len())
	for _, name := range defs.Names() {
		def, _ := defs.Lookup(name)
		processors := 0
		for _, step := range def.Steps {
			processors += len(step.Processors)
		}
		fmt.Fprintf(stdout, "  %-20s  %-30s  (%d steps, %d processors)\n", name, def.Title, len(def.Steps), processors)
	}
	return nil
}

func runPipelineShow(args []string) error {
	fs := pflag.NewFlagSet("pipeline show", pflag.ContinueOnError)
	path := fs.StringP("config", "c", "", "Pipeline definitions file overlaid on the built-in ones")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("pipeline name is required")
	}
	cfg, err := loadDefinitions(*path)
	if err != nil {
		return err
	}
	def, ok := cfg.Pipelines[fs.Arg(0)]
	if !ok {
		return fmt.Errorf("%w: %q", pipeline.ErrUnknownPipeline, fs.Arg(0))
	}
	def.Name = ""
	out, err := yaml.Marshal(map[string]config.PipelineDefinition{fs.Arg(0): def})
	if err != nil {
		return err
	}
	_, err = stdout.Write(out)
	return err
}

func runPipelineProcessors(args []string) error {
	fs := pflag.NewFlagSet("pipeline processors", pflag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	r := newRegistry()
	for _, name := range r.Types() {
		t, _ := r.Lookup(name)
		fmt.Fprintf(stdout, "%s  (args: %s)\n", name, t.ArgsType)
		if t.Description != "" {
			fmt.Fprintf(stdout, "    %s\n", t.Description)
		}
		for _, p := range t.Schema {
			var notes []string
			if p.Required {
				notes = append(notes, "required")
			}
			if p.Default != nil {
				notes = append(notes, fmt.Sprintf("default %v", p.Default))
			}
			line := fmt.Sprintf("    - %s %s", p.Name, p.Kind)
			if len(notes) > 0 {
				line += " (" + strings.Join(notes, ", ") + ")"
			}
			if p.Description != "" {
				line += ": " + p.Description
			}
			fmt.Fprintln(stdout, line)
		}
	}
	return nil
}

// varsArgs is the root args of ad-hoc runs. Templates and queries see the
// variables as top-level fields.
type varsArgs struct {
	pipeline.BaseArgs
	vars map[string]any
}

// TemplateData exposes the variables to text templates.
func (a *varsArgs) TemplateData() any { return a.vars }

func (a *varsArgs) MarshalJSON() ([]byte, error) {
	if a.vars == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(a.vars)
}

func parseVars(input string, vars []string) (map[string]any, error) {
	out := make(map[string]any)
	if input != "" {
		if err := json.Unmarshal([]byte(input), &out); err != nil {
			return nil, fmt.Errorf("--input must be a JSON object: %w", err)
		}
	}
	for _, kv := range vars {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --var %q, expected key=value", kv)
		}
		out[k] = v
	}
	return out, nil
}

func runPipelineRun(args []string) error {
	fs := pflag.NewFlagSet("pipeline run", pflag.ContinueOnError)
	g := addGlobalFlags(fs)
	input := fs.String("input", "", "Variables as a JSON object")
	vars := fs.StringArray("var", nil, "Variable in key=value format (repeatable)")
	yes := fs.BoolP("yes", "y", false, "Answer yes to every confirmation")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: provctl pipeline run <name> [options]

Run a pipeline whose processors accept any args. Variables are available to
templates as {{ .name }} and to report queries as .name.

Examples:
  provctl pipeline run -c ops.yaml backup --var target=/srv/backup
  provctl pipeline run -c ops.yaml report --input '{"sites":["a","b"]}'

Options:
`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errors.New("pipeline name is required")
	}
	values, err := parseVars(*input, *vars)
	if err != nil {
		return err
	}

	ctx := context.Background()
	a, err := newApp(ctx, g)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.loadPipelines(); err != nil {
		return err
	}

	c, done := a.controller(*yes)
	defer done()
	return a.run(ctx, fs.Arg(0), &varsArgs{vars: values}, c)
}

func runPipelineValidate(args []string) error {
	fs := pflag.NewFlagSet("pipeline validate", pflag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	var cfg *config.PipelinesConfig
	var err error
	label := "built-in pipelines"
	if fs.NArg() > 0 {
		label = fs.Arg(0)
		cfg, err = config.LoadFromFile(fs.Arg(0))
	} else {
		cfg, err = loadDefinitions("")
	}
	if err != nil {
		return err
	}

	m := pipeline.NewManager(newRegistry())
	if err := m.Validate(cfg); err != nil {
		return fmt.Errorf("validation failed for %s:\n%w", label, err)
	}
	fmt.Fprintf(stdout, "%s: %d pipelines OK\n", label, len(cfg.Pipelines))
	return nil
}

func runPipelineWatch(args []string) error {
	fs := pflag.NewFlagSet("pipeline watch", pflag.ContinueOnError)
	g := addGlobalFlags(fs)
	debounce := fs.Duration("debounce", 300*time.Millisecond, "Quiet period before a change is reloaded")
	metricsAddr := fs.String("metrics-addr", "", "Serve reload metrics (definition_reloads_total, pipelines_defined) on this address while watching")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("definitions file is required")
	}
	if g.logLevel == "warn" && !fs.Changed("log-level") {
		g.logLevel = "info"
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, g)
	if err != nil {
		return err
	}
	defer a.Close()

	source := config.NewFileSource(fs.Arg(0))
	cfg, err := source.Load(ctx)
	if err != nil {
		return err
	}
	if err := a.manager.Validate(cfg); err != nil {
		return fmt.Errorf("validation failed for %s:\n%w", fs.Arg(0), err)
	}
	if err := a.manager.Initialize(cfg); err != nil {
		return err
	}
	w, err := a.manager.Watch(source, config.WithWatchDebounce(*debounce))
	if err != nil {
		return err
	}
	defer func() { _ = w.Stop() }()

	if *metricsAddr != "" {
		srv := &http.Server{Addr: *metricsAddr, Handler: a.metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("Metrics server failed", "addr", *metricsAddr, "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	a.logger.Info("Watching pipeline definitions", "path", fs.Arg(0), "pipelines", a.manager.Names())
	<-ctx.Done()
	return nil
}
