package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/GoCodeAlone/provision/config"
	"github.com/GoCodeAlone/provision/install"
	"github.com/GoCodeAlone/provision/metrics"
	"github.com/GoCodeAlone/provision/observability/tracing"
	"github.com/GoCodeAlone/provision/pipeline"
	"github.com/GoCodeAlone/provision/processors"
	"github.com/GoCodeAlone/provision/store"
)

// errAborted marks runs that stopped on a cooperative abort.
var errAborted = errors.New("pipeline aborted")

// stdout receives command output. Tests replace it.
var stdout io.Writer = os.Stdout

// globalFlags are shared by every command that runs pipelines.
type globalFlags struct {
	logLevel    string
	logFormat   string
	definitions string
	profile     string
	history     string
	noHistory   bool
	otlp        string
	metricsFile string
}

func addGlobalFlags(fs *pflag.FlagSet) *globalFlags {
	g := &globalFlags{}
	fs.StringVar(&g.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	fs.StringVar(&g.logFormat, "log-format", "text", "Log format (text, json)")
	fs.StringVarP(&g.definitions, "config", "c", "", "Pipeline definitions file overlaid on the built-in ones")
	fs.StringVar(&g.profile, "profile", config.DefaultProfilePath(), "Profile file")
	fs.StringVar(&g.history, "history", store.DefaultHistoryPath(), "Run history database")
	fs.BoolVar(&g.noHistory, "no-history", false, "Do not record run history")
	fs.StringVar(&g.otlp, "otlp-endpoint", "", "OTLP HTTP endpoint for traces (default $OTEL_EXPORTER_OTLP_ENDPOINT)")
	fs.StringVar(&g.metricsFile, "metrics-textfile", "", "Write Prometheus metrics to this file when the command ends")
	return g
}

func newLogger(level, format string, w io.Writer) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
}

// newRegistry returns a registry with every built-in processor type.
func newRegistry() *pipeline.ProcessorRegistry {
	r := pipeline.NewProcessorRegistry()
	processors.Register(r)
	install.Register(r)
	return r
}

// definitionsSource returns the built-in definitions, overlaid with the
// pipelines of path when it is set.
func definitionsSource(path string) config.ConfigSource {
	if path == "" {
		return install.DefaultSource()
	}
	return config.NewCompositeSource(install.DefaultSource(), config.NewFileSource(path))
}

func loadDefinitions(path string) (*config.PipelinesConfig, error) {
	return definitionsSource(path).Load(context.Background())
}

// app holds what a command needs to run pipelines.
type app struct {
	flags   *globalFlags
	logger  *slog.Logger
	manager *pipeline.Manager
	metrics *metrics.Collector
	history *store.SQLiteEventStore
	tracing *tracing.Provider
}

func newApp(ctx context.Context, g *globalFlags) (*app, error) {
	logger, err := newLogger(g.logLevel, g.logFormat, os.Stderr)
	if err != nil {
		return nil, err
	}
	a := &app{flags: g, logger: logger, metrics: metrics.NewCollector()}
	opts := []pipeline.ManagerOption{pipeline.WithLogger(logger), pipeline.WithObserver(a.metrics), pipeline.WithReloadObserver(a.metrics)}

	tcfg := tracing.ConfigFromEnv()
	tcfg.ServiceVersion = version
	if g.otlp != "" {
		tcfg.SetEndpoint(g.otlp)
	}
	if tcfg.Enabled() {
		p, err := tracing.NewProvider(ctx, tcfg)
		if err != nil {
			return nil, err
		}
		a.tracing = p
		opts = append(opts, pipeline.WithTracer(p.PipelineTracer()))
	}

	if !g.noHistory {
		s, err := store.NewSQLiteEventStore(g.history)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("open run history: %w", err)
		}
		a.history = s
		opts = append(opts, pipeline.WithObserver(store.NewRunRecorder(s, logger)))
	}

	a.manager = pipeline.NewManager(newRegistry(), opts...)
	return a, nil
}

// loadPipelines initializes the manager from the built-in definitions and
// the --config overlay.
func (a *app) loadPipelines() error {
	cfg, err := loadDefinitions(a.flags.definitions)
	if err != nil {
		return err
	}
	return a.manager.Initialize(cfg)
}

func (a *app) profile() (*config.Profile, error) {
	return config.ReadProfile(a.flags.profile)
}

// Close flushes metrics and traces and closes the history database.
func (a *app) Close() {
	if a.flags.metricsFile != "" {
		if err := a.metrics.WriteTextfile(a.flags.metricsFile); err != nil {
			a.logger.Warn("Failed to write metrics textfile", "path", a.flags.metricsFile, "error", err)
		}
	}
	if a.tracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.tracing.Shutdown(ctx); err != nil {
			a.logger.Warn("Failed to flush traces", "error", err)
		}
		cancel()
	}
	if a.history != nil {
		_ = a.history.Close()
	}
}

// controller returns the controller for a run. assumeYes selects the
// non-interactive AggregateController; otherwise the console prompts when
// stdin is a terminal. The returned function prints what the run reported
// and releases signal handling.
func (a *app) controller(assumeYes bool) (pipeline.Controller, func()) {
	if assumeYes {
		c := pipeline.NewAggregateController()
		return c, func() {
			for _, msg := range c.Messages() {
				fmt.Fprintln(stdout, msg)
			}
		}
	}
	c := NewConsoleController(os.Stdin, stdout, isTerminal(os.Stdin))
	stop := c.HandleInterrupts()
	return c, stop
}

// run starts name and converts a cooperative abort into errAborted carrying
// the last reported message.
func (a *app) run(ctx context.Context, name string, args pipeline.Args, c pipeline.Controller, opts ...pipeline.RunOption) error {
	if err := a.manager.StartPipeline(ctx, name, args, c, opts...); err != nil {
		return err
	}
	if args.Aborted() {
		msg := name
		if m, ok := c.(interface{ Message() string }); ok && m.Message() != "" {
			msg = m.Message()
		}
		return fmt.Errorf("%w: %s", errAborted, msg)
	}
	return nil
}
