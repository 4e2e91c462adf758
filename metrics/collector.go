// Package metrics exposes pipeline run statistics as Prometheus metrics.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GoCodeAlone/provision/config"
	"github.com/GoCodeAlone/provision/pipeline"
)

// Config holds naming options for a Collector.
type Config struct {
	Namespace string `yaml:"namespace" json:"namespace"`
	Subsystem string `yaml:"subsystem" json:"subsystem"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{Namespace: "provctl"}
}

// Collector records pipeline runs and definition reloads into its own
// Prometheus registry. It implements pipeline.RunObserver and
// pipeline.ReloadObserver.
type Collector struct {
	registry *prometheus.Registry

	RunsTotal         *prometheus.CounterVec
	RunDuration       *prometheus.HistogramVec
	ProcessorsTotal   *prometheus.CounterVec
	ProcessorDuration *prometheus.HistogramVec
	MessagesTotal     *prometheus.CounterVec
	ActiveRuns        *prometheus.GaugeVec
	ReloadsTotal      *prometheus.CounterVec
	PipelinesDefined  prometheus.Gauge
}

// NewCollector creates a Collector with DefaultConfig.
func NewCollector() *Collector {
	return NewCollectorWithConfig(DefaultConfig())
}

// NewCollectorWithConfig creates a Collector with the given naming.
func NewCollectorWithConfig(cfg Config) *Collector {
	reg := prometheus.NewRegistry()
	ns, sub := cfg.Namespace, cfg.Subsystem

	c := &Collector{
		registry: reg,
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "pipeline_runs_total",
			Help:      "Total number of pipeline runs by outcome",
		}, []string{"pipeline", "status"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "pipeline_run_duration_seconds",
			Help:      "Duration of pipeline runs in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"pipeline"}),
		ProcessorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "processor_invocations_total",
			Help:      "Total number of processor invocations by result",
		}, []string{"pipeline", "processor", "result"}),
		ProcessorDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "processor_duration_seconds",
			Help:      "Duration of processor invocations in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"processor"}),
		MessagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "messages_reported_total",
			Help:      "Total number of messages reported to controllers",
		}, []string{"pipeline"}),
		ActiveRuns: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "active_runs",
			Help:      "Number of pipeline runs in progress",
		}, []string{"pipeline"}),
		ReloadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "definition_reloads_total",
			Help:      "Total number of pipeline definition reloads by result",
		}, []string{"result"}),
		PipelinesDefined: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "pipelines_defined",
			Help:      "Number of pipeline definitions currently loaded",
		}),
	}
	reg.MustRegister(c.RunsTotal, c.RunDuration, c.ProcessorsTotal, c.ProcessorDuration, c.MessagesTotal, c.ActiveRuns,
		c.ReloadsTotal, c.PipelinesDefined)
	return c
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler returns an HTTP handler that serves the collector's metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// WriteTextfile writes the current metrics in the text exposition format,
// suitable for the node exporter textfile collector.
func (c *Collector) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, c.registry)
}

func (c *Collector) RunStarted(_ context.Context, run pipeline.RunInfo) {
	c.ActiveRuns.WithLabelValues(run.Pipeline).Inc()
}

func (c *Collector) ProcessorStarted(context.Context, pipeline.RunInfo, int, int, string) {}

func (c *Collector) ProcessorFinished(_ context.Context, run pipeline.RunInfo, _, _ int, processorType string, result pipeline.Result, elapsed time.Duration, err error) {
	outcome := result.String()
	if err != nil {
		outcome = "error"
	}
	c.ProcessorsTotal.WithLabelValues(run.Pipeline, processorType, outcome).Inc()
	c.ProcessorDuration.WithLabelValues(processorType).Observe(elapsed.Seconds())
}

func (c *Collector) MessageReported(_ context.Context, run pipeline.RunInfo, _ string) {
	c.MessagesTotal.WithLabelValues(run.Pipeline).Inc()
}

func (c *Collector) RunFinished(_ context.Context, run pipeline.RunInfo, status pipeline.RunStatus, elapsed time.Duration, _ error) {
	c.ActiveRuns.WithLabelValues(run.Pipeline).Dec()
	c.RunsTotal.WithLabelValues(run.Pipeline, string(status)).Inc()
	c.RunDuration.WithLabelValues(run.Pipeline).Observe(elapsed.Seconds())
}

// DefinitionsReloaded counts the reload and tracks the number of loaded
// definitions.
func (c *Collector) DefinitionsReloaded(_ *config.PipelineDiff, total int, err error) {
	result := "applied"
	if err != nil {
		result = "rejected"
	}
	c.ReloadsTotal.WithLabelValues(result).Inc()
	c.PipelinesDefined.Set(float64(total))
}

var (
	_ pipeline.RunObserver    = (*Collector)(nil)
	_ pipeline.ReloadObserver = (*Collector)(nil)
)
