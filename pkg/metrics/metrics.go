// Package metrics holds the Prometheus instrumentation for tool calls,
// process runs and backups.
package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace   = "execbridge"
	maxLabelLen = 64
)

// Recorder owns a private registry so independent servers (and tests) never
// collide on metric registration. A nil *Recorder records nothing.
type Recorder struct {
	registry *prometheus.Registry

	toolCalls       *prometheus.CounterVec
	toolDuration    *prometheus.HistogramVec
	processRuns     *prometheus.CounterVec
	processDuration *prometheus.HistogramVec
	backups         *prometheus.CounterVec
	unsafeBlocks    *prometheus.CounterVec
}

func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		toolCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "tool",
				Name:      "calls_total",
				Help:      "Tool calls by tool name and outcome",
			},
			[]string{"tool", "outcome"},
		),
		toolDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "tool",
				Name:      "call_duration_seconds",
				Help:      "Tool call latency by tool name",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"tool"},
		),
		processRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "process",
				Name:      "runs_total",
				Help:      "External process runs by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		processDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "process",
				Name:      "duration_seconds",
				Help:      "Wall-clock lifetime of external processes by kind",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
			},
			[]string{"kind"},
		),
		backups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "backup",
				Name:      "created_total",
				Help:      "Backups written before a mutating file operation, by tag",
			},
			[]string{"tag"},
		),
		unsafeBlocks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "safety",
				Name:      "blocked_total",
				Help:      "Inline code rejected by the safety filter, by rule",
			},
			[]string{"rule"},
		),
	}
	r.registry.MustRegister(
		r.toolCalls,
		r.toolDuration,
		r.processRuns,
		r.processDuration,
		r.backups,
		r.unsafeBlocks,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// ToolCalled records one finished tool call. outcome is "ok" or an error kind.
func (r *Recorder) ToolCalled(tool, outcome string, elapsed time.Duration) {
	if r == nil {
		return
	}
	tool = sanitizeLabel(tool)
	r.toolCalls.WithLabelValues(tool, sanitizeLabel(outcome)).Inc()
	r.toolDuration.WithLabelValues(tool).Observe(elapsed.Seconds())
}

// ProcessFinished satisfies exec.Observer.
func (r *Recorder) ProcessFinished(kind, outcome string, elapsed time.Duration) {
	if r == nil {
		return
	}
	kind = sanitizeLabel(kind)
	r.processRuns.WithLabelValues(kind, sanitizeLabel(outcome)).Inc()
	r.processDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// BackupCreated satisfies backup.Observer.
func (r *Recorder) BackupCreated(tag string) {
	if r == nil {
		return
	}
	r.backups.WithLabelValues(sanitizeLabel(tag)).Inc()
}

func (r *Recorder) UnsafeCodeBlocked(rule string) {
	if r == nil {
		return
	}
	r.unsafeBlocks.WithLabelValues(sanitizeLabel(rule)).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

func sanitizeLabel(s string) string {
	if s == "" {
		return "unknown"
	}
	s = strings.ReplaceAll(s, " ", "_")
	if len(s) > maxLabelLen {
		s = s[:maxLabelLen]
	}
	return s
}
