// Package metrics exports run, step and loop counters to Prometheus.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rendis/autoflow/internal/dispatch"
	"github.com/rendis/autoflow/internal/engine"
	"github.com/rendis/autoflow/pkg/schema"
)

const namespace = "autoflow"

// loopCompleted labels loops that ran out of items.
const loopCompleted = "COMPLETED"

// Collector observes runs, steps and loops. It implements engine.Observer
// and dispatch.RunObserver and owns its registry.
type Collector struct {
	registry *prometheus.Registry

	runs        *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
	steps       *prometheus.CounterVec
	stepLatency *prometheus.HistogramVec
	loops       *prometheus.CounterVec
	iterations  prometheus.Histogram
}

// New creates a Collector with its own registry, including the Go runtime
// and process collectors.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Automation runs by final status.",
		}, []string{"status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of executed automation runs.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Step dispatches by step type and outcome.",
		}, []string{"step_type", "outcome"}),
		stepLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Duration of step function calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"step_type"}),
		loops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loops_total",
			Help:      "Finished loops by termination status.",
		}, []string{"status"}),
		iterations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "loop_iterations",
			Help:      "Body invocations per finished loop.",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 200, 500},
		}),
	}
	c.registry.MustRegister(
		c.runs, c.runDuration, c.steps, c.stepLatency, c.loops, c.iterations,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the registry the collector's metrics live in.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// RunFinished counts a run. Rejected runs never executed and have no
// duration.
func (c *Collector) RunFinished(_, _ string, status schema.RunStatus, d time.Duration) {
	c.runs.WithLabelValues(string(status)).Inc()
	if status != schema.RunStatusRejected {
		c.runDuration.WithLabelValues(string(status)).Observe(d.Seconds())
	}
}

// StepFinished counts a step. Stopped steps were never called.
func (c *Collector) StepFinished(_ context.Context, ev engine.StepEvent) {
	c.steps.WithLabelValues(ev.StepID, ev.Outcome).Inc()
	if ev.Outcome != engine.OutcomeStopped {
		c.stepLatency.WithLabelValues(ev.StepID).Observe(ev.Duration.Seconds())
	}
}

// LoopFinished counts a loop by how it ended.
func (c *Collector) LoopFinished(_ context.Context, ev engine.LoopEvent) {
	status := ev.Status
	if status == "" {
		status = loopCompleted
	}
	c.loops.WithLabelValues(status).Inc()
	c.iterations.Observe(float64(ev.Iterations))
}

// WatchPool exports the pool's counters as gauges.
func (c *Collector) WatchPool(p *dispatch.WorkerPool) {
	gauge := func(name, help string, read func(dispatch.PoolStats) int64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(read(p.Stats())) })
	}
	c.registry.MustRegister(
		gauge("active", "Runs currently executing.", func(s dispatch.PoolStats) int64 { return s.Active }),
		gauge("waiting", "Submissions waiting for a slot.", func(s dispatch.PoolStats) int64 { return s.Waiting }),
		gauge("panics", "Recovered worker panics.", func(s dispatch.PoolStats) int64 { return s.Panics }),
	)
	c.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "pool",
		Name:      "size",
		Help:      "Maximum concurrent runs.",
	}, func() float64 { return float64(p.Size()) }))
}

var (
	_ engine.Observer      = (*Collector)(nil)
	_ dispatch.RunObserver = (*Collector)(nil)
)
