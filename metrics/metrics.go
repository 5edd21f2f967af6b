// Package metrics exports lifecycle diagnostics as Prometheus metrics.
//
// Collector wraps a diag.Sink so every warning and swallowed error is
// counted by source, and observes resource tables to count lifecycle events
// and track live handles.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/wippyai/lifecycle/diag"
	"github.com/wippyai/lifecycle/resource"
	"github.com/wippyai/lifecycle/trace"
)

const (
	namespace      = "lifecycle"
	diagSubsystem  = "diag"
	tableSubsystem = "table"
)

// Collector holds the lifecycle metrics registered with one registerer.
type Collector struct {
	// Warnings counts leak and protocol warnings.
	// Labels: source (counter, closeable, refcounted, ...)
	Warnings *prometheus.CounterVec

	// Suppressed counts errors reported at debug level instead of returned.
	// Labels: source
	Suppressed *prometheus.CounterVec

	// Events counts resource table events.
	// Labels: table, event (created, removed, dropped, borrowed, borrow_returned)
	Events *prometheus.CounterVec

	// DropFailures counts teardowns that returned an error.
	// Labels: table
	DropFailures *prometheus.CounterVec

	// Live tracks handles inserted and not yet removed.
	// Labels: table
	Live *prometheus.GaugeVec
}

// New registers the lifecycle metrics with reg. A nil reg registers with
// prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Collector{
		Warnings: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: diagSubsystem,
			Name:      "warnings_total",
			Help:      "Leak and ownership protocol warnings by source",
		}, []string{"source"}),
		Suppressed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: diagSubsystem,
			Name:      "suppressed_errors_total",
			Help:      "Errors reported at debug level instead of returned, by source",
		}, []string{"source"}),
		Events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: tableSubsystem,
			Name:      "events_total",
			Help:      "Resource table lifecycle events",
		}, []string{"table", "event"}),
		DropFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: tableSubsystem,
			Name:      "drop_failures_total",
			Help:      "Resource teardowns that returned an error",
		}, []string{"table"}),
		Live: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: tableSubsystem,
			Name:      "live_handles",
			Help:      "Handles inserted and not yet removed",
		}, []string{"table"}),
	}
}

// Sink returns a diag.Sink that counts every diagnostic before passing it
// to next. A nil next only counts.
func (c *Collector) Sink(next diag.Sink) diag.Sink {
	return &sink{c: c, next: next}
}

type sink struct {
	c    *Collector
	next diag.Sink
}

func (s *sink) Warn(source, msg string, st *trace.StackTrace) {
	s.c.Warnings.WithLabelValues(source).Inc()
	if s.next != nil {
		s.next.Warn(source, msg, st)
	}
}

func (s *sink) Debug(source, msg string, err error) {
	s.c.Suppressed.WithLabelValues(source).Inc()
	if s.next != nil {
		s.next.Debug(source, msg, err)
	}
}

// Observe subscribes to table and records its events under the given
// label. The returned function unsubscribes.
func (c *Collector) Observe(table *resource.Table, label string) func() {
	o := &observer{c: c, table: label}
	table.Subscribe(o)
	return func() { table.Unsubscribe(o) }
}

type observer struct {
	c     *Collector
	table string
}

func (o *observer) OnResourceEvent(e resource.Event) {
	o.c.Events.WithLabelValues(o.table, e.Type.String()).Inc()

	switch e.Type {
	case resource.EventCreated:
		o.c.Live.WithLabelValues(o.table).Inc()
	case resource.EventRemoved:
		o.c.Live.WithLabelValues(o.table).Dec()
	case resource.EventDropped:
		if e.Err != nil {
			o.c.DropFailures.WithLabelValues(o.table).Inc()
		}
	}
}
