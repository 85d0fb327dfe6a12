// Package metric adapts the teacher's pkg/util/metric (Metadata + typed
// Counter/Gauge wrappers registered into a Registry) onto
// github.com/prometheus/client_golang, the concrete metrics library the
// teacher's Registry ultimately exports through.
package metric

import "github.com/prometheus/client_golang/prometheus"

// Metadata describes a metric the way the teacher's pkg/util/metric.Metadata
// does: a stable name and a human help string (no unit field).
type Metadata struct {
	Name string
	Help string
}

// Counter wraps a prometheus.Counter behind an Inc()/Add() surface, keeping call sites in pkg/driver free of the prometheus import.
type Counter struct {
	metadata Metadata
	c        prometheus.Counter
}

// NewCounter constructs an unregistered Counter.
func NewCounter(meta Metadata) *Counter {
	return &Counter{
		metadata: meta,
		c: prometheus.NewCounter(prometheus.CounterOpts{
			Name: meta.Name,
			Help: meta.Help,
		}),
	}
}

// Inc increments the counter by one.
func (c *Counter) Inc() { c.c.Inc() }

// Add increments the counter by n.
func (c *Counter) Add(n int) {
	if n <= 0 {
		return
	}
	c.c.Add(float64(n))
}

// CounterVec wraps a prometheus.CounterVec, used where a metric needs to
// be broken down by one or more labels (e.g. message type, replica id)
// rather than kept as a single flat total.
type CounterVec struct {
	metadata Metadata
	v        *prometheus.CounterVec
}

// NewCounterVec constructs an unregistered CounterVec with the given label
// names. Every WithLabelValues call must supply exactly len(labels) values,
// in the same order.
func NewCounterVec(meta Metadata, labels []string) *CounterVec {
	return &CounterVec{
		metadata: meta,
		v: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: meta.Name,
			Help: meta.Help,
		}, labels),
	}
}

// WithLabelValues returns the child series for labelValues, creating it on
// first use.
func (cv *CounterVec) WithLabelValues(labelValues ...string) *Counter {
	return &Counter{metadata: cv.metadata, c: cv.v.WithLabelValues(labelValues...)}
}

// Gauge wraps a prometheus.Gauge.
type Gauge struct {
	metadata Metadata
	g        prometheus.Gauge
}

// NewGauge constructs an unregistered Gauge.
func NewGauge(meta Metadata) *Gauge {
	return &Gauge{
		metadata: meta,
		g: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: meta.Name,
			Help: meta.Help,
		}),
	}
}

// Update sets the gauge to v.
func (g *Gauge) Update(v float64) { g.g.Set(v) }

// Inc increments the gauge by one.
func (g *Gauge) Inc() { g.g.Inc() }

// Dec decrements the gauge by one.
func (g *Gauge) Dec() { g.g.Dec() }

// Histogram wraps a prometheus.Histogram, used for the driver's per-entry
// commit-to-apply latency.
type Histogram struct {
	metadata Metadata
	h        prometheus.Histogram
}

// NewHistogram constructs an unregistered Histogram with the given bucket
// boundaries (seconds).
func NewHistogram(meta Metadata, buckets []float64) *Histogram {
	return &Histogram{
		metadata: meta,
		h: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    meta.Name,
			Help:    meta.Help,
			Buckets: buckets,
		}),
	}
}

// Observe records a single sample.
func (h *Histogram) Observe(v float64) { h.h.Observe(v) }

// Registry collects the driver's metrics and exposes them to a
// prometheus.Registerer, mirroring the teacher's metric.Registry.
type Registry struct {
	reg *prometheus.Registry
}

// NewRegistry returns an empty Registry backed by a fresh
// prometheus.Registry (not the global DefaultRegisterer, so that multiple
// drivers in one process, as in the driver's own tests, don't collide on
// metric names).
func NewRegistry() *Registry {
	return &Registry{reg: prometheus.NewRegistry()}
}

// AddMetric registers m (a *Counter, *CounterVec, *Gauge, or *Histogram)
// into the registry's prometheus collector set; any other type is ignored.
func (r *Registry) AddMetric(m interface{}) {
	switch v := m.(type) {
	case *Counter:
		r.reg.MustRegister(v.c)
	case *CounterVec:
		r.reg.MustRegister(v.v)
	case *Gauge:
		r.reg.MustRegister(v.g)
	case *Histogram:
		r.reg.MustRegister(v.h)
	}
}

// Gatherer exposes the underlying prometheus.Gatherer for wiring into an
// HTTP /metrics handler.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }
