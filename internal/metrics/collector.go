// Package metrics collects simulation counters and renders them in the
// Prometheus text exposition format.
package metrics

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Counter only goes up.
type Counter struct {
	name, help, labels string
	value              atomic.Int64
}

func (c *Counter) Inc()         { c.value.Add(1) }
func (c *Counter) Add(n int64)  { c.value.Add(n) }
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge is a value that can go up and down.
type Gauge struct {
	name, help, labels string
	value              atomic.Int64
}

func (g *Gauge) Set(v int64)  { g.value.Store(v) }
func (g *Gauge) Value() int64 { return g.value.Load() }

// Histogram counts observations into cumulative buckets.
type Histogram struct {
	name, help, labels string

	mu      sync.Mutex
	count   int64
	sum     float64
	bounds  []float64
	buckets []int64
}

func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i, le := range h.bounds {
		if v <= le {
			h.buckets[i]++
		}
	}
}

// Count returns the number of observations.
func (h *Histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Collector owns a set of named metrics. Metrics are created on first use
// and shared by name and labels afterwards.
type Collector struct {
	namespace string
	start     time.Time

	mu         sync.Mutex
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram
}

// New returns a collector whose metric names are prefixed with namespace.
func New(namespace string) *Collector {
	return &Collector{
		namespace:  namespace,
		start:      time.Now(),
		counters:   make(map[string]*Counter),
		gauges:     make(map[string]*Gauge),
		histograms: make(map[string]*Histogram),
	}
}

func (c *Collector) fullName(name string) string {
	if c.namespace == "" {
		return name
	}
	return c.namespace + "_" + name
}

func (c *Collector) Counter(name, help, labels string) *Counter {
	name = c.fullName(name)
	key := name + "{" + labels + "}"
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctr, ok := c.counters[key]; ok {
		return ctr
	}
	ctr := &Counter{name: name, help: help, labels: labels}
	c.counters[key] = ctr
	return ctr
}

func (c *Collector) Gauge(name, help, labels string) *Gauge {
	name = c.fullName(name)
	key := name + "{" + labels + "}"
	c.mu.Lock()
	defer c.mu.Unlock()
	if g, ok := c.gauges[key]; ok {
		return g
	}
	g := &Gauge{name: name, help: help, labels: labels}
	c.gauges[key] = g
	return g
}

func (c *Collector) Histogram(name, help, labels string, bounds []float64) *Histogram {
	name = c.fullName(name)
	key := name + "{" + labels + "}"
	c.mu.Lock()
	defer c.mu.Unlock()
	if h, ok := c.histograms[key]; ok {
		return h
	}
	b := append([]float64(nil), bounds...)
	sort.Float64s(b)
	h := &Histogram{name: name, help: help, labels: labels, bounds: b, buckets: make([]int64, len(b))}
	c.histograms[key] = h
	return h
}

// Render writes every metric, sorted by name and labels.
func (c *Collector) Render() string {
	c.mu.Lock()
	counters := sortedValues(c.counters)
	gauges := sortedValues(c.gauges)
	histograms := sortedValues(c.histograms)
	c.mu.Unlock()

	var b strings.Builder
	uptime := c.fullName("uptime_seconds")
	header(&b, uptime, "Seconds since the flat opened", "gauge")
	fmt.Fprintf(&b, "%s %d\n", uptime, int64(time.Since(c.start).Seconds()))

	seen := make(map[string]bool)
	for _, ctr := range counters {
		if !seen[ctr.name] {
			header(&b, ctr.name, ctr.help, "counter")
			seen[ctr.name] = true
		}
		fmt.Fprintf(&b, "%s %d\n", series(ctr.name, ctr.labels), ctr.Value())
	}
	for _, g := range gauges {
		if !seen[g.name] {
			header(&b, g.name, g.help, "gauge")
			seen[g.name] = true
		}
		fmt.Fprintf(&b, "%s %d\n", series(g.name, g.labels), g.Value())
	}
	for _, h := range histograms {
		if !seen[h.name] {
			header(&b, h.name, h.help, "histogram")
			seen[h.name] = true
		}
		h.mu.Lock()
		for i, le := range h.bounds {
			fmt.Fprintf(&b, "%s %d\n", series(h.name+"_bucket", join(h.labels, `le="`+formatBound(le)+`"`)), h.buckets[i])
		}
		fmt.Fprintf(&b, "%s %d\n", series(h.name+"_bucket", join(h.labels, `le="+Inf"`)), h.count)
		fmt.Fprintf(&b, "%s %d\n", series(h.name+"_count", h.labels), h.count)
		fmt.Fprintf(&b, "%s %g\n", series(h.name+"_sum", h.labels), h.sum)
		h.mu.Unlock()
	}
	return b.String()
}

// Handler serves Render.
func (c *Collector) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		fmt.Fprint(w, c.Render())
	})
}

func header(b *strings.Builder, name, help, kind string) {
	fmt.Fprintf(b, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, kind)
}

func series(name, labels string) string {
	if labels == "" {
		return name
	}
	return name + "{" + labels + "}"
}

func join(a, b string) string {
	if a == "" {
		return b
	}
	return a + "," + b
}

func formatBound(v float64) string {
	if math.IsInf(v, 1) {
		return "+Inf"
	}
	return fmt.Sprintf("%g", v)
}

func sortedValues[T any](m map[string]T) []T {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]T, 0, len(keys))
	for _, k := range keys {
		out = append(out, m[k])
	}
	return out
}
