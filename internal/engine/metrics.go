package engine

import (
	"time"

	"flatshare/internal/metrics"
)

var latencyBuckets = []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30}

type turnMetrics struct {
	c *metrics.Collector

	userTurns   *metrics.Counter
	banterTurns *metrics.Counter
	backups     *metrics.Counter
	blocked     *metrics.Counter
	pending     *metrics.Gauge
	streak      *metrics.Gauge
	latency     *metrics.Histogram
}

func newTurnMetrics(c *metrics.Collector) *turnMetrics {
	return &turnMetrics{
		c:           c,
		userTurns:   c.Counter("turns_total", "Committed turns", `kind="user"`),
		banterTurns: c.Counter("turns_total", "Committed turns", `kind="banter"`),
		backups:     c.Counter("backup_lines_total", "Lines replaced by a backup after a failed generation", ""),
		blocked:     c.Counter("blocked_lines_total", "Lines the safety filter rewrote", ""),
		pending:     c.Gauge("pending_evaluations", "Turns waiting for a user reaction", ""),
		streak:      c.Gauge("failure_streak", "Consecutive turns where every generation failed", ""),
		latency:     c.Histogram("generation_seconds", "Generation call latency", "", latencyBuckets),
	}
}

func (m *turnMetrics) line(strategy string) {
	m.c.Counter("lines_total", "Delivered lines by strategy", `strategy="`+strategy+`"`).Inc()
}

func (m *turnMetrics) observe(d time.Duration) { m.latency.Observe(d.Seconds()) }

// Metrics returns the collector the engine reports to.
func (e *Engine) Metrics() *metrics.Collector { return e.metrics.c }
