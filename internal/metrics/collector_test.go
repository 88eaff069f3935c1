package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCollector_SameNameAndLabelsShareAMetric(t *testing.T) {
	c := New("flatshare")
	a := c.Counter("turns_total", "Turns", `kind="user"`)
	b := c.Counter("turns_total", "Turns", `kind="user"`)
	other := c.Counter("turns_total", "Turns", `kind="banter"`)
	a.Inc()
	b.Add(2)
	other.Inc()

	if a != b {
		t.Fatal("expected the same counter")
	}
	if a.Value() != 3 || other.Value() != 1 {
		t.Fatalf("unexpected values %d %d", a.Value(), other.Value())
	}
}

func TestCollector_RenderPrometheusText(t *testing.T) {
	c := New("flatshare")
	c.Counter("turns_total", "Turns", `kind="user"`).Add(4)
	c.Counter("turns_total", "Turns", `kind="banter"`).Inc()
	c.Gauge("pending_evaluations", "Pending", "").Set(2)
	h := c.Histogram("generation_seconds", "Latency", "", []float64{1, 0.5})
	h.Observe(0.2)
	h.Observe(0.7)
	h.Observe(3)

	out := c.Render()
	for _, want := range []string{
		"# TYPE flatshare_turns_total counter",
		`flatshare_turns_total{kind="user"} 4`,
		`flatshare_turns_total{kind="banter"} 1`,
		"# TYPE flatshare_pending_evaluations gauge",
		"flatshare_pending_evaluations 2",
		`flatshare_generation_seconds_bucket{le="0.5"} 1`,
		`flatshare_generation_seconds_bucket{le="1"} 2`,
		`flatshare_generation_seconds_bucket{le="+Inf"} 3`,
		"flatshare_generation_seconds_count 3",
		"flatshare_uptime_seconds",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
	if strings.Count(out, "# HELP flatshare_turns_total") != 1 {
		t.Fatalf("expected one header per metric name:\n%s", out)
	}
	if strings.Index(out, `kind="banter"`) > strings.Index(out, `kind="user"`) {
		t.Fatal("expected series sorted by labels")
	}
}

func TestCollector_Handler(t *testing.T) {
	c := New("")
	c.Counter("hits", "Hits", "").Inc()

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	if !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain") {
		t.Fatalf("unexpected content type %q", rec.Header().Get("Content-Type"))
	}
	if !strings.Contains(string(body), "\nhits 1\n") {
		t.Fatalf("unexpected body:\n%s", body)
	}
}
