package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestCounter(t *testing.T) {
	c := NewCounter("test_counter_total", "test counter")
	if c.Value() != 0 {
		t.Errorf("initial value = %d", c.Value())
	}
	c.Inc()
	c.Add(4)
	if c.Value() != 5 {
		t.Errorf("value = %d, want 5", c.Value())
	}
}

func TestGauge(t *testing.T) {
	g := NewGauge("test_gauge", "test gauge")
	g.Set(10)
	g.Inc()
	g.Dec()
	g.Dec()
	if g.Value() != 9 {
		t.Errorf("value = %d, want 9", g.Value())
	}
}

func TestHistogram(t *testing.T) {
	h := NewHistogram("test_histogram_seconds", "test histogram", []float64{0.01, 0.1, 1})
	h.Observe(0.005)
	h.Observe(0.05)
	h.Observe(5)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count != 3 {
		t.Errorf("count = %d, want 3", h.count)
	}
	if h.counts[0] != 1 || h.counts[1] != 2 || h.counts[2] != 2 {
		t.Errorf("bucket counts = %v", h.counts)
	}
}

func TestHistogram_ObserveSince(t *testing.T) {
	h := NewHistogram("test_histogram_since_seconds", "test", DefaultLatencyBuckets)
	h.ObserveSince(time.Now().Add(-10 * time.Millisecond))

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count != 1 {
		t.Errorf("count = %d, want 1", h.count)
	}
	if h.sum < 0.01 {
		t.Errorf("sum = %g, want >= 0.01", h.sum)
	}
}

func TestVec_SharedFamilies(t *testing.T) {
	v := NewGaugeVec("test_vec_gauge", "per-pool gauge", "pool")
	a := v.With("a")
	b := v.With("b")
	a.Set(1)
	b.Set(2)

	if v.With("a") != a {
		t.Error("With should return the same series for the same label")
	}

	out := defaultRegistry.Expose()
	if !strings.Contains(out, `test_vec_gauge{pool="a"} 1`) {
		t.Errorf("missing series a:\n%s", out)
	}
	if !strings.Contains(out, `test_vec_gauge{pool="b"} 2`) {
		t.Errorf("missing series b:\n%s", out)
	}
	if strings.Count(out, "# HELP test_vec_gauge ") != 1 {
		t.Error("family header should appear once")
	}

	v.Remove("a")
	out = defaultRegistry.Expose()
	if strings.Contains(out, `test_vec_gauge{pool="a"}`) {
		t.Error("removed series still exposed")
	}
}

func TestVec_RemoveDropsAllFamilyKinds(t *testing.T) {
	cv := NewCounterVec("test_remove_counter_total", "per-pool counter", "pool")
	hv := NewHistogramVec("test_remove_hist_seconds", "per-pool latency", "pool", []float64{1})
	cv.With("x").Inc()
	hv.With("x").Observe(0.5)

	out := Expose()
	if !strings.Contains(out, `test_remove_counter_total{pool="x"} 1`) {
		t.Errorf("missing counter series:\n%s", out)
	}
	if !strings.Contains(out, `test_remove_hist_seconds_count{pool="x"} 1`) {
		t.Errorf("missing histogram series:\n%s", out)
	}

	cv.Remove("x")
	hv.Remove("x")
	out = Expose()
	if strings.Contains(out, `pool="x"`) {
		t.Errorf("removed series still exposed:\n%s", out)
	}
}

func TestExpose_HistogramFormat(t *testing.T) {
	v := NewHistogramVec("test_expose_hist_seconds", "latency", "pool", []float64{0.1, 1})
	v.With("p").Observe(0.05)
	v.With("p").Observe(2)

	out := defaultRegistry.Expose()
	for _, want := range []string{
		`# TYPE test_expose_hist_seconds histogram`,
		`test_expose_hist_seconds_bucket{pool="p",le="0.1"} 1`,
		`test_expose_hist_seconds_bucket{pool="p",le="1"} 1`,
		`test_expose_hist_seconds_bucket{pool="p",le="+Inf"} 2`,
		`test_expose_hist_seconds_count{pool="p"} 2`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("exposition missing %q:\n%s", want, out)
		}
	}
}

func TestHandler(t *testing.T) {
	NewCounter("test_handler_total", "handler test").Inc()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	Handler().ServeHTTP(rec, req)

	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "test_handler_total 1") {
		t.Error("handler output missing counter")
	}
}

func TestRecordStartTime(t *testing.T) {
	RecordStartTime()
	if StartTime.Value() == 0 {
		t.Error("start time not recorded")
	}
}
