package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCounterRender(t *testing.T) {
	r := New()
	r.Counter("videos_indexed_total", "Videos indexed.").Add(3)

	out := r.Render()
	for _, want := range []string{
		"# HELP videos_indexed_total Videos indexed.",
		"# TYPE videos_indexed_total counter",
		"videos_indexed_total 3",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("render missing %q:\n%s", want, out)
		}
	}
}

func TestCounterIdentity(t *testing.T) {
	r := New()
	a := r.Counter("hits", "")
	b := r.Counter("hits", "")
	a.Inc()
	b.Inc()
	if a.Value() != 2 {
		t.Fatalf("value = %d, same name should return same counter", a.Value())
	}
}

func TestGauge(t *testing.T) {
	r := New()
	g := r.Gauge("inflight", "In-flight requests.")
	g.Set(5)
	g.Inc()
	g.Dec()
	g.Dec()
	if g.Value() != 4 {
		t.Fatalf("gauge = %d, want 4", g.Value())
	}
	if !strings.Contains(r.Render(), "inflight 4") {
		t.Fatal("render missing gauge line")
	}
}

func TestLabeled(t *testing.T) {
	got := Labeled("search_total", "mode", "hybrid", "degraded", "false")
	want := `search_total{mode="hybrid",degraded="false"}`
	if got != want {
		t.Fatalf("Labeled = %s, want %s", got, want)
	}
	if Labeled("x", "odd") != "x" {
		t.Fatal("odd label pairs should be ignored")
	}
}

func TestLabeledSeriesShareTypeLine(t *testing.T) {
	r := New()
	r.Counter(Labeled("search_total", "mode", "keyword"), "Searches.").Inc()
	r.Counter(Labeled("search_total", "mode", "vector"), "Searches.").Add(2)

	out := r.Render()
	if strings.Count(out, "# TYPE search_total counter") != 1 {
		t.Fatalf("want a single TYPE line:\n%s", out)
	}
	if !strings.Contains(out, `search_total{mode="keyword"} 1`) ||
		!strings.Contains(out, `search_total{mode="vector"} 2`) {
		t.Fatalf("missing labeled series:\n%s", out)
	}
}

func TestHistogramCumulativeBuckets(t *testing.T) {
	r := New()
	h := r.Histogram("latency_seconds", "Latency.", []float64{0.1, 1})
	h.Observe(0.05)
	h.Observe(0.05)
	h.Observe(0.5)
	h.Observe(10) // beyond the last bound, only counted in +Inf

	out := r.Render()
	for _, want := range []string{
		`latency_seconds_bucket{le="0.1"} 2`,
		`latency_seconds_bucket{le="1"} 3`,
		`latency_seconds_bucket{le="+Inf"} 4`,
		"latency_seconds_count 4",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("render missing %q:\n%s", want, out)
		}
	}
}

func TestHandler(t *testing.T) {
	r := New()
	r.Counter("ok_total", "").Inc()

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("content type = %s", ct)
	}
	if !strings.Contains(rec.Body.String(), "ok_total 1") {
		t.Fatal("body missing counter")
	}
}
