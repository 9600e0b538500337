// Package metrics is a small Prometheus-text-format metrics registry built on
// the standard library. Counters, gauges, and histograms are registered by
// name (labels baked in via Labeled) and exposed on an HTTP /metrics endpoint.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultBuckets are the default histogram buckets, in seconds.
var DefaultBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// Counter is a monotonically increasing counter.
type Counter struct{ v atomic.Int64 }

func (c *Counter) Inc()         { c.v.Add(1) }
func (c *Counter) Add(n int64)  { c.v.Add(n) }
func (c *Counter) Value() int64 { return c.v.Load() }

// Gauge can go up and down.
type Gauge struct{ v atomic.Int64 }

func (g *Gauge) Set(n int64)  { g.v.Store(n) }
func (g *Gauge) Inc()         { g.v.Add(1) }
func (g *Gauge) Dec()         { g.v.Add(-1) }
func (g *Gauge) Value() int64 { return g.v.Load() }

// Histogram tracks a value distribution over fixed buckets.
type Histogram struct {
	mu      sync.Mutex
	bounds  []float64
	counts  []uint64
	sum     float64
	samples uint64
}

func newHistogram(bounds []float64) *Histogram {
	b := make([]float64, len(bounds))
	copy(b, bounds)
	sort.Float64s(b)
	return &Histogram{bounds: b, counts: make([]uint64, len(b))}
}

// Observe records a value in the first bucket it fits.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	h.sum += v
	h.samples++
	for i, b := range h.bounds {
		if v <= b {
			h.counts[i]++
			break
		}
	}
	h.mu.Unlock()
}

// Since observes the duration since t, in seconds.
func (h *Histogram) Since(t time.Time) {
	h.Observe(time.Since(t).Seconds())
}

func (h *Histogram) snapshot() (bounds []float64, counts []uint64, sum float64, samples uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	counts = make([]uint64, len(h.counts))
	copy(counts, h.counts)
	return h.bounds, counts, h.sum, h.samples
}

type kind string

const (
	kindCounter   kind = "counter"
	kindGauge     kind = "gauge"
	kindHistogram kind = "histogram"
)

// series is one named metric instance (labels included in the name).
type series struct {
	name string // full name, e.g. chunks_indexed_total{focus="go"}
	kind kind
	c    *Counter
	g    *Gauge
	h    *Histogram
}

// Registry holds named metrics and renders them in exposition format.
type Registry struct {
	mu     sync.RWMutex
	series map[string]*series
	help   map[string]string // keyed by base name
	order  []string          // base names in first-registration order
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		series: make(map[string]*series),
		help:   make(map[string]string),
	}
}

func (r *Registry) register(name string, k kind, help string) *series {
	if s, ok := r.series[name]; ok {
		return s
	}
	base := baseName(name)
	if _, seen := r.help[base]; !seen {
		r.order = append(r.order, base)
		r.help[base] = help
	}
	s := &series{name: name, kind: k}
	r.series[name] = s
	return s
}

// Counter returns (or creates) the named counter.
func (r *Registry) Counter(name, help string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.register(name, kindCounter, help)
	if s.c == nil {
		s.c = &Counter{}
	}
	return s.c
}

// Gauge returns (or creates) the named gauge.
func (r *Registry) Gauge(name, help string) *Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.register(name, kindGauge, help)
	if s.g == nil {
		s.g = &Gauge{}
	}
	return s.g
}

// Histogram returns (or creates) the named histogram. Nil buckets use DefaultBuckets.
func (r *Registry) Histogram(name, help string, buckets []float64) *Histogram {
	if buckets == nil {
		buckets = DefaultBuckets
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.register(name, kindHistogram, help)
	if s.h == nil {
		s.h = newHistogram(buckets)
	}
	return s.h
}

// Labeled bakes label pairs into a metric name: Labeled("hits", "mode", "hybrid")
// returns `hits{mode="hybrid"}`.
func Labeled(name string, kvs ...string) string {
	if len(kvs) == 0 || len(kvs)%2 != 0 {
		return name
	}
	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i := 0; i < len(kvs); i += 2 {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s=%q", kvs[i], kvs[i+1])
	}
	b.WriteByte('}')
	return b.String()
}

func baseName(name string) string {
	if i := strings.IndexByte(name, '{'); i != -1 {
		return name[:i]
	}
	return name
}

// labelSuffix returns the labels of a full name as `,k="v"` for bucket lines,
// and as `{k="v"}` via wrap for sum/count lines.
func labelSuffix(name string) string {
	i := strings.IndexByte(name, '{')
	if i == -1 {
		return ""
	}
	inner := name[i+1 : len(name)-1]
	if inner == "" {
		return ""
	}
	return "," + inner
}

func wrap(suffix string) string {
	if suffix == "" {
		return ""
	}
	return "{" + suffix[1:] + "}"
}

// Render returns the registry in Prometheus text exposition format.
func (r *Registry) Render() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byBase := make(map[string][]*series)
	for _, s := range r.series {
		base := baseName(s.name)
		byBase[base] = append(byBase[base], s)
	}

	var b strings.Builder
	for _, base := range r.order {
		group := byBase[base]
		sort.Slice(group, func(i, j int) bool { return group[i].name < group[j].name })

		if help := r.help[base]; help != "" {
			fmt.Fprintf(&b, "# HELP %s %s\n", base, help)
		}
		fmt.Fprintf(&b, "# TYPE %s %s\n", base, group[0].kind)

		for _, s := range group {
			switch s.kind {
			case kindCounter:
				fmt.Fprintf(&b, "%s %d\n", s.name, s.c.Value())
			case kindGauge:
				fmt.Fprintf(&b, "%s %d\n", s.name, s.g.Value())
			case kindHistogram:
				bounds, counts, sum, samples := s.h.snapshot()
				labels := labelSuffix(s.name)
				var cumulative uint64
				for i, bound := range bounds {
					cumulative += counts[i]
					fmt.Fprintf(&b, "%s_bucket{le=\"%g\"%s} %d\n", base, bound, labels, cumulative)
				}
				fmt.Fprintf(&b, "%s_bucket{le=\"+Inf\"%s} %d\n", base, labels, samples)
				fmt.Fprintf(&b, "%s_sum%s %g\n", base, wrap(labels), sum)
				fmt.Fprintf(&b, "%s_count%s %d\n", base, wrap(labels), samples)
			}
		}
	}
	return b.String()
}

// Handler serves the registry at /metrics.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		w.Write([]byte(r.Render()))
	})
}

// Serve blocks serving /metrics on the given port. For headless binaries that
// have no HTTP server of their own.
func (r *Registry) Serve(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	return http.ListenAndServe(fmt.Sprintf(":%d", port), mux)
}

// ServeAsync starts Serve in a goroutine.
func (r *Registry) ServeAsync(port int) {
	go func() {
		if err := r.Serve(port); err != nil {
			fmt.Printf("metrics server error on port %d: %v\n", port, err)
		}
	}()
}
