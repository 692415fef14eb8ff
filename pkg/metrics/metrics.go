// Package metrics is a small registry of counters, gauges and histograms that
// renders the Prometheus text exposition format. A nil *Registry is valid and
// hands out detached metrics, so components can take one optionally.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/storyrag/storyrag/pkg/mid"
)

// DefaultBuckets are latency buckets in seconds.
var DefaultBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// Counter only goes up.
type Counter struct{ v atomic.Int64 }

func (c *Counter) Inc()         { c.v.Add(1) }
func (c *Counter) Add(n int64)  { c.v.Add(n) }
func (c *Counter) Value() int64 { return c.v.Load() }

// Gauge holds a current value.
type Gauge struct{ v atomic.Int64 }

func (g *Gauge) Set(n int64)  { g.v.Store(n) }
func (g *Gauge) Add(n int64)  { g.v.Add(n) }
func (g *Gauge) Value() int64 { return g.v.Load() }

// Histogram counts observations into fixed upper-bound buckets.
type Histogram struct {
	mu     sync.Mutex
	bounds []float64
	counts []uint64
	sum    float64
	n      uint64
}

func newHistogram(bounds []float64) *Histogram {
	b := append([]float64(nil), bounds...)
	sort.Float64s(b)
	return &Histogram{bounds: b, counts: make([]uint64, len(b))}
}

// Observe records v.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sum += v
	h.n++
	if i := sort.SearchFloat64s(h.bounds, v); i < len(h.bounds) {
		h.counts[i]++
	}
}

// Since observes the seconds elapsed since start.
func (h *Histogram) Since(start time.Time) { h.Observe(time.Since(start).Seconds()) }

// Count returns the number of observations.
func (h *Histogram) Count() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.n
}

type family struct {
	kind   string
	help   string
	series map[string]any
}

// Registry holds metric families keyed by base name.
type Registry struct {
	mu       sync.Mutex
	families map[string]*family
	order    []string
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{families: make(map[string]*family)}
}

// lookup returns the series registered under name, creating it with mk.
func (r *Registry) lookup(name, kind, help string, mk func() any) any {
	r.mu.Lock()
	defer r.mu.Unlock()
	base, _, _ := strings.Cut(name, "{")
	f, ok := r.families[base]
	if !ok {
		f = &family{kind: kind, help: help, series: make(map[string]any)}
		r.families[base] = f
		r.order = append(r.order, base)
	}
	if s, ok := f.series[name]; ok {
		return s
	}
	s := mk()
	f.series[name] = s
	return s
}

// Counter returns the counter for name, which may carry labels (see WithLabels).
func (r *Registry) Counter(name, help string) *Counter {
	if r == nil {
		return &Counter{}
	}
	if c, ok := r.lookup(name, "counter", help, func() any { return &Counter{} }).(*Counter); ok {
		return c
	}
	return &Counter{}
}

// Gauge returns the gauge for name.
func (r *Registry) Gauge(name, help string) *Gauge {
	if r == nil {
		return &Gauge{}
	}
	if g, ok := r.lookup(name, "gauge", help, func() any { return &Gauge{} }).(*Gauge); ok {
		return g
	}
	return &Gauge{}
}

// Histogram returns the histogram for name. Nil bounds use DefaultBuckets.
func (r *Registry) Histogram(name, help string, bounds []float64) *Histogram {
	if bounds == nil {
		bounds = DefaultBuckets
	}
	if r == nil {
		return newHistogram(bounds)
	}
	if h, ok := r.lookup(name, "histogram", help, func() any { return newHistogram(bounds) }).(*Histogram); ok {
		return h
	}
	return newHistogram(bounds)
}

// WithLabels appends label pairs: WithLabels("x", "k", "v") is `x{k="v"}`.
// An odd number of label arguments returns name unchanged.
func WithLabels(name string, kv ...string) string {
	if len(kv) == 0 || len(kv)%2 != 0 {
		return name
	}
	pairs := make([]string, 0, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		pairs = append(pairs, fmt.Sprintf("%s=%q", kv[i], kv[i+1]))
	}
	return name + "{" + strings.Join(pairs, ",") + "}"
}

// Render writes every family in registration order.
func (r *Registry) Render() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var b strings.Builder
	for _, base := range r.order {
		f := r.families[base]
		if f.help != "" {
			fmt.Fprintf(&b, "# HELP %s %s\n", base, f.help)
		}
		fmt.Fprintf(&b, "# TYPE %s %s\n", base, f.kind)

		names := make([]string, 0, len(f.series))
		for n := range f.series {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			switch m := f.series[n].(type) {
			case *Counter:
				fmt.Fprintf(&b, "%s %d\n", n, m.Value())
			case *Gauge:
				fmt.Fprintf(&b, "%s %d\n", n, m.Value())
			case *Histogram:
				renderHistogram(&b, base, n, m)
			}
		}
	}
	return b.String()
}

func renderHistogram(b *strings.Builder, base, name string, h *Histogram) {
	h.mu.Lock()
	defer h.mu.Unlock()

	labels := ""
	if i := strings.IndexByte(name, '{'); i >= 0 {
		labels = name[i+1 : len(name)-1]
	}
	join := func(extra string) string {
		switch {
		case labels == "" && extra == "":
			return ""
		case labels == "":
			return "{" + extra + "}"
		case extra == "":
			return "{" + labels + "}"
		}
		return "{" + labels + "," + extra + "}"
	}

	var cum uint64
	for i, bound := range h.bounds {
		cum += h.counts[i]
		fmt.Fprintf(b, "%s_bucket%s %d\n", base, join(fmt.Sprintf("le=%q", fmt.Sprint(bound))), cum)
	}
	fmt.Fprintf(b, "%s_bucket%s %d\n", base, join(`le="+Inf"`), h.n)
	fmt.Fprintf(b, "%s_sum%s %g\n", base, join(""), h.sum)
	fmt.Fprintf(b, "%s_count%s %d\n", base, join(""), h.n)
}

// Handler serves Render as text/plain.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(r.Render()))
	})
}

// Serve exposes /metrics on addr until ctx is done.
func (r *Registry) Serve(ctx context.Context, addr string, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	handler := mid.Chain(mux, mid.Logger(logger), mid.Recover(logger), mid.OTel("metrics"))
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		logger.Info("metrics listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "addr", addr, "error", err)
		}
	}()
}
