package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusBridge mirrors Collector.Record calls onto live Prometheus
// histograms, one per metric name. It exists alongside the JSONL
// ring buffer as a second, complementary metrics surface: Collector
// answers "what happened in this turn" (percentiles, replay, audit
// correlation); PrometheusBridge answers "what is happening right now"
// for a scrape-based dashboard. Both read the same Record stream.
type PrometheusBridge struct {
	mu         sync.Mutex
	registry   *prometheus.Registry
	histograms map[string]*prometheus.HistogramVec
}

// NewPrometheusBridge creates a bridge backed by its own registry so it
// can be mounted under any HTTP path without colliding with the default
// global registry.
func NewPrometheusBridge() *PrometheusBridge {
	return &PrometheusBridge{
		registry:   prometheus.NewRegistry(),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

// Registry exposes the underlying Prometheus registry for mounting behind
// promhttp.HandlerFor in cmd/bantzd.
func (p *PrometheusBridge) Registry() *prometheus.Registry {
	return p.registry
}

// Observe records value under name/unit, tagged with tags' keys as
// Prometheus labels. The first call for a given metric name determines
// its label set; subsequent calls must use the same tag keys.
func (p *PrometheusBridge) Observe(name, unit string, value float64, tags map[string]string) {
	p.mu.Lock()
	h, ok := p.histograms[name]
	if !ok {
		labelNames := make([]string, 0, len(tags))
		for k := range tags {
			labelNames = append(labelNames, k)
		}
		h = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bantz",
			Subsystem: "orchestrator",
			Name:      name,
			Help:      "bantz orchestrator metric: " + name + " (" + unit + ")",
		}, labelNames)
		p.registry.MustRegister(h)
		p.histograms[name] = h
	}
	p.mu.Unlock()
	h.With(tags).Observe(value)
}

// Sink returns a callback suitable for wiring into a Collector's
// post-Record hook so every metric recorded through the JSONL collector
// is mirrored here too.
func (p *PrometheusBridge) Sink() func(Record) {
	return func(r Record) {
		p.Observe(r.Name, r.Unit, r.Value, r.Tags)
	}
}
