package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the engine.
	Registry = prometheus.NewRegistry()

	// Dispatches counts dispatch attempts by event kind and outcome
	// (delivered, retrying, failed).
	Dispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_dispatch_attempts_total", Help: "Dispatch attempts by event kind and outcome."},
		[]string{"event", "outcome"},
	)
	// DispatchLatency tracks outbound call latencies in milliseconds.
	DispatchLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "webhook_dispatch_latency_ms", Help: "Outbound dispatch latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000, 10000}},
		[]string{"event", "outcome"},
	)
	// EmittedDeliveries counts deliveries created by the emitter, by event kind.
	EmittedDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_deliveries_emitted_total", Help: "Deliveries created by the emitter, by event kind."},
		[]string{"event"},
	)
)

var regOnce sync.Once

// RegisterDefault registers the engine collectors on the dedicated registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(Dispatches)
		Registry.MustRegister(DispatchLatency)
		Registry.MustRegister(EmittedDeliveries)
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}
