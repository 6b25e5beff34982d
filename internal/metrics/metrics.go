// Package metrics: liczniki przebiegów synchronizacji i czasy wywołań instancji klienta.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry    *prometheus.Registry
	runs        *prometheus.CounterVec
	items       *prometheus.CounterVec
	activeRuns  prometheus.Gauge
	remoteCalls *prometheus.HistogramVec
	previews    prometheus.Counter
	exports     *prometheus.CounterVec
}

// New tworzy własny rejestr, żeby testy i kilka instancji nie kolidowały.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "catalog2erp",
			Name:      "sync_runs_total",
			Help:      "Finished sync runs by terminal status",
		}, []string{"status"}),
		items: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "catalog2erp",
			Name:      "sync_items_total",
			Help:      "Processed sync items by action and result",
		}, []string{"action", "result"}),
		activeRuns: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "catalog2erp",
			Name:      "sync_active_runs",
			Help:      "Sync runs currently executing",
		}),
		remoteCalls: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "catalog2erp",
			Name:      "remote_call_duration_seconds",
			Help:      "Latency of calls to client ERP instances",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"method", "outcome"}),
		previews: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "catalog2erp",
			Name:      "previews_built_total",
			Help:      "Sync previews built",
		}),
		exports: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "catalog2erp",
			Name:      "exports_total",
			Help:      "Catalog exports by format",
		}, []string{"format"}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RunStarted()               { m.activeRuns.Inc() }
func (m *Metrics) RunFinished(status string) { m.activeRuns.Dec(); m.runs.WithLabelValues(status).Inc() }

func (m *Metrics) Item(action, result string) {
	m.items.WithLabelValues(action, result).Inc()
}

func (m *Metrics) PreviewBuilt() { m.previews.Inc() }

func (m *Metrics) Export(format string) { m.exports.WithLabelValues(format).Inc() }

// ObserveRemoteCall spełnia remote.Observer.
func (m *Metrics) ObserveRemoteCall(method string, d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.remoteCalls.WithLabelValues(method, outcome).Observe(d.Seconds())
}
