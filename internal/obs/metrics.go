package obs

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics are the load harness's own counters, exported for scraping during
// long runs. They live on a private registry so repeated harness instances
// in one process (tests) never collide.
type Metrics struct {
	BorrowTotal *prometheus.CounterVec // result=success|no_license|error
	ReturnTotal *prometheus.CounterVec // result=success|error

	OpLatency *prometheus.HistogramVec // op=borrow|return|status, seconds

	InFlight       prometheus.Gauge // cycles currently holding capacity
	BorrowedGauge  *prometheus.GaugeVec
	AvailableGauge *prometheus.GaugeVec

	registry *prometheus.Registry
}

func NewMetrics() *Metrics {
	m := &Metrics{
		BorrowTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "licenseload_borrow_total",
				Help: "Total borrow attempts by result",
			},
			[]string{"result"},
		),
		ReturnTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "licenseload_return_total",
				Help: "Total return attempts by result",
			},
			[]string{"result"},
		),
		OpLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "licenseload_op_latency_seconds",
				Help:    "Latency of license operations",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms .. ~2s
			},
			[]string{"op"},
		),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "licenseload_cycles_in_flight",
			Help: "Borrow/hold/return cycles currently holding capacity",
		}),
		BorrowedGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "licenseload_server_borrowed",
			Help: "Borrowed count per tool as last reported by the server",
		}, []string{"tool"}),
		AvailableGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "licenseload_server_available",
			Help: "Available count per tool as last reported by the server",
		}, []string{"tool"}),

		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.BorrowTotal,
		m.ReturnTotal,
		m.OpLatency,
		m.InFlight,
		m.BorrowedGauge,
		m.AvailableGauge,
	)

	return m
}

// Handler serves the private registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
