// metrics.go - Prometheus metrics for the pool API.

package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the pool's Prometheus collectors.
type Metrics struct {
	Deposits       prometheus.Counter
	Withdrawals    prometheus.Counter
	Rejections     *prometheus.CounterVec
	Absorptions    prometheus.Counter
	Reclaims       prometheus.Counter
	PoolSize       prometheus.Gauge
	PendingRecords prometheus.Gauge
	RequestSeconds *prometheus.HistogramVec
}

// NewMetrics registers the pool collectors with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Deposits: factory.NewCounter(prometheus.CounterOpts{
			Name: "pool_deposits_total",
			Help: "Accepted deposits.",
		}),
		Withdrawals: factory.NewCounter(prometheus.CounterOpts{
			Name: "pool_withdrawals_total",
			Help: "Accepted withdrawals.",
		}),
		Rejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pool_rejections_total",
			Help: "Rejected operations by reason.",
		}, []string{"op", "reason"}),
		Absorptions: factory.NewCounter(prometheus.CounterOpts{
			Name: "pool_batch_absorptions_total",
			Help: "Proven batch absorptions that advanced the cursor.",
		}),
		Reclaims: factory.NewCounter(prometheus.CounterOpts{
			Name: "pool_record_reclaims_total",
			Help: "Reclaimed nullifier records.",
		}),
		PoolSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pool_commitments",
			Help: "Commitments in the accumulator.",
		}),
		PendingRecords: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pool_pending_nullifier_records",
			Help: "Individual spend records not yet reclaimed.",
		}),
		RequestSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pool_http_request_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "code"}),
	}
}
