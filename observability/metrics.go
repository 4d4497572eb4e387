package observability

import (
	"math"
	"math/big"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ExchangeMetrics records dispatcher activity.
type ExchangeMetrics struct {
	invocations *prometheus.CounterVec
	failures    *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	writes      *prometheus.HistogramVec
	fees        prometheus.Counter
}

var (
	exchangeOnce     sync.Once
	exchangeRegistry *ExchangeMetrics
)

// Exchange returns the process-wide metrics registered on the default
// Prometheus registerer.
func Exchange() *ExchangeMetrics {
	exchangeOnce.Do(func() {
		exchangeRegistry = NewExchangeMetrics(prometheus.DefaultRegisterer)
	})
	return exchangeRegistry
}

// NewExchangeMetrics creates the collectors and registers them on reg.
func NewExchangeMetrics(reg prometheus.Registerer) *ExchangeMetrics {
	m := &ExchangeMetrics{
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aphdex",
			Subsystem: "exchange",
			Name:      "invocations_total",
			Help:      "Contract invocations segmented by operation and outcome.",
		}, []string{"operation", "outcome"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aphdex",
			Subsystem: "exchange",
			Name:      "failures_total",
			Help:      "Rejected invocations segmented by operation and error kind.",
		}, []string{"operation", "kind"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "aphdex",
			Subsystem: "exchange",
			Name:      "invocation_duration_seconds",
			Help:      "Latency of contract invocations including commit.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		writes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "aphdex",
			Subsystem: "exchange",
			Name:      "committed_writes",
			Help:      "Storage writes committed per successful invocation.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 8),
		}, []string{"operation"}),
		fees: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aphdex",
			Subsystem: "exchange",
			Name:      "fees_collected",
			Help:      "Trading fees collected in reference asset units.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.invocations, m.failures, m.latency, m.writes, m.fees)
	}
	return m
}

// Observe records one invocation. kind is empty on success.
func (m *ExchangeMetrics) Observe(operation string, success bool, kind string, writes int, duration time.Duration) {
	if m == nil {
		return
	}
	if operation == "" {
		operation = "unknown"
	}
	outcome := "success"
	if !success {
		outcome = "failure"
		if kind == "" {
			kind = "unknown"
		}
		m.failures.WithLabelValues(operation, kind).Inc()
	} else {
		m.writes.WithLabelValues(operation).Observe(float64(writes))
	}
	m.invocations.WithLabelValues(operation, outcome).Inc()
	m.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordFee adds a collected fee. Amounts beyond float precision saturate.
func (m *ExchangeMetrics) RecordFee(amount *big.Int) {
	if m == nil || amount == nil || amount.Sign() <= 0 {
		return
	}
	v, _ := new(big.Float).SetInt(amount).Float64()
	if math.IsInf(v, 0) {
		v = math.MaxFloat64
	}
	m.fees.Add(v)
}
