// Package metrics exports validation, oracle and transport counters to
// prometheus.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mlsvalidation/internal/domain"
)

const namespace = "mlsvalidation"

const (
	kindLabel    = "kind"
	outcomeLabel = "outcome"
	codeLabel    = "code"
	chainLabel   = "chain_id"
	routeLabel   = "route"
	statusLabel  = "status"
)

type Metrics struct {
	Verdicts     *prometheus.CounterVec // kind + outcome + code
	BatchSize    prometheus.Histogram
	OracleCalls  *prometheus.HistogramVec // chain_id + outcome
	HTTPRequests *prometheus.CounterVec   // route + status
	HTTPLatency  *prometheus.HistogramVec // route
	RateLimited  prometheus.Counter
}

func NewMetrics(registerer prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Verdicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "verdicts_total",
				Help:      "number of validation verdicts by request kind and outcome",
			},
			[]string{kindLabel, outcomeLabel, codeLabel},
		),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "number of items per validation batch",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		OracleCalls: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "oracle_call_seconds",
				Help:      "latency of ERC-1271 contract queries (s)",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{chainLabel, outcomeLabel},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "number of handled RPC requests",
			},
			[]string{routeLabel, statusLabel},
		),
		HTTPLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_seconds",
				Help:      "RPC request latency (s)",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{routeLabel},
		),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "number of requests rejected by the rate limiter",
		}),
	}
	if registerer == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.Verdicts, m.BatchSize, m.OracleCalls, m.HTTPRequests, m.HTTPLatency, m.RateLimited} {
		if err := registerer.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) ObserveVerdict(kind domain.RequestKind, valid bool, code string) {
	outcome := "valid"
	if !valid {
		outcome = "invalid"
	}
	m.Verdicts.WithLabelValues(string(kind), outcome, code).Inc()
}

func (m *Metrics) ObserveBatch(size int) {
	m.BatchSize.Observe(float64(size))
}

func (m *Metrics) ObserveOracleCall(chainID, outcome string, elapsed time.Duration) {
	m.OracleCalls.WithLabelValues(chainID, outcome).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveRequest(route string, status int, elapsed time.Duration) {
	m.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.HTTPLatency.WithLabelValues(route).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveRateLimited() {
	m.RateLimited.Inc()
}
