// Package metrics declares the Prometheus collectors of the coin market.
// Collectors are registered with the default registry on import and served
// by promhttp on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "coin_market"

// CoinsIssuedTotal counts coins created by the issuance operation.
var CoinsIssuedTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "coins_issued_total",
		Help:      "Total number of coins issued.",
	},
)

// IssuanceExhaustedTotal counts issuance requests rejected because the triple space is full.
var IssuanceExhaustedTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "issuance_exhausted_total",
		Help:      "Total number of issuance requests rejected with an exhausted combination space.",
	},
)

// TransfersTotal counts recorded ownership transfers.
// Label:
//   - origin: "system" for a first transfer, "account" otherwise
var TransfersTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transfers_total",
		Help:      "Total number of ownership transfers recorded in the ledger.",
	},
	[]string{"origin"},
)

// FingerprintLookupsTotal counts fingerprint cache lookups.
// Label:
//   - result: "hit", "remote_hit" or "miss"
var FingerprintLookupsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fingerprint_lookups_total",
		Help:      "Total number of fingerprint cache lookups, by result.",
	},
	[]string{"result"},
)

// FingerprintDuration measures a single uncached fingerprint computation.
var FingerprintDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "fingerprint_duration_seconds",
		Help:      "Duration of one uncached fingerprint computation.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	},
)

// HTTPRequestDuration measures request latency per route.
var HTTPRequestDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "route", "status"},
)
