// Package metrics holds the prometheus collectors of the dedup engine. They
// register with the default registry and are served by the API on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ChecksTotal counts single checks by verdict reason ("none" for unique, "error")
	ChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "listing_dedup",
		Name:      "checks_total",
		Help:      "Duplicate checks by verdict reason.",
	}, []string{"reason"})

	CheckDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "listing_dedup",
		Name:      "check_duration_seconds",
		Help:      "Latency of single duplicate checks.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	})

	DuplicatesMarked = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "listing_dedup",
		Name:      "duplicates_marked_total",
		Help:      "Listings linked to a canonical record, by reason.",
	}, []string{"reason"})

	// SweepRecords counts sweep outcomes per record: unique, duplicate, skipped, failed
	SweepRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "listing_dedup",
		Name:      "sweep_records_total",
		Help:      "Records evaluated by sweeps, by outcome.",
	}, []string{"outcome"})

	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "listing_dedup",
		Name:      "sweep_duration_seconds",
		Help:      "Wall time of full sweeps.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
	})

	SweepsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "listing_dedup",
		Name:      "sweeps_in_flight",
		Help:      "Sweeps currently running in this process.",
	})
)
