// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package metrics exposes the publish pipeline's Prometheus
// instrumentation: throughput counters, a batch-size histogram, and the
// ledger's view of remaining quota. The Recorder is handed to the
// publish loop as an explicit collaborator; promhttp serving lives in
// the CLI.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder bundles the pipeline's metrics. Construct one per process
// with NewRecorder; constructing a second panics on duplicate
// registration, which is the desired behavior for a wiring bug.
type Recorder struct {
	RecordsPublished prometheus.Counter
	RecordsFailed    prometheus.Counter
	BatchesSubmitted prometheus.Counter
	BatchSize        prometheus.Histogram
	BatchDuration    prometheus.Histogram
	QuotaRemaining   prometheus.Gauge
	QuotaLimit       prometheus.Gauge
}

// NewRecorder registers the pipeline metrics with reg (the default
// registerer when nil) and returns the Recorder the publish loop
// updates after every batch.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Recorder{
		RecordsPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "lfmimport_records_published_total",
			Help: "Play records successfully written to the repository.",
		}),
		RecordsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "lfmimport_records_failed_total",
			Help: "Play records that could not be written after retries.",
		}),
		BatchesSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "lfmimport_batches_submitted_total",
			Help: "Bulk-write calls issued, including retried batches.",
		}),
		BatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "lfmimport_batch_size",
			Help:    "Records per submitted batch.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 200},
		}),
		BatchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "lfmimport_batch_duration_seconds",
			Help:    "Wall-clock duration of each bulk-write call.",
			Buckets: prometheus.DefBuckets,
		}),
		QuotaRemaining: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lfmimport_quota_remaining_points",
			Help: "Rate-limit points remaining per the ledger's last server update.",
		}),
		QuotaLimit: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lfmimport_quota_limit_points",
			Help: "Rate-limit points per window per the ledger's last server update.",
		}),
	}
}
