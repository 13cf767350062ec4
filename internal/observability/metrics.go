// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 plugscan Contributors

package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/plugscan/plugscan/internal/plugin/repository"
)

// Metrics contains custom Prometheus metrics for plugscan.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	ScansTotal    *prometheus.CounterVec
	ScanDuration  prometheus.Histogram
	BatchesTotal  *prometheus.CounterVec
	FSEventsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers custom plugscan metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ScansTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plugscan_scans_total",
				Help: "Total number of plugin files scanned by result",
			},
			[]string{"result"},
		),
		ScanDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "plugscan_scan_duration_seconds",
				Help:    "Time to describe and commit one plugin file",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
		BatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plugscan_batches_total",
				Help: "Total number of origin batches dispatched by kind",
			},
			[]string{"kind"},
		),
		FSEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plugscan_fs_events_total",
				Help: "Total number of filesystem events received by operation",
			},
			[]string{"op"},
		),
	}

	reg.MustRegister(m.ScansTotal, m.ScanDuration, m.BatchesTotal, m.FSEventsTotal)
	return m
}

// ObserveScan records one scanned file.
func (m *Metrics) ObserveScan(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ScansTotal.WithLabelValues(result).Inc()
	m.ScanDuration.Observe(elapsed.Seconds())
}

// ObserveBatch records one dispatched batch.
func (m *Metrics) ObserveBatch(kind string) {
	if m == nil {
		return
	}
	m.BatchesTotal.WithLabelValues(kind).Inc()
}

// ObserveFSEvent records one raw filesystem event.
func (m *Metrics) ObserveFSEvent(op string) {
	if m == nil {
		return
	}
	m.FSEventsTotal.WithLabelValues(op).Inc()
}

// RegisterRepositoryGauges exposes repository contents as gauges sampled at
// scrape time.
func RegisterRepositoryGauges(reg prometheus.Registerer, stats func() repository.Stats) {
	gauge := func(name, help string, pick func(repository.Stats) int) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, func() float64 {
			return float64(pick(stats()))
		})
	}
	reg.MustRegister(
		gauge("plugscan_repository_origins", "Plugin origins tracked by the repository",
			func(s repository.Stats) int { return s.Origins }),
		gauge("plugscan_repository_types", "Type definitions in the repository",
			func(s repository.Stats) int { return s.Types }),
		gauge("plugscan_repository_parts", "Part definitions in the repository",
			func(s repository.Stats) int { return s.Parts }),
	)
}
