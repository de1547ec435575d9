// Package telemetry exposes run metrics through Prometheus and a small
// monitoring HTTP server.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsRegistry holds all Prometheus metrics for shelfrun.
type MetricsRegistry struct {
	FilesDiscovered  *prometheus.CounterVec
	FilesSkipped     prometheus.Counter
	SchemaErrors     prometheus.Counter
	RowsNormalized   *prometheus.CounterVec
	RowsRejected     *prometheus.CounterVec
	RecordsMerged    prometheus.Counter
	PartialRecords   prometheus.Counter
	GapDays          prometheus.Counter
	StageTransitions *prometheus.CounterVec
	ActionsEmitted   *prometheus.CounterVec
	RunDuration      *prometheus.HistogramVec
	LastRunRecords   prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetricsRegistry creates the shelfrun metrics set on a private registry.
func NewMetricsRegistry() *MetricsRegistry {
	m := &MetricsRegistry{
		FilesDiscovered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shelfrun_files_discovered_total",
				Help: "Input files discovered, by report kind",
			},
			[]string{"kind"},
		),
		FilesSkipped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "shelfrun_files_skipped_total",
				Help: "Input files skipped due to schema errors",
			},
		),
		SchemaErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "shelfrun_schema_errors_total",
				Help: "Files rejected for missing required columns",
			},
		),
		RowsNormalized: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shelfrun_rows_normalized_total",
				Help: "Source rows normalized, by report kind",
			},
			[]string{"kind"},
		),
		RowsRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shelfrun_rows_rejected_total",
				Help: "Source rows rejected, by reason",
			},
			[]string{"reason"},
		),
		RecordsMerged: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "shelfrun_records_merged_total",
				Help: "Canonical records produced by the merger",
			},
		),
		PartialRecords: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "shelfrun_partial_records_total",
				Help: "Canonical records with only one source half present",
			},
		),
		GapDays: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "shelfrun_gap_days_total",
				Help: "Calendar days with no input inside a product's range",
			},
		),
		StageTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shelfrun_stage_transitions_total",
				Help: "Committed stage transitions, by from/to pair",
			},
			[]string{"from", "to"},
		),
		ActionsEmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shelfrun_actions_emitted_total",
				Help: "Action items emitted, by kind and priority",
			},
			[]string{"action", "priority"},
		),
		RunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shelfrun_run_duration_seconds",
				Help:    "Duration of each pipeline stage in seconds",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"stage"},
		),
		LastRunRecords: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "shelfrun_last_run_records",
				Help: "Canonical records emitted by the most recent run",
			},
		),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.FilesDiscovered, m.FilesSkipped, m.SchemaErrors,
		m.RowsNormalized, m.RowsRejected,
		m.RecordsMerged, m.PartialRecords, m.GapDays,
		m.StageTransitions, m.ActionsEmitted,
		m.RunDuration, m.LastRunRecords,
	)
	return m
}

// Registry exposes the underlying prometheus registry for the HTTP handler.
func (m *MetricsRegistry) Registry() *prometheus.Registry { return m.registry }
