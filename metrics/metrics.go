package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ObservationsReceived counts observations accepted into the buffer, by source.
	ObservationsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wifiradar_observations_received_total",
			Help: "Total number of observations accepted into the buffer",
		},
		[]string{"source"},
	)

	// ObservationsDropped counts observations that never reached a batch.
	ObservationsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wifiradar_observations_dropped_total",
			Help: "Total number of observations dropped before feature extraction",
		},
		[]string{"reason"},
	)

	BufferDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wifiradar_buffer_depth",
			Help: "Observations currently waiting in the buffer",
		},
	)

	CyclesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wifiradar_cycles_total",
			Help: "Total number of completed accumulation cycles",
		},
	)

	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wifiradar_cycle_duration_seconds",
			Help:    "Time spent extracting, scoring and accumulating one batch",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		},
	)

	BatchSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wifiradar_batch_observations",
			Help: "Observations in the most recent batch",
		},
	)

	DisturbanceScore = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wifiradar_disturbance_score",
			Help: "Disturbance score of the most recent batch",
		},
	)

	// Features holds the raw value of each extracted feature.
	Features = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wifiradar_feature_value",
			Help: "Raw feature values of the most recent batch",
		},
		[]string{"feature"},
	)

	GridMax = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wifiradar_grid_max",
			Help: "Largest cell energy after the most recent cycle",
		},
	)

	GridMean = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wifiradar_grid_mean",
			Help: "Mean cell energy after the most recent cycle",
		},
	)

	ActiveCells = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wifiradar_active_cells",
			Help: "Cells above the activity threshold after the most recent cycle",
		},
	)

	// SnapshotsSkipped counts snapshots a slow subscriber never saw.
	SnapshotsSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wifiradar_snapshots_skipped_total",
			Help: "Snapshots replaced before a subscriber read them",
		},
	)

	// ExportOperations counts exporter writes by backend and outcome.
	ExportOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wifiradar_export_operations_total",
			Help: "Total number of snapshot export operations",
		},
		[]string{"backend", "status"},
	)
)
