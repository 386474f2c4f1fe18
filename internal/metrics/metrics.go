// Package metrics holds the Prometheus instruments for the pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tabulon_runs_total", Help: "Pipeline runs by terminal outcome.",
	}, []string{"outcome"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tabulon_stage_duration_seconds",
		Help:    "Wall time spent in each pipeline stage.",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
	}, []string{"stage"})

	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tabulon_cache_lookups_total", Help: "Code cache lookups by result.",
	}, []string{"result"})

	ExecutionAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tabulon_execution_attempts_total", Help: "Total sandbox execution attempts, corrections included.",
	})

	SafetyRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tabulon_safety_rejections_total", Help: "Artifacts rejected by the safety gate, by rule.",
	}, []string{"rule"})

	TerminalAnomalies = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tabulon_terminal_anomalies_total", Help: "Runs that reached the final stage with no terminal marker set.",
	})
)
