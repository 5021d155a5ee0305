// Package metrics holds the service's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "integrity_checks_total",
		Help: "Submission checks by final status",
	}, []string{"status"})

	DetectorLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "integrity_detector_latency_seconds",
		Help:    "Detector run time by kind",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"kind"})

	DetectorDegraded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "integrity_detector_degraded_total",
		Help: "Degraded detector results by kind and reason",
	}, []string{"kind", "reason"})

	VerdictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "integrity_verdicts_total",
		Help: "Fused verdicts by subject kind and risk level",
	}, []string{"subject_kind", "risk_level"})

	FlaggedVerdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "integrity_flagged_verdicts_total",
		Help: "Verdicts crossing the flag threshold",
	}, []string{"subject_kind"})

	CaseTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "integrity_case_transitions_total",
		Help: "Violation case actions by action and resulting state",
	}, []string{"action", "to_state"})

	CaseGuardRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "integrity_case_guard_rejections_total",
		Help: "Case operations rejected by a guard",
	}, []string{"action", "reason"})

	CollusionRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "integrity_collusion_runs_total",
		Help: "Collusion runs by outcome",
	}, []string{"outcome"})

	CollusionClusters = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "integrity_collusion_clusters",
		Help:    "Clusters found per collusion run",
		Buckets: []float64{0, 1, 2, 3, 5, 10, 20},
	})

	ProctoringEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "integrity_proctoring_events_total",
		Help: "Proctoring events applied by type",
	}, []string{"type"})

	ProctoringAutoFlags = promauto.NewCounter(prometheus.CounterOpts{
		Name: "integrity_proctoring_auto_flags_total",
		Help: "Sessions auto-flagged for excessive flags",
	})

	ProctoringTerminations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "integrity_proctoring_terminations_total",
		Help: "Sessions terminated by the severity hard stop",
	})

	WorkerQueueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "integrity_worker_queue_length",
		Help: "Tasks waiting in the in-process worker pool",
	})
)
