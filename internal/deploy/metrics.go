package deploy

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shipper",
		Subsystem: "deploy",
		Name:      "runs_total",
		Help:      "Deployment runs by provider and terminal state.",
	}, []string{"provider", "outcome"})
	metricRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shipper",
		Subsystem: "deploy",
		Name:      "rejected_total",
		Help:      "Deploy requests refused because a run was already active.",
	}, []string{"provider"})
	metricInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "shipper",
		Subsystem: "deploy",
		Name:      "in_flight",
		Help:      "Deployment runs currently executing.",
	}, []string{"provider"})
	metricStageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "shipper",
		Subsystem: "deploy",
		Name:      "stage_duration_seconds",
		Help:      "Duration of each deployment stage.",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"provider", "stage", "outcome"})
)

func recordStage(provider string, stage Stage, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metricStageDuration.WithLabelValues(provider, string(stage), outcome).Observe(time.Since(start).Seconds())
}

func recordRun(provider string, state State) {
	metricRuns.WithLabelValues(provider, string(state)).Inc()
}
