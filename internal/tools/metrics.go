package tools

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shipper",
		Subsystem: "tools",
		Name:      "calls_total",
		Help:      "Tool calls by tool and outcome kind.",
	}, []string{"tool", "kind"})
	metricDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "shipper",
		Subsystem: "tools",
		Name:      "call_duration_seconds",
		Help:      "Tool call latency.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
	}, []string{"tool"})
	metricInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "shipper",
		Subsystem: "tools",
		Name:      "in_flight",
		Help:      "Tool calls currently executing.",
	})
)

func recordCall(tool, kind string, d time.Duration) {
	if kind == "" {
		kind = "ok"
	}
	metricCalls.WithLabelValues(tool, kind).Inc()
	metricDuration.WithLabelValues(tool).Observe(d.Seconds())
}
