package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	EventsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "whalewatch_events_processed_total",
		Help: "Raw feed events run through the pipeline.",
	})

	EventsMalformed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "whalewatch_events_malformed_total",
		Help: "Raw events skipped as unparseable.",
	})

	WhalesDetected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "whalewatch_whales_detected_total",
		Help: "Transactions classified as whales.",
	})

	AlertsTriggered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "whalewatch_alerts_triggered_total",
		Help: "Alert triggers fired across all users.",
	})

	ImpactSeverity = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "whalewatch_impact_severity_total",
		Help: "Impact analyses by severity.",
	}, []string{"severity"})

	FramesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "whalewatch_frames_dropped_total",
		Help: "Outbound frames dropped on slow subscribers.",
	})
)

func Handler() http.Handler {
	h := promhttp.Handler()
	return h
}
