package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	metricSessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pagedock",
		Name:      "sessions_active",
		Help:      "Number of live browser sessions.",
	})
	metricSessionsCreated = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pagedock",
		Name:      "sessions_created_total",
		Help:      "Browser sessions created since start.",
	})
	metricSessionsClosed = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pagedock",
		Name:      "sessions_closed_total",
		Help:      "Browser sessions closed since start.",
	})
	metricSessionsReclaimed = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pagedock",
		Name:      "sessions_reclaimed_total",
		Help:      "Idle or dead sessions reclaimed by the supervisor.",
	})
	metricActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pagedock",
		Name:      "actions_total",
		Help:      "Actions processed, by action and outcome.",
	}, []string{"action", "outcome"})
	metricActionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pagedock",
		Name:      "action_duration_seconds",
		Help:      "Action latency from request to response.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"action"})

	metricsHandler = promhttp.Handler()
)

// observeAction records one action's outcome and latency and refreshes
// the session gauges.
func (s *Server) observeAction(action string, start time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	metricActions.WithLabelValues(action, outcome).Inc()
	metricActionDuration.WithLabelValues(action).Observe(time.Since(start).Seconds())
	s.refreshSessionMetrics()
}

func (s *Server) refreshSessionMetrics() {
	stats := s.registry.Stats()
	metricSessionsActive.Set(float64(stats.Active))
	metricSessionsCreated.Set(float64(stats.Created))
	metricSessionsClosed.Set(float64(stats.Closed))
	metricSessionsReclaimed.Set(float64(stats.Reclaimed))
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.refreshSessionMetrics()
	metricsHandler.ServeHTTP(w, r)
}
