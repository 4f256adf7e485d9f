// Package metrics provides Prometheus instrumentation for the matchmaking
// engine: gauges for connection and queue depth, counters for matches,
// relayed frames, reports, and bans, and a histogram of match wait time.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Connections tracks the current number of connected users.
	Connections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "paircast_connections",
		Help: "Current number of connected users",
	})

	// Waiting tracks the current number of users waiting for a partner.
	Waiting = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "paircast_waiting",
		Help: "Current number of users waiting for a match",
	})

	// ActiveChats tracks the current number of active chat sessions.
	ActiveChats = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "paircast_active_chats",
		Help: "Current number of active chat sessions",
	})

	// MatchesTotal counts matches made, labeled by kind: "human" or "bot".
	MatchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "paircast_matches_total",
		Help: "Total number of matches made",
	}, []string{"kind"})

	// RelayedTotal counts relayed in-chat frames, labeled by message type.
	RelayedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "paircast_relayed_total",
		Help: "Total number of frames relayed between partners",
	}, []string{"type"})

	// ReportsTotal counts abuse reports filed.
	ReportsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "paircast_reports_total",
		Help: "Total number of abuse reports filed",
	})

	// BansTotal counts IP bans applied, labeled by source: "admin" or "auto".
	BansTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "paircast_bans_total",
		Help: "Total number of IP bans applied",
	}, []string{"source"})

	// MatchWait records how long users waited before being matched.
	MatchWait = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "paircast_match_wait_seconds",
		Help:    "Time from entering the waiting pool to being matched",
		Buckets: []float64{1, 2, 5, 10, 15, 20, 25, 30},
	})
)

func init() {
	prometheus.MustRegister(
		Connections,
		Waiting,
		ActiveChats,
		MatchesTotal,
		RelayedTotal,
		ReportsTotal,
		BansTotal,
		MatchWait,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
