package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// REST client metrics

	APIRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "leadscout",
		Name:      "api_request_duration_seconds",
		Help:      "Latency of dashboard REST calls.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"operation", "status"})

	APIRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "leadscout",
		Name:      "api_requests_total",
		Help:      "Total dashboard REST calls, by operation and outcome.",
	}, []string{"operation", "status"})

	// Realtime channel metrics

	RealtimeConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "leadscout",
		Name:      "realtime_connected",
		Help:      "Whether the push channel is currently connected. 1 = yes.",
	})

	RealtimeReconnectsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "leadscout",
		Name:      "realtime_reconnects_total",
		Help:      "Number of reconnection attempts made by the push channel.",
	})

	RealtimeEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "leadscout",
		Name:      "realtime_events_total",
		Help:      "Push messages received, by envelope type.",
	}, []string{"type"})

	RealtimeDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "leadscout",
		Name:      "realtime_dropped_total",
		Help:      "Push messages dropped because the type was unknown.",
	})

	// Store metrics

	StoreJobsVisible = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "leadscout",
		Name:      "store_jobs_visible",
		Help:      "Jobs currently held in the visible collection.",
	})

	StoreStaleDiscardsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "leadscout",
		Name:      "store_stale_discards_total",
		Help:      "Updates discarded as stale or out of order.",
	})
)

func Register() {
	prometheus.MustRegister(
		APIRequestDuration,
		APIRequestsTotal,
		RealtimeConnected,
		RealtimeReconnectsTotal,
		RealtimeEventsTotal,
		RealtimeDroppedTotal,
		StoreJobsVisible,
		StoreStaleDiscardsTotal,
	)
}

func NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{Addr: addr, Handler: mux}
}
