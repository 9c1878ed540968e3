package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cluster metrics
	HostsTracked = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "corral_hosts_tracked",
			Help: "Number of hosts with live device state",
		},
	)

	DevicesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "corral_devices_total",
			Help: "Number of devices by occupancy state",
		},
		[]string{"state"},
	)

	SyncDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "corral_sync_duration_seconds",
			Help:    "Duration of one cluster sweep in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	SyncsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corral_syncs_total",
			Help: "Total number of cluster sweeps by trigger",
		},
		[]string{"trigger"},
	)

	// Allocation metrics
	AllocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corral_allocations_total",
			Help: "Total number of allocation requests by outcome",
		},
		[]string{"outcome"},
	)

	KillsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "corral_kills_total",
			Help: "Total number of processes killed for preemption",
		},
	)

	// Quota metrics
	QuotaDumpsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "corral_quota_dumps_total",
			Help: "Total number of ledger persistence runs",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corral_api_requests_total",
			Help: "Total number of API requests by route and status",
		},
		[]string{"route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "corral_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	prometheus.MustRegister(HostsTracked)
	prometheus.MustRegister(DevicesTotal)
	prometheus.MustRegister(SyncDuration)
	prometheus.MustRegister(SyncsTotal)
	prometheus.MustRegister(AllocationsTotal)
	prometheus.MustRegister(KillsTotal)
	prometheus.MustRegister(QuotaDumpsTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
