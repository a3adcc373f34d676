package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Server metrics
	ServersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "garcon_servers_total",
			Help: "Total number of managed servers by status",
		},
		[]string{"status"},
	)

	OperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "garcon_operations_total",
			Help: "Total number of server operations by operation and result",
		},
		[]string{"operation", "result"},
	)

	// Backup metrics
	BackupsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "garcon_backups_created_total",
			Help: "Total number of backups created by type",
		},
		[]string{"type"},
	)

	// API metrics
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "garcon_http_requests_total",
			Help: "Total number of HTTP requests by method and status",
		},
		[]string{"method", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "garcon_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Push channel metrics
	SubscribersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "garcon_subscribers_total",
			Help: "Current number of push channel subscribers",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(ServersTotal)
	prometheus.MustRegister(OperationsTotal)
	prometheus.MustRegister(BackupsCreatedTotal)
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(SubscribersTotal)
}

// RecordOperation counts one server operation with its outcome
func RecordOperation(operation string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	OperationsTotal.WithLabelValues(operation, result).Inc()
}

// RecordBackup counts one created backup
func RecordBackup(backupType string) {
	BackupsCreatedTotal.WithLabelValues(backupType).Inc()
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
