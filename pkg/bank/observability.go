package bank

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	objectOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "objectbank_object_operations_total",
			Help: "Total number of bank object operations",
		},
		[]string{"container", "operation", "status"},
	)

	objectOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "objectbank_object_operation_duration_seconds",
			Help:    "Duration of bank object operations against the backing store",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"container", "operation"},
	)
)

func recordObjectOperation(container, operation, status string, started time.Time) {
	objectOperationsTotal.WithLabelValues(
		normalizeBankLabel(container),
		normalizeBankLabel(operation),
		normalizeBankLabel(status),
	).Inc()
	if !started.IsZero() {
		objectOperationDuration.WithLabelValues(
			normalizeBankLabel(container),
			normalizeBankLabel(operation),
		).Observe(time.Since(started).Seconds())
	}
}

func normalizeBankLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
