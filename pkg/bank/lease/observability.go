package lease

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	leaseOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "objectbank_lease_operations_total",
			Help: "Total number of lease acquire/renew operations",
		},
		[]string{"lease", "operation", "status"},
	)

	leaseExpireTimestamp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "objectbank_lease_expire_timestamp_seconds",
			Help: "Unix time at which the current lease expires",
		},
		[]string{"lease"},
	)

	leaseRenewerFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "objectbank_lease_renewer_failures_total",
			Help: "Total number of failed keep-alive renewals",
		},
		[]string{"lease"},
	)
)

func recordLeaseOperation(name, operation, status string) {
	leaseOperationsTotal.WithLabelValues(
		normalizeLeaseLabel(name),
		normalizeLeaseLabel(operation),
		normalizeLeaseLabel(status),
	).Inc()
}

func setLeaseExpiry(name string, expireAt time.Time) {
	leaseExpireTimestamp.WithLabelValues(normalizeLeaseLabel(name)).Set(float64(expireAt.UnixNano()) / float64(time.Second))
}

func recordRenewerFailure(name string) {
	leaseRenewerFailuresTotal.WithLabelValues(normalizeLeaseLabel(name)).Inc()
}

func normalizeLeaseLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
