// Package metrics is the observability sink for conditions that have no
// caller waiting on them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Reasons used with Dropped.
const (
	ReasonUnknownSpace    = "unknown_space"
	ReasonUnknownUser     = "unknown_user"
	ReasonNoConnection    = "no_connection"
	ReasonWriteFailed     = "write_failed"
	ReasonConnClosed      = "connection_closed"
	ReasonBackendFailed   = "backend_publish_failed"
	ReasonBackendQueue    = "backend_queue_full"
	ReasonDecode          = "decode_failed"
	ReasonPermission      = "permission_denied"
	ReasonRejectedAtRelay = "rejected_by_relay"
	ReasonRateLimited     = "rate_limited"
)

var (
	Spaces = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "spacehub_spaces",
		Help: "Spaces currently held by this process",
	})

	Connections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "spacehub_connections",
		Help: "Client connections currently registered",
	})

	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spacehub_notifications_total",
		Help: "Frames handed to client connections, by type",
	}, []string{"type"})

	dropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spacehub_dropped_total",
		Help: "Messages or mutations dropped, by reason",
	}, []string{"reason"})

	BackendMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spacehub_backend_messages_total",
		Help: "Bridge messages by direction (in/out) and type",
	}, []string{"direction", "type"})
)

func Dropped(reason string) {
	dropped.WithLabelValues(reason).Inc()
}
