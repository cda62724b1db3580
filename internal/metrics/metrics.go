// Package metrics holds the Prometheus collectors for Hearth. Collectors are
// registered on the default registry at init and served on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Admission rejection reasons.
const (
	RejectOrigin    = "origin"
	RejectAddress   = "address_cap"
	RejectHandshake = "handshake_rate"
	RejectUpgrade   = "upgrade"
)

var (
	// Connections
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hearth_connections_active",
			Help: "Current number of connected clients",
		},
	)

	ConnectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hearth_connections_total",
			Help: "Total number of admitted connections",
		},
	)

	AdmissionRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hearth_admission_rejections_total",
			Help: "Connections rejected before upgrade, by reason",
		},
		[]string{"reason"},
	)

	// Inbound events
	InboundEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hearth_inbound_events_total",
			Help: "Inbound client events, by event type",
		},
		[]string{"event"},
	)

	RateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hearth_rate_limited_total",
			Help: "Events denied by a rate-limit policy",
		},
		[]string{"policy"},
	)

	// Delivery
	MessagesBroadcast = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hearth_messages_broadcast_total",
			Help: "Chat messages accepted and broadcast",
		},
	)

	Whispers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hearth_whispers_total",
			Help: "Whisper attempts, by result",
		},
		[]string{"result"}, // "delivered", "not_found", "usage"
	)

	SlowClientsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hearth_slow_clients_dropped_total",
			Help: "Clients disconnected because their send buffer was full",
		},
	)

	// State
	HistorySize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hearth_history_messages",
			Help: "Messages currently held in the history buffer",
		},
	)

	SnapshotWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hearth_snapshot_writes_total",
			Help: "Snapshot persistence attempts, by result",
		},
		[]string{"result"}, // "ok", "error", "breaker_open"
	)

	PlaylistUpdates = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hearth_playlist_updates_total",
			Help: "Accepted playlist changes",
		},
	)
)

// RecordRejection counts a refused handshake.
func RecordRejection(reason string) {
	AdmissionRejections.WithLabelValues(reason).Inc()
}

// RecordInbound counts an inbound event.
func RecordInbound(event string) {
	InboundEvents.WithLabelValues(event).Inc()
}

// RecordRateLimited counts a denial by the named policy.
func RecordRateLimited(policy string) {
	RateLimited.WithLabelValues(policy).Inc()
}

// RecordWhisper counts a whisper attempt.
func RecordWhisper(result string) {
	Whispers.WithLabelValues(result).Inc()
}

// RecordSnapshotWrite counts a snapshot write.
func RecordSnapshotWrite(result string) {
	SnapshotWrites.WithLabelValues(result).Inc()
}

// TrackConnection adjusts the active-connection gauge.
func TrackConnection(opened bool) {
	if opened {
		ConnectionsActive.Inc()
		ConnectionsTotal.Inc()
		return
	}
	ConnectionsActive.Dec()
}
