// Package obsv wires Prometheus and OpenTelemetry into router lifecycle
// events instead of HTTP request/response: message receive/send, Q2/Q3
// transitions, and delivery settlement.
package obsv

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	deliveriesSettledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trunkrouter_deliveries_settled_total",
			Help: "Total number of deliveries settled, by disposition",
		},
		[]string{"direction", "disposition"},
	)

	messageBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trunkrouter_message_bytes_total",
			Help: "Total message body bytes moved through the pipeline",
		},
		[]string{"direction"},
	)

	streamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trunkrouter_stream_duration_seconds",
			Help:    "Duration of an HTTP/2 stream from open to fully closed",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	q2BlockedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trunkrouter_q2_blocked_total",
			Help: "Total number of times a message's Q2 controller transitioned to blocked",
		},
	)

	q3StalledGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "trunkrouter_q3_stalled_sessions",
			Help: "Current number of sessions stalled by Q3 back-pressure",
		},
	)

	linksStuckGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trunkrouter_links_stuck",
			Help: "Current number of links flagged stuck by the detector, by reason",
		},
		[]string{"reason"},
	)
)

// RecordSettlement counts one delivery settlement by direction and
// disposition.
func RecordSettlement(direction, disposition string) {
	deliveriesSettledTotal.WithLabelValues(direction, disposition).Inc()
}

// RecordMessageBytes adds n bytes moved in the given direction ("in", "out" or "forward").
func RecordMessageBytes(direction string, n int64) {
	if n <= 0 {
		return
	}
	messageBytesTotal.WithLabelValues(direction).Add(float64(n))
}

// RecordStreamDuration records how long a stream stayed open, labeled by
// its terminal status string (§3's Status enum).
func RecordStreamDuration(status string, seconds float64) {
	streamDuration.WithLabelValues(status).Observe(seconds)
}

// RecordQ2Blocked counts one Q2 blocked-transition (§4.5).
func RecordQ2Blocked() {
	q2BlockedTotal.Inc()
}

// SetQ3Stalled sets the current count of Q3-stalled sessions.
func SetQ3Stalled(n int) {
	q3StalledGauge.Set(float64(n))
}

// SetLinksStuck sets the current count of links flagged stuck for the
// given reason ("zero_credit" or "delayed_delivery", per the Detector).
func SetLinksStuck(reason string, n int) {
	linksStuckGauge.WithLabelValues(reason).Set(float64(n))
}
