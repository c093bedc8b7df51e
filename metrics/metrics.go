// Package metrics holds the Prometheus instruments exported by the transport
// core. Every method is safe to call on a nil *Metrics, so components can take
// an optional metrics dependency without guarding each call.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "gamenet"

// Dispatch fault reasons.
const (
	FaultUnknownOpcode = "unknown_opcode"
	FaultHandlerError  = "handler_error"
)

// Metrics contains the server's Prometheus instruments.
type Metrics struct {
	ActiveSessions    prometheus.Gauge
	SessionsAccepted  prometheus.Counter
	HandshakeFailures prometheus.Counter
	FramesReceived    *prometheus.CounterVec
	FramesSent        *prometheus.CounterVec
	DispatchFaults    *prometheus.CounterVec
	UnknownUDPIDs     prometheus.Counter
	HandlerDuration   *prometheus.HistogramVec
}

// New creates the instruments and registers them with reg. Pass a fresh
// prometheus.NewRegistry() in tests to avoid duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Current number of registered sessions",
		}),
		SessionsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_accepted_total",
			Help:      "Total number of TCP connections accepted",
		}),
		HandshakeFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshake_failures_total",
			Help:      "Total number of failed handshakes",
		}),
		FramesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Total number of messages received, by transport",
		}, []string{"transport"}),
		FramesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Total number of messages sent, by transport",
		}, []string{"transport"}),
		DispatchFaults: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_faults_total",
			Help:      "Total number of messages that could not be handled, by reason",
		}, []string{"reason"}),
		UnknownUDPIDs: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "udp_unknown_ids_total",
			Help:      "Total number of datagrams dropped for an unmapped session ID",
		}),
		HandlerDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handler_duration_seconds",
			Help:      "Time spent in opcode handlers, by transport",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		}, []string{"transport"}),
	}
}

// SessionOpened records an accepted connection that completed its handshake.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}

	m.ActiveSessions.Inc()
}

// SessionClosed records a registered session going away.
func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}

	m.ActiveSessions.Dec()
}

// Accepted records an accepted TCP connection.
func (m *Metrics) Accepted() {
	if m == nil {
		return
	}

	m.SessionsAccepted.Inc()
}

// HandshakeFailed records a rejected handshake.
func (m *Metrics) HandshakeFailed() {
	if m == nil {
		return
	}

	m.HandshakeFailures.Inc()
}

// Received records an inbound message on transport ("tcp" or "udp").
func (m *Metrics) Received(transport string) {
	if m == nil {
		return
	}

	m.FramesReceived.WithLabelValues(transport).Inc()
}

// Sent records an outbound message on transport.
func (m *Metrics) Sent(transport string) {
	if m == nil {
		return
	}

	m.FramesSent.WithLabelValues(transport).Inc()
}

// DispatchFault records a message that was dropped at the dispatch boundary.
func (m *Metrics) DispatchFault(reason string) {
	if m == nil {
		return
	}

	m.DispatchFaults.WithLabelValues(reason).Inc()
}

// UnknownUDPID records a datagram whose session ID is not mapped.
func (m *Metrics) UnknownUDPID() {
	if m == nil {
		return
	}

	m.UnknownUDPIDs.Inc()
}

// ObserveHandler records how long a handler ran for a message on transport.
func (m *Metrics) ObserveHandler(transport string, d time.Duration) {
	if m == nil {
		return
	}

	m.HandlerDuration.WithLabelValues(transport).Observe(d.Seconds())
}
