// Package observability carries the client's prometheus metrics and the
// optional diagnostics HTTP surface.
package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	framesIn = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "roomwire",
			Subsystem: "session",
			Name:      "frames_in_total",
			Help:      "Inbound frames decoded.",
		},
		[]string{"room"},
	)
	framesOut = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "roomwire",
			Subsystem: "session",
			Name:      "frames_out_total",
			Help:      "Outbound frames sent.",
		},
		[]string{"room", "kind"},
	)
	ackFlushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "roomwire",
			Subsystem: "session",
			Name:      "ack_flushes_total",
			Help:      "Standalone acknowledgment frames flushed.",
		},
		[]string{"room"},
	)
	connectRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "roomwire",
			Subsystem: "session",
			Name:      "connect_retries_total",
			Help:      "Transient-overload connect retries.",
		},
		[]string{"room"},
	)
	rpcTimeouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "roomwire",
			Subsystem: "session",
			Name:      "rpc_timeouts_total",
			Help:      "Callback RPCs that expired without a response.",
		},
		[]string{"room"},
	)
	openSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "roomwire",
			Subsystem: "session",
			Name:      "open",
			Help:      "Sessions currently open.",
		},
	)
	uploadsBlocked = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "roomwire",
			Subsystem: "upload",
			Name:      "blocked_total",
			Help:      "Upload-key requests delayed by flood control.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			framesIn, framesOut, ackFlushes, connectRetries,
			rpcTimeouts, openSessions, uploadsBlocked,
		)
	})
}

// SessionMetrics records per-room protocol counters. A nil receiver is a
// no-op so sessions can run unmetered.
type SessionMetrics struct {
	room string
}

func NewSessionMetrics(room string) *SessionMetrics {
	RegisterMetrics()
	return &SessionMetrics{room: room}
}

func (m *SessionMetrics) FrameIn() {
	if m == nil {
		return
	}
	framesIn.WithLabelValues(m.room).Inc()
}

func (m *SessionMetrics) FrameOut(kind string) {
	if m == nil {
		return
	}
	framesOut.WithLabelValues(m.room, kind).Inc()
}

func (m *SessionMetrics) AckFlushed() {
	if m == nil {
		return
	}
	ackFlushes.WithLabelValues(m.room).Inc()
}

func (m *SessionMetrics) ConnectRetry() {
	if m == nil {
		return
	}
	connectRetries.WithLabelValues(m.room).Inc()
}

func (m *SessionMetrics) RPCTimeout() {
	if m == nil {
		return
	}
	rpcTimeouts.WithLabelValues(m.room).Inc()
}

func (m *SessionMetrics) SessionOpened() {
	if m == nil {
		return
	}
	openSessions.Inc()
}

func (m *SessionMetrics) SessionClosed() {
	if m == nil {
		return
	}
	openSessions.Dec()
}

// UploadBlocked records one flood-control delay; it is room-agnostic
// because upload keys are acquired outside any one session.
func UploadBlocked() {
	uploadsBlocked.Inc()
}
