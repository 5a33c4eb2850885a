// Package metrics holds the Prometheus collectors of a hub session.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "spikehub"

// SessionMetrics contains all collectors exported by one Session.
type SessionMetrics struct {
	FramesReceived  *prometheus.CounterVec
	FramesSent      *prometheus.CounterVec
	ParseErrors     *prometheus.CounterVec
	PendingRequests prometheus.Gauge
	Responses       *prometheus.CounterVec
	UploadChunks    prometheus.Counter
	UploadBytes     prometheus.Counter
	UploadDuration  *prometheus.HistogramVec
	Disconnects     prometheus.Counter
}

func NewSessionMetrics() *SessionMetrics {
	return &SessionMetrics{
		FramesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "frames",
				Name:      "received_total",
				Help:      "Total number of decoded frames received from the hub",
			},
			[]string{"kind"},
		),
		FramesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "frames",
				Name:      "sent_total",
				Help:      "Total number of commands written to the hub",
			},
			[]string{"method"},
		),
		ParseErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "frames",
				Name:      "parse_errors_total",
				Help:      "Total number of frame texts that did not decode (benign=true for program console chatter)",
			},
			[]string{"benign"},
		),
		PendingRequests: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "requests",
				Name:      "pending",
				Help:      "Number of commands waiting for a response",
			},
		),
		Responses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "requests",
				Name:      "responses_total",
				Help:      "Total number of responses by match status (matched, unmatched)",
			},
			[]string{"status"},
		),
		UploadChunks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "upload",
				Name:      "chunks_total",
				Help:      "Total number of program chunks sent",
			},
		),
		UploadBytes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "upload",
				Name:      "bytes_total",
				Help:      "Total number of program bytes sent before base64 encoding",
			},
		),
		UploadDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "upload",
				Name:      "duration_seconds",
				Help:      "Program upload duration in seconds by outcome",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"outcome"},
		),
		Disconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "disconnects_total",
				Help:      "Total number of sessions torn down",
			},
		),
	}
}

func (m *SessionMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.FramesReceived,
		m.FramesSent,
		m.ParseErrors,
		m.PendingRequests,
		m.Responses,
		m.UploadChunks,
		m.UploadBytes,
		m.UploadDuration,
		m.Disconnects,
	}
}

// Register adds every collector to reg. Collectors already registered by an
// earlier session on the same registry are reused.
func (m *SessionMetrics) Register(reg prometheus.Registerer) error {
	for i, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			are, ok := err.(prometheus.AlreadyRegisteredError)
			if !ok {
				return fmt.Errorf("register session metric %d: %w", i, err)
			}
			m.adopt(i, are.ExistingCollector)
		}
	}

	return nil
}

func (m *SessionMetrics) adopt(i int, existing prometheus.Collector) {
	switch i {
	case 0:
		m.FramesReceived = existing.(*prometheus.CounterVec)
	case 1:
		m.FramesSent = existing.(*prometheus.CounterVec)
	case 2:
		m.ParseErrors = existing.(*prometheus.CounterVec)
	case 3:
		m.PendingRequests = existing.(prometheus.Gauge)
	case 4:
		m.Responses = existing.(*prometheus.CounterVec)
	case 5:
		m.UploadChunks = existing.(prometheus.Counter)
	case 6:
		m.UploadBytes = existing.(prometheus.Counter)
	case 7:
		m.UploadDuration = existing.(*prometheus.HistogramVec)
	case 8:
		m.Disconnects = existing.(prometheus.Counter)
	}
}
