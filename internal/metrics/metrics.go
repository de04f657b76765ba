// Package metrics exposes Prometheus instrumentation for the telephony
// core. Collectors register on the default registry; whether anything
// scrapes them is up to the embedding process.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveDialogs tracks currently established SIP dialogs.
	ActiveDialogs = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "voicegate",
		Subsystem: "sip",
		Name:      "active_dialogs",
		Help:      "Number of currently active SIP dialogs.",
	})

	// DialogsTotal counts dialogs by direction and final result.
	DialogsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "voicegate",
		Subsystem: "sip",
		Name:      "dialogs_total",
		Help:      "Total SIP dialogs by direction and result.",
	}, []string{"direction", "result"})

	// ActiveSessions tracks currently active bridged sessions.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "voicegate",
		Subsystem: "b2bua",
		Name:      "active_sessions",
		Help:      "Number of currently active bridged sessions.",
	})

	// RTPPacketsSent counts outbound RTP packets across all endpoints.
	RTPPacketsSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "voicegate",
		Subsystem: "rtp",
		Name:      "packets_sent_total",
		Help:      "Total RTP packets transmitted.",
	})

	// RTPPacketsReceived counts inbound RTP packets across all endpoints.
	RTPPacketsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "voicegate",
		Subsystem: "rtp",
		Name:      "packets_received_total",
		Help:      "Total RTP packets received.",
	})

	// RTPPacketsLost counts inbound packets detected as lost.
	RTPPacketsLost = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "voicegate",
		Subsystem: "rtp",
		Name:      "packets_lost_total",
		Help:      "Total inbound RTP packets detected as lost.",
	})

	// UtterancesTotal counts speech segments emitted by the segmenter.
	UtterancesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "voicegate",
		Subsystem: "audio",
		Name:      "utterances_total",
		Help:      "Total detected utterances.",
	})
)
