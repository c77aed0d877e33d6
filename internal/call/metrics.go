package call

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricLinksCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "huddle",
		Subsystem: "call",
		Name:      "links_created_total",
		Help:      "Peer links created, caller and callee side combined.",
	})
	metricLinksReaped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "huddle",
		Subsystem: "call",
		Name:      "links_reaped_total",
		Help:      "Peer links removed by the reconciler.",
	}, []string{"reason"})
	metricHandshakesInflight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "huddle",
		Subsystem: "call",
		Name:      "handshakes_inflight",
		Help:      "Handshake operations currently executing across all members.",
	})
	metricCandidatesQueued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "huddle",
		Subsystem: "call",
		Name:      "candidates_queued_total",
		Help:      "Remote ICE candidates buffered before their peer was ready.",
	})
	metricPresenterSwitches = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "huddle",
		Subsystem: "call",
		Name:      "presenter_switches_total",
		Help:      "Presenter changes decided by the selection policy.",
	})
)
