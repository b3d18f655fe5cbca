package coordinator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "browsetrace_sessions_started_total",
		Help: "Recording sessions that reached the recording state.",
	}, []string{"mode"})

	sessionsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "browsetrace_sessions_failed_total",
		Help: "Session starts that unwound, by reason.",
	}, []string{"reason"})

	sessionsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "browsetrace_sessions_completed_total",
		Help: "Recording sessions that were stopped.",
	}, []string{"mode"})

	sessionActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "browsetrace_session_active",
		Help: "1 while a session occupies the coordinator.",
	})

	eventsForwarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "browsetrace_events_forwarded_total",
		Help: "Interaction events accepted and forwarded to the recording sandbox.",
	})

	deliveriesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "browsetrace_deliveries_dropped_total",
		Help: "Fire-and-forget messages the transport could not deliver.",
	}, []string{"type"})

	crashRecoveries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "browsetrace_crash_recoveries_total",
		Help: "Recording sessions rehydrated from the persisted snapshot.",
	})
)
