package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "onvifeye_notifications_total",
		Help: "Normalized detection notifications by camera and disposition",
	}, []string{"camera", "result"})

	SessionsStartedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "onvifeye_event_sessions_started_total",
		Help: "Event sessions opened by the correlator",
	}, []string{"camera", "event"})

	SessionsClosedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "onvifeye_event_sessions_closed_total",
		Help: "Event sessions closed, by close reason (expired, negated, shutdown)",
	}, []string{"camera", "reason"})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "onvifeye_event_sessions_active",
		Help: "Event sessions currently active across all cameras",
	})

	CapturesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "onvifeye_captures_total",
		Help: "Capture task outcomes by kind (video, still) and result",
	}, []string{"camera", "kind", "result"})

	HandlerInvocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "onvifeye_handler_invocations_total",
		Help: "External handler invocations by result",
	}, []string{"camera", "result"})

	PullFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "onvifeye_pull_failures_total",
		Help: "Pull-point transport failures that triggered a reconnect",
	}, []string{"camera"})
)
