package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's prometheus counters.
type Metrics struct {
	registry *prometheus.Registry

	EventsApplied    *prometheus.CounterVec
	DuplicatesSeen   prometheus.Counter
	StaleStatusDrops prometheus.Counter
	OrphansBuffered  prometheus.Counter
	OrphansFlushed   prometheus.Counter
	OrphansExpired   prometheus.Counter
	OrphansEvicted   prometheus.Counter
	ActionsResolved  prometheus.Counter
	ActionsFailed    prometheus.Counter
}

// New creates the counter set on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		EventsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatsync_events_applied_total",
			Help: "Normalized remote events applied, by kind.",
		}, []string{"kind"}),
		DuplicatesSeen: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatsync_duplicate_events_total",
			Help: "Events absorbed by idempotent merge with no state change.",
		}),
		StaleStatusDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatsync_stale_status_drops_total",
			Help: "Status events ignored because they would regress read to delivered.",
		}),
		OrphansBuffered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatsync_orphans_buffered_total",
			Help: "Events buffered because they referenced an unknown chat or message.",
		}),
		OrphansFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatsync_orphans_flushed_total",
			Help: "Buffered orphan events replayed after their reference arrived.",
		}),
		OrphansExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatsync_orphans_expired_total",
			Help: "Buffered orphan events dropped after the retry budget.",
		}),
		OrphansEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatsync_orphans_evicted_total",
			Help: "Buffered orphan events evicted because the buffer hit its cap.",
		}),
		ActionsResolved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatsync_actions_resolved_total",
			Help: "Optimistic actions confirmed by the backend.",
		}),
		ActionsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatsync_actions_failed_total",
			Help: "Optimistic actions rolled back after a failed write.",
		}),
	}
	reg.MustRegister(
		m.EventsApplied, m.DuplicatesSeen, m.StaleStatusDrops,
		m.OrphansBuffered, m.OrphansFlushed, m.OrphansExpired, m.OrphansEvicted,
		m.ActionsResolved, m.ActionsFailed,
	)
	return m
}

// Handler returns an HTTP handler serving the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
