package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Profile cache
	ProfileCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatsync",
			Subsystem: "profile_cache",
			Name:      "lookups_total",
			Help:      "Profile lookups by outcome (hit, miss, expired)",
		},
		[]string{"outcome"},
	)

	ProfileFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatsync",
			Subsystem: "profile_cache",
			Name:      "fetches_total",
			Help:      "Network profile resolutions by source tier",
		},
		[]string{"source"},
	)

	// Live subscriptions
	ActiveSubscriptions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "chatsync",
			Subsystem: "live",
			Name:      "active_subscriptions",
			Help:      "Open live subscriptions by view",
		},
		[]string{"view"},
	)

	ListFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chatsync",
			Subsystem: "chat_list",
			Name:      "index_fallbacks_total",
			Help:      "Times the conversation list fell back to the unindexed query",
		},
	)

	// Sends
	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatsync",
			Subsystem: "chat_room",
			Name:      "sends_total",
			Help:      "Optimistic sends by result",
		},
		[]string{"result"},
	)

	PendingResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatsync",
			Subsystem: "chat_room",
			Name:      "pending_resolved_total",
			Help:      "Pending messages leaving the pending set, by reason",
		},
		[]string{"reason"},
	)

	HeadUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatsync",
			Subsystem: "head_cache",
			Name:      "updates_total",
			Help:      "Head cache updates by source and whether they applied",
		},
		[]string{"source", "applied"},
	)
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
