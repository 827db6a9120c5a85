package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "kia_engine"

// Live-data pipeline metrics.
var (
	UpstreamRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upstream_requests_total",
		Help:      "Upstream API requests by outcome.",
	}, []string{"endpoint", "outcome"})

	UpstreamRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "upstream_request_duration_seconds",
		Help:      "Upstream API request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"endpoint"})

	PollsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "polls_total",
		Help:      "Poll rounds by result (matched, empty).",
	}, []string{"result"})

	ActivePollers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_pollers",
		Help:      "Parent routes currently being polled.",
	})

	ScheduledJobs = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "scheduled_jobs",
		Help:      "Entries waiting in the timing queue.",
	})

	FeedUpdatesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "feed_updates_total",
		Help:      "Realtime feed replacements.",
	})

	FeedEntities = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "feed_entities",
		Help:      "Entities in the current realtime feed.",
	})
)

// Bundle pipeline metrics.
var (
	BundleBuildsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bundle_builds_total",
		Help:      "Static bundle build runs by outcome (written, unchanged, error).",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(
		UpstreamRequestsTotal,
		UpstreamRequestDuration,
		PollsTotal,
		ActivePollers,
		ScheduledJobs,
		FeedUpdatesTotal,
		FeedEntities,
		BundleBuildsTotal,
	)
}
