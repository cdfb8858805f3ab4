// Package metrics exposes the ingestion Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PollPasses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_poll_passes_total",
		Help: "Poll passes by outcome (completed, skipped, failed)",
	}, []string{"outcome"})

	PollPassDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ingest_poll_pass_duration_seconds",
		Help:    "Duration of a full poll pass",
		Buckets: prometheus.DefBuckets,
	})

	AccountSessions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_account_sessions_total",
		Help: "Mailbox sessions by resulting fetch status",
	}, []string{"status"})

	MessagesFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_messages_fetched_total",
		Help: "Messages seen by mailbox sessions by handler outcome (handled, failed)",
	}, []string{"outcome"})

	MessagesIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_messages_stored_total",
		Help: "Messages persisted by source channel",
	}, []string{"channel"})

	MessagesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_messages_dropped_total",
		Help: "Messages not persisted by reason (filtered, duplicate, parse_error)",
	}, []string{"reason"})

	EnqueuePublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingest_enqueue_published_total",
		Help: "Messages handed to the downstream queue",
	})

	EnqueueFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingest_enqueue_failures_total",
		Help: "Failed queue hand-offs; the message stays persisted",
	})
)
