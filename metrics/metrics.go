// Package metrics provides the Prometheus collectors of the FTSO provider.
// Collectors register with the default registry on package load and are
// served by the provider's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ftso"

var (
	// === Indexer ===

	// DataAvailability counts indexer range queries by query kind and result
	DataAvailability = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "range_queries_total",
			Help:      "Indexer range queries by method and availability status",
		},
		[]string{"method", "status"}, // submit1, submit2, submitSignatures, relay / OK, NOT_OK, TIMEOUT_OK
	)

	// IndexerHighestTimestamp tracks the newest block timestamp the indexer has seen
	IndexerHighestTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "highest_timestamp_seconds",
			Help:      "Timestamp of the newest indexed block",
		},
	)

	// SkippedMessages counts protocol messages dropped while assembling round data
	SkippedMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "data",
			Name:      "skipped_messages_total",
			Help:      "Submissions or messages skipped by reason",
		},
		[]string{"reason"}, // decode, not_eligible, late_reveal, invalid_reveal, not_finalizable
	)

	// === Reward epochs ===

	// RewardEpochBuilds counts reward epoch snapshot constructions by result
	RewardEpochBuilds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "reward_epoch_builds_total",
			Help:      "Reward epoch snapshot builds by result",
		},
		[]string{"result"}, // ok, not_found, inconsistent, error
	)

	// CachedRewardEpochs tracks the number of reward epoch snapshots held in memory
	CachedRewardEpochs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "cached_reward_epochs",
			Help:      "Reward epoch snapshots currently cached",
		},
	)

	// === Rounds ===

	// RoundsProcessed counts scheduler ticks by outcome
	RoundsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "rounds_processed_total",
			Help:      "Voting rounds processed by the scheduler by outcome",
		},
		[]string{"outcome"}, // ok, not_ready, error
	)

	// LastResultRound tracks the last voting round a result was computed for
	LastResultRound = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "last_result_round",
			Help:      "Last voting round with a computed result",
		},
	)

	// SecureRandom tracks whether the last computed round random is secure (1) or not (0)
	SecureRandom = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "secure_random",
			Help:      "Whether the last computed random is secure (1=secure, 0=not secure)",
		},
	)

	// === Rewards ===

	// ClaimsGenerated counts merged reward claims by kind
	ClaimsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rewards",
			Name:      "claims_total",
			Help:      "Merged reward claims generated by claim kind",
		},
		[]string{"kind"}, // fixed, weighted, penalty
	)

	// ConservationViolations counts reward epochs whose claims did not add up to the offers
	ConservationViolations = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rewards",
			Name:      "conservation_violations_total",
			Help:      "Reward epoch calculations aborted by a conservation check",
		},
	)

	// === HTTP ===

	// HTTPRequests counts API requests by route and status code
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Provider API requests by route and status code",
		},
		[]string{"route", "code"},
	)

	// HTTPDuration observes API request latency by route
	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Provider API request latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// PriceSourceRequests counts outgoing price source calls by result
	PriceSourceRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pricefeed",
			Name:      "requests_total",
			Help:      "Price source requests by result",
		},
		[]string{"source", "result"},
	)
)
