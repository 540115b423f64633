package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Batch pipeline counters and histograms, partitioned by asset kind.

var (
	// Batches
	BatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "batch",
		Name:      "total",
		Help:      "Total batch requests by outcome (success, partial, failed, rejected)",
	}, []string{"kind", "outcome"})

	BatchRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "batch",
		Name:      "rejections_total",
		Help:      "Batches rejected before any transaction was submitted, by stage",
	}, []string{"kind", "stage"})

	BatchRecipients = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "batch",
		Name:      "recipients_total",
		Help:      "Total recipients in batches that reached submission",
	}, []string{"kind"})

	BatchLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gateway",
		Subsystem: "batch",
		Name:      "duration_seconds",
		Help:      "End-to-end batch duration from validation to final confirmation",
		Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 90},
	}, []string{"kind"})

	// Chunks
	ChunksSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "chunk",
		Name:      "submissions_total",
		Help:      "Chunk submissions by result (ok, error, skipped)",
	}, []string{"kind", "result"})

	ChunkConfirmations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "chunk",
		Name:      "confirmations_total",
		Help:      "Terminal confirmation states of submitted chunks",
	}, []string{"kind", "status", "reason"})

	ChunkConfirmLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gateway",
		Subsystem: "chunk",
		Name:      "confirm_duration_seconds",
		Help:      "Time from submission to terminal confirmation state",
		Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
	}, []string{"kind"})

	ChunkOpCount = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gateway",
		Subsystem: "chunk",
		Name:      "instructions",
		Help:      "Instructions packed per transaction",
		Buckets:   prometheus.LinearBuckets(1, 1, 16),
	}, []string{"kind"})

	AccountsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "token",
		Name:      "accounts_created_total",
		Help:      "Associated token account creations included in submitted chunks",
	})

	// Quotes
	QuotesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "quote",
		Name:      "requests_total",
		Help:      "Quote estimates served",
	}, []string{"kind"})

	// RPC
	RPCCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "rpc",
		Name:      "calls_total",
		Help:      "Solana RPC calls by method and status classification",
	}, []string{"method", "status"})

	RPCRateLimitWaits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "rpc",
		Name:      "rate_limit_waits_total",
		Help:      "RPC calls that waited on the client-side rate limiter",
	}, []string{"network"})

	RPCCircuitState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gateway",
		Subsystem: "rpc",
		Name:      "circuit_state",
		Help:      "RPC circuit breaker state (0=closed, 1=open, 2=half-open)",
	})

	MintCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "cache",
		Name:      "mint_decimals_lookups_total",
		Help:      "Mint decimals cache lookups by result (hit, miss)",
	}, []string{"result"})

	// Persistence and idempotency
	LedgerWriteErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "store",
		Name:      "write_errors_total",
		Help:      "Batch audit ledger write failures by operation",
	}, []string{"operation"})

	IdempotencyRejections = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "idempotency",
		Name:      "duplicates_total",
		Help:      "Batch requests rejected because the idempotency key was already used",
	})

	// PostgreSQL connection pool
	DBPoolOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gateway",
		Subsystem: "postgres",
		Name:      "db_pool_open",
		Help:      "Open connections in the batch ledger pool",
	})

	DBPoolInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gateway",
		Subsystem: "postgres",
		Name:      "db_pool_in_use",
		Help:      "In-use connections in the batch ledger pool",
	})

	DBPoolIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gateway",
		Subsystem: "postgres",
		Name:      "db_pool_idle",
		Help:      "Idle connections in the batch ledger pool",
	})

	DBPoolWaitCount = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gateway",
		Subsystem: "postgres",
		Name:      "db_pool_wait_count",
		Help:      "Total number of connections waited for",
	})

	DBPoolWaitDurationSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gateway",
		Subsystem: "postgres",
		Name:      "db_pool_wait_duration_seconds",
		Help:      "Total time blocked waiting for a new connection",
	})

	// Alerts
	AlertsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "alert",
		Name:      "sent_total",
		Help:      "Alerts delivered by channel and type",
	}, []string{"channel", "type"})

	AlertsCooldownSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "alert",
		Name:      "cooldown_skipped_total",
		Help:      "Alerts suppressed by cooldown",
	}, []string{"channel", "type"})

	// HTTP
	HTTPRateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "http",
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the per-client rate limiter",
	}, []string{"path"})
)
