package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Indexer
	IndexerCrawlsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "blocks",
		Name:      "crawls_total",
		Help:      "Total crawl passes executed, by mode (reindex or crawl)",
	}, []string{"chain", "mode"})

	IndexerCrawlErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "blocks",
		Name:      "crawl_errors_total",
		Help:      "Total crawl passes that failed",
	}, []string{"chain", "mode"})

	IndexerBlocksFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "blocks",
		Name:      "fetched_total",
		Help:      "Total blocks fetched from the backend",
	}, []string{"chain"})

	IndexerCrawlLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "indexer",
		Subsystem: "blocks",
		Name:      "crawl_duration_seconds",
		Help:      "Duration of a single crawl pass",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"chain", "mode"})

	IndexerLastMax = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "indexer",
		Subsystem: "blocks",
		Name:      "last_max",
		Help:      "Highest block number the indexer considers handled",
	}, []string{"chain"})

	// Aggregator
	AggregatorBatchesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "aggregator",
		Name:      "batches_received_total",
		Help:      "Total block batches received by the aggregator",
	}, []string{"chain"})

	AggregatorBlocksPending = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "indexer",
		Subsystem: "aggregator",
		Name:      "blocks_pending",
		Help:      "Blocks buffered by the aggregator awaiting a writer",
	}, []string{"chain"})

	AggregatorFlushesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "aggregator",
		Name:      "flushes_total",
		Help:      "Total aggregator flushes to the writer pool",
	}, []string{"chain"})

	// Writer
	WriterBlocksWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "writer",
		Name:      "blocks_written_total",
		Help:      "Total blocks persisted",
	}, []string{"chain"})

	WriterInherentsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "writer",
		Name:      "inherents_written_total",
		Help:      "Total extrinsic rows persisted",
	}, []string{"chain"})

	WriterErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "writer",
		Name:      "errors_total",
		Help:      "Total writer errors, by message kind",
	}, []string{"chain", "kind"})

	WriterLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "indexer",
		Subsystem: "writer",
		Name:      "write_duration_seconds",
		Help:      "Duration of a single writer transaction",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"chain", "kind"})

	// Timestamper
	TimestampsUpdated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "timestamper",
		Name:      "updated_total",
		Help:      "Total block rows whose time column was filled",
	}, []string{"chain"})

	TimestampRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "timestamper",
		Name:      "retries_total",
		Help:      "Total timestamp updates re-enqueued because the block row was absent",
	}, []string{"chain"})

	TimestampErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "timestamper",
		Name:      "errors_total",
		Help:      "Total timestamp lookups or decodes that failed",
	}, []string{"chain"})

	// Bridge
	BridgeTasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "bridge",
		Name:      "tasks_total",
		Help:      "Total blocking tasks executed by the bridge, by outcome",
	}, []string{"status"})

	BridgeInflight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "indexer",
		Subsystem: "bridge",
		Name:      "inflight",
		Help:      "Blocking tasks currently executing",
	})

	// Actor pool
	PoolMessagesDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "pool",
		Name:      "messages_dispatched_total",
		Help:      "Total messages dispatched to pool members",
	}, []string{"pool"})

	PoolMemberRestarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "pool",
		Name:      "member_restarts_total",
		Help:      "Total pool member restarts after a panic",
	}, []string{"pool"})

	PoolMembersAlive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "indexer",
		Subsystem: "pool",
		Name:      "members_alive",
		Help:      "Pool members currently running",
	}, []string{"pool"})

	// Runtime version cache
	VersionCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "cache",
		Name:      "runtime_version_hits_total",
		Help:      "Total runtime version cache hits",
	}, []string{"chain"})

	VersionCacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "cache",
		Name:      "runtime_version_misses_total",
		Help:      "Total runtime version cache misses",
	}, []string{"chain"})

	// Stream transport
	StreamMessagesPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "stream",
		Name:      "messages_published_total",
		Help:      "Total batches published to the stream transport",
	}, []string{"stream"})

	StreamMessagesConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "stream",
		Name:      "messages_consumed_total",
		Help:      "Total batches consumed from the stream transport",
	}, []string{"stream"})

	// Database pool
	DBPoolOpen = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "indexer",
		Subsystem: "postgres",
		Name:      "db_pool_open",
		Help:      "Current number of open PostgreSQL connections in the pool",
	}, []string{"chain"})

	DBPoolInUse = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "indexer",
		Subsystem: "postgres",
		Name:      "db_pool_in_use",
		Help:      "Current number of in-use PostgreSQL connections in the pool",
	}, []string{"chain"})

	DBPoolIdle = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "indexer",
		Subsystem: "postgres",
		Name:      "db_pool_idle",
		Help:      "Current number of idle PostgreSQL connections in the pool",
	}, []string{"chain"})

	DBPoolWaitCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "indexer",
		Subsystem: "postgres",
		Name:      "db_pool_wait_count",
		Help:      "Cumulative count of waits for PostgreSQL connections from pool",
	}, []string{"chain"})

	DBPoolWaitDurationSeconds = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "indexer",
		Subsystem: "postgres",
		Name:      "db_pool_wait_duration_seconds",
		Help:      "Latest PostgreSQL pool wait duration in seconds",
	}, []string{"chain"})

	// RPC
	RPCRateLimitWaits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "rpc",
		Name:      "rate_limit_waits_total",
		Help:      "Total times RPC calls waited for rate limiter",
	}, []string{"chain"})

	RPCCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "rpc",
		Name:      "calls_total",
		Help:      "Total backend RPC calls, by method and status",
	}, []string{"chain", "method", "status"})

	RPCLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "indexer",
		Subsystem: "rpc",
		Name:      "call_duration_seconds",
		Help:      "Backend RPC call duration",
		Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"chain", "method"})

	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "indexer",
		Subsystem: "rpc",
		Name:      "circuit_breaker_state",
		Help:      "Backend circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"chain"})

	// Pipeline health
	PipelineHealthStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "indexer",
		Subsystem: "pipeline",
		Name:      "health_status",
		Help:      "Pipeline health status (0=UNKNOWN, 1=HEALTHY, 2=UNHEALTHY, 3=INACTIVE)",
	}, []string{"chain"})

	PipelineConsecutiveFailures = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "indexer",
		Subsystem: "pipeline",
		Name:      "consecutive_failures",
		Help:      "Number of consecutive pipeline failures",
	}, []string{"chain"})

	// Alerts
	AlertsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "alert",
		Name:      "sent_total",
		Help:      "Total alerts sent",
	}, []string{"channel", "alert_type"})

	AlertsCooldownSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "alert",
		Name:      "cooldown_skipped_total",
		Help:      "Total alerts skipped due to cooldown",
	}, []string{"channel", "alert_type"})
)
