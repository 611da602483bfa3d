package main

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/Polkawatch/substrate-archive/internal/admin"
	"github.com/Polkawatch/substrate-archive/internal/alert"
	"github.com/Polkawatch/substrate-archive/internal/bridge"
	"github.com/Polkawatch/substrate-archive/internal/chain/substrate"
	"github.com/Polkawatch/substrate-archive/internal/config"
	"github.com/Polkawatch/substrate-archive/internal/decode"
	"github.com/Polkawatch/substrate-archive/internal/metrics"
	"github.com/Polkawatch/substrate-archive/internal/pipeline"
	"github.com/Polkawatch/substrate-archive/internal/pipeline/aggregator"
	"github.com/Polkawatch/substrate-archive/internal/pipeline/indexer"
	"github.com/Polkawatch/substrate-archive/internal/pipeline/timestamper"
	"github.com/Polkawatch/substrate-archive/internal/pipeline/writer"
	"github.com/Polkawatch/substrate-archive/internal/store/postgres"
	redispkg "github.com/Polkawatch/substrate-archive/internal/store/redis"
	"github.com/Polkawatch/substrate-archive/internal/tracing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

const (
	serviceName = "substrate-archive"

	// dbPoolExhaustionRatio is the in-use share of MaxOpenConnections above
	// which a DB_POOL alert is raised.
	dbPoolExhaustionRatio = 0.8
	readinessTimeout      = 2 * time.Second
)

var newStreamFactory = func(redisURL string) (redispkg.MessageTransport, error) { return redispkg.NewStream(redisURL) }

type dbStatsProvider interface {
	Stats() sql.DBStats
}

type dbPoolStatsGauges struct {
	open         *prometheus.GaugeVec
	inUse        *prometheus.GaugeVec
	idle         *prometheus.GaugeVec
	waitCount    *prometheus.GaugeVec
	waitDuration *prometheus.GaugeVec
}

// collectDBPoolStats samples db into gauges and reports whether the pool is
// close to exhaustion.
func collectDBPoolStats(db dbStatsProvider, chainName string, gauges dbPoolStatsGauges) (stats sql.DBStats, nearExhaustion bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("db pool stats collection panicked: %v", r)
		}
	}()
	if db == nil {
		return stats, false, fmt.Errorf("db stats provider is nil")
	}

	stats = db.Stats()
	gauges.open.WithLabelValues(chainName).Set(float64(stats.OpenConnections))
	gauges.inUse.WithLabelValues(chainName).Set(float64(stats.InUse))
	gauges.idle.WithLabelValues(chainName).Set(float64(stats.Idle))
	gauges.waitCount.WithLabelValues(chainName).Set(float64(stats.WaitCount))
	gauges.waitDuration.WithLabelValues(chainName).Set(stats.WaitDuration.Seconds())

	if stats.MaxOpenConnections > 0 {
		nearExhaustion = float64(stats.InUse)/float64(stats.MaxOpenConnections) > dbPoolExhaustionRatio
	}
	return stats, nearExhaustion, nil
}

func startDBPoolStatsPump(ctx context.Context, db dbStatsProvider, chainName string, intervalMS int, alerter alert.Alerter, logger *slog.Logger) {
	if db == nil || intervalMS <= 0 {
		return
	}

	gauges := dbPoolStatsGauges{
		open:         metrics.DBPoolOpen,
		inUse:        metrics.DBPoolInUse,
		idle:         metrics.DBPoolIdle,
		waitCount:    metrics.DBPoolWaitCount,
		waitDuration: metrics.DBPoolWaitDurationSeconds,
	}

	sample := func() {
		stats, near, err := collectDBPoolStats(db, chainName, gauges)
		if err != nil {
			logger.Warn("failed to collect db pool stats", "error", err)
			return
		}
		if near && alerter != nil {
			pct := stats.InUse * 100 / stats.MaxOpenConnections
			if err := alerter.Send(ctx, alert.Alert{
				Type:      alert.AlertTypeDBPool,
				Chain:     chainName,
				Component: "postgres",
				Title:     "DB connection pool near exhaustion",
				Message:   fmt.Sprintf("Pool usage: %d/%d (%d%%)", stats.InUse, stats.MaxOpenConnections, pct),
				Fields:    map[string]string{"wait_count": strconv.FormatInt(stats.WaitCount, 10)},
			}); err != nil {
				logger.Warn("db pool alert failed", "error", err)
			}
		}
	}

	ticker := time.NewTicker(time.Duration(intervalMS) * time.Millisecond)
	go func() {
		defer ticker.Stop()
		sample()
		for {
			select {
			case <-ctx.Done():
				logger.Info("db pool stats sampler stopped", "cause", "context_done")
				return
			case <-ticker.C:
				sample()
			}
		}
	}()
}

func resolveStreamBackend(cfg *config.Config, logger *slog.Logger) (redispkg.MessageTransport, error) {
	if !cfg.Stream.Enabled {
		return nil, nil
	}

	redisURL := strings.TrimSpace(cfg.Redis.URL)
	if redisURL == "" {
		return nil, fmt.Errorf("initialize redis stream transport: redis URL is empty")
	}

	stream, err := newStreamFactory(redisURL)
	if err != nil {
		return nil, fmt.Errorf("initialize redis stream transport: %w", err)
	}
	if stream == nil {
		return nil, fmt.Errorf("initialize redis stream transport: backend is nil")
	}

	logger.Info("redis stream transport enabled",
		"redis_url", maskCredentials(cfg.Redis.URL),
		"stream_namespace", cfg.Stream.Namespace,
		"stream_session_id", cfg.Stream.SessionID,
	)
	return stream, nil
}

func buildAlerter(cfg *config.Config, logger *slog.Logger) alert.Alerter {
	var alerters []alert.Alerter
	if cfg.Alert.SlackWebhookURL != "" {
		alerters = append(alerters, alert.NewSlackAlerter(cfg.Alert.SlackWebhookURL))
	}
	if cfg.Alert.WebhookURL != "" {
		alerters = append(alerters, alert.NewWebhookAlerter(cfg.Alert.WebhookURL))
	}
	if len(alerters) == 0 {
		return &alert.NoopAlerter{}
	}
	return alert.NewMultiAlerter(cfg.Alert.Cooldown, logger, alerters...)
}

func pipelineConfig(cfg *config.Config, stream redispkg.MessageTransport, alerter alert.Alerter) pipeline.Config {
	return pipeline.Config{
		Chain:              cfg.Indexer.ChainName,
		VersionCacheShards: cfg.Indexer.VersionCacheShards,
		Indexer: indexer.Config{
			Interval:         cfg.Indexer.CrawlInterval,
			MaxBlocksPerPass: cfg.Indexer.MaxBlocksPerPass,
		},
		Aggregator: aggregator.Config{
			MailboxSize:   cfg.Aggregator.MailboxSize,
			MaxPending:    cfg.Aggregator.MaxPending,
			FlushInterval: cfg.Aggregator.FlushInterval,
		},
		Writer: writer.Config{
			RetryMaxAttempts:    cfg.Writer.RetryMaxAttempts,
			TimestampRetryMax:   cfg.Writer.TimestampRetryMax,
			TimestampRetryDelay: cfg.Writer.TimestampRetryDelay,
		},
		Timestamper: timestamper.Config{
			SweepInterval: cfg.Timestamp.SweepInterval,
			SweepBatch:    cfg.Timestamp.SweepLimit,
		},
		TimestampEnabled:       cfg.Timestamp.Enabled,
		PoolSize:               cfg.Writer.PoolSize,
		PoolMailboxSize:        cfg.Writer.MailboxSize,
		PoolMaxRestarts:        cfg.Writer.MaxRestarts,
		StreamTransportEnabled: stream != nil,
		StreamBackend:          stream,
		StreamNamespace:        cfg.Stream.Namespace,
		StreamSessionID:        cfg.Stream.SessionID,
		Alerter:                alerter,
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(cfg.Log.Level)}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("archive exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("archive shut down gracefully")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting substrate-archive",
		"chain", cfg.Indexer.ChainName,
		"backend_rpc", maskCredentials(cfg.Backend.RPCURL),
		"db", maskCredentials(cfg.DB.URL),
		"crawl_interval", cfg.Indexer.CrawlInterval,
		"writers", cfg.Writer.PoolSize,
		"bridge_workers", cfg.Bridge.Workers,
	)

	tracingEndpoint := ""
	if cfg.Tracing.Enabled {
		tracingEndpoint = cfg.Tracing.Endpoint
	}
	shutdownTracing, err := tracing.Init(context.Background(), serviceName, tracingEndpoint, cfg.Tracing.Insecure, cfg.Tracing.SampleRatio)
	if err != nil {
		return fmt.Errorf("initialize tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown error", "error", err)
		}
	}()
	if cfg.Tracing.Enabled {
		logger.Info("tracing enabled", "endpoint", cfg.Tracing.Endpoint, "sample_ratio", cfg.Tracing.SampleRatio)
	}

	db, err := postgres.New(postgres.Config{
		URL:                cfg.DB.URL,
		MaxOpenConns:       cfg.DB.MaxOpenConns,
		MaxIdleConns:       cfg.DB.MaxIdleConns,
		ConnMaxLifetime:    cfg.DB.ConnMaxLifetime,
		StatementTimeoutMS: cfg.DB.StatementTimeoutMS,
	})
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	if err := db.RunMigrations(context.Background(), cfg.DB.MigrationsDir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("connected to database")

	pallets, err := decode.LoadPallets(cfg.Decode.PalletsFile)
	if err != nil {
		return err
	}

	stream, err := resolveStreamBackend(cfg, logger)
	if err != nil {
		return err
	}
	if stream != nil {
		defer stream.Close()
	}

	client := substrate.NewClient(substrate.ClientConfig{
		URL:              cfg.Backend.RPCURL,
		Chain:            cfg.Indexer.ChainName,
		Timeout:          cfg.Backend.Timeout,
		RPS:              cfg.Backend.RPS,
		Burst:            cfg.Backend.Burst,
		BreakerFailures:  cfg.Backend.BreakerFailures,
		BreakerOpenAfter: cfg.Backend.BreakerOpen,
	}, logger)
	backend := substrate.NewBackend(client, logger)

	br := bridge.New(cfg.Bridge.Workers, cfg.Bridge.QueueSize, logger)
	defer br.Close()

	alerter := buildAlerter(cfg, logger)
	repos := writer.Repos{
		Blocks:    postgres.NewBlockRepo(db.DB),
		Inherents: postgres.NewInherentRepo(db.DB),
	}
	p := pipeline.New(pipelineConfig(cfg, stream, alerter), backend, br, db, repos, decode.New(pallets), logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runHealthServer(gCtx, cfg.Server, newHTTPHandler(cfg.Server, p, &healthChecker{db: db.DB, pipeline: p}, logger), logger)
	})

	g.Go(func() error {
		// The pipeline returns nil on shutdown; stop the rest of the process
		// either way.
		defer stop()
		return p.Run(gCtx)
	})

	startDBPoolStatsPump(gCtx, db, cfg.Indexer.ChainName, cfg.DB.PoolStatsIntervalMS, alerter, logger)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// healthChecker backs /readyz: the database must answer and the pipeline
// must be healthy.
type healthChecker struct {
	db       *sql.DB
	pipeline interface{ Health() *pipeline.Health }
}

func (h *healthChecker) check(ctx context.Context) error {
	if h.db == nil {
		return fmt.Errorf("database not initialized")
	}
	ctx, cancel := context.WithTimeout(ctx, readinessTimeout)
	defer cancel()
	if err := h.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database unreachable: %w", err)
	}
	if h.pipeline != nil && !h.pipeline.Health().Healthy() {
		return fmt.Errorf("pipeline %s", h.pipeline.Health().Snapshot().Status)
	}
	return nil
}

func newHTTPHandler(cfg config.ServerConfig, p *pipeline.Pipeline, checker *healthChecker, logger *slog.Logger) http.Handler {
	protect := func(h http.Handler) http.Handler {
		if cfg.AuthUser == "" {
			return h
		}
		return basicAuthMiddleware(cfg.AuthUser, cfg.AuthPassword, h)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			logger.Warn("failed to write health response", "error", err)
		}
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := checker.check(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})
	mux.Handle("/metrics", protect(promhttp.Handler()))

	if cfg.AdminEnabled && p != nil {
		rl := admin.NewRateLimitMiddleware(logger)
		api := admin.NewServer(p, logger).Handler()
		mux.Handle("/admin/", protect(rl.Wrap(admin.AuditMiddleware(logger, api))))
	}
	return mux
}

func basicAuthMiddleware(user, password string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, pw, ok := r.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 ||
			subtle.ConstantTimeCompare([]byte(pw), []byte(password)) != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="metrics"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// maskCredentials hides the userinfo part of a connection URL for logging.
func maskCredentials(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	masked := *u
	masked.User = nil
	rest := masked.String()
	prefix := u.Scheme + "://"
	return prefix + "***@" + strings.TrimPrefix(rest, prefix)
}

func runHealthServer(ctx context.Context, cfg config.ServerConfig, handler http.Handler, logger *slog.Logger) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HealthPort),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.Warn("health server shutdown error", "error", err)
		}
	}()

	logger.Info("health server started", "port", cfg.HealthPort, "admin", cfg.AdminEnabled)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("health server: %w", err)
	}
	return nil
}
