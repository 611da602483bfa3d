package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Polkawatch/substrate-archive/internal/actor"
	"github.com/Polkawatch/substrate-archive/internal/alert"
	"github.com/Polkawatch/substrate-archive/internal/bridge"
	"github.com/Polkawatch/substrate-archive/internal/chain"
	"github.com/Polkawatch/substrate-archive/internal/decode"
	"github.com/Polkawatch/substrate-archive/internal/pipeline/aggregator"
	"github.com/Polkawatch/substrate-archive/internal/pipeline/indexer"
	"github.com/Polkawatch/substrate-archive/internal/pipeline/timestamper"
	"github.com/Polkawatch/substrate-archive/internal/pipeline/writer"
	"github.com/Polkawatch/substrate-archive/internal/pool"
	"github.com/Polkawatch/substrate-archive/internal/runtimeversion"
	"github.com/Polkawatch/substrate-archive/internal/store"
	redisstream "github.com/Polkawatch/substrate-archive/internal/store/redis"
	"golang.org/x/sync/errgroup"
)

const (
	defaultShutdownTimeout = time.Minute
	alertTimeout           = 10 * time.Second
)

// ErrNotRunning is returned by operations that need a running pipeline.
var ErrNotRunning = errors.New("pipeline not running")

type Config struct {
	Chain              string
	VersionCacheShards int
	Indexer            indexer.Config
	Aggregator         aggregator.Config
	Writer             writer.Config
	Timestamper        timestamper.Config
	TimestampEnabled   bool
	PoolSize           int
	PoolMailboxSize    int
	PoolMaxRestarts    int
	UnhealthyThreshold int
	// ShutdownTimeout bounds how long downstream stages may keep draining
	// after the indexer stopped.
	ShutdownTimeout        time.Duration
	StreamTransportEnabled bool
	StreamBackend          redisstream.MessageTransport
	StreamNamespace        string
	StreamSessionID        string
	Alerter                alert.Alerter
}

// Pipeline wires the indexer, aggregator, timestamper and writer pool for
// one chain and runs them until the context ends or a stage fails.
type Pipeline struct {
	cfg     Config
	backend chain.Backend
	bridge  *bridge.Bridge
	db      store.TxBeginner
	repos   writer.Repos
	decoder *decode.Decoder
	logger  *slog.Logger
	health  *Health

	running  atomic.Pointer[stages]
	resolver *runtimeversion.Resolver
}

// stages holds the components of one Run, published for status readers.
type stages struct {
	indexer *indexer.Indexer
	writers *pool.Pool[writer.Message]
	storage *writer.Storage
}

func New(
	cfg Config,
	backend chain.Backend,
	br *bridge.Bridge,
	db store.TxBeginner,
	repos writer.Repos,
	decoder *decode.Decoder,
	logger *slog.Logger,
) *Pipeline {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if cfg.Alerter == nil {
		cfg.Alerter = &alert.NoopAlerter{}
	}
	cfg.Indexer.Chain = cfg.Chain
	cfg.Aggregator.Chain = cfg.Chain
	cfg.Writer.Chain = cfg.Chain
	cfg.Timestamper.Chain = cfg.Chain

	return &Pipeline{
		cfg:      cfg,
		backend:  backend,
		bridge:   br,
		db:       db,
		repos:    repos,
		decoder:  decoder,
		logger:   logger.With("component", "pipeline", "chain", cfg.Chain),
		health:   NewHealth(cfg.Chain, cfg.UnhealthyThreshold),
		resolver: runtimeversion.New(backend, br, cfg.VersionCacheShards, cfg.Chain, logger),
	}
}

func (p *Pipeline) Chain() string { return p.cfg.Chain }

func (p *Pipeline) Health() *Health { return p.health }

// Run blocks until ctx is cancelled or a stage fails. A panic escaping a
// stage is returned as an error.
func (p *Pipeline) Run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pipeline panic: %v\n%s", r, debug.Stack())
		}
		p.running.Store(nil)
	}()

	if p.cfg.StreamTransportEnabled && p.cfg.StreamBackend == nil {
		return fmt.Errorf("stream transport enabled but stream backend is not configured")
	}

	err = p.runStages(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		p.health.RecordFailure(err)
		return err
	}
	return nil
}

func (p *Pipeline) runStages(ctx context.Context) error {
	var writers *pool.Pool[writer.Message]
	requeue := actor.SenderFunc[writer.Message](func(ctx context.Context, m writer.Message) error {
		return writers.Send(ctx, m)
	})
	writers = pool.New[writer.Message](pool.Config{
		Name:         "writer",
		Size:         p.cfg.PoolSize,
		MailboxSize:  p.cfg.PoolMailboxSize,
		MaxRestarts:  p.cfg.PoolMaxRestarts,
		OnMemberLost: func(id int, cause any) { p.onWriterLost(ctx, writers, id, cause) },
	}, func(id int) pool.Handler[writer.Message] {
		return writer.New(id, p.cfg.Writer, p.db, p.repos, p.decoder, p.bridge, requeue, p.logger)
	}, p.logger)
	storage := writer.NewStorage(writers)

	var ts *timestamper.Timestamper
	var refs aggregator.RefSink
	if p.cfg.TimestampEnabled {
		ts = timestamper.New(p.cfg.Timestamper, p.backend, p.bridge, writers, storage, p.logger)
		refs = ts
	}

	forward := aggregator.ToPool(writers)
	streamName := p.streamName(boundaryAggregatorWriter)
	if p.cfg.StreamTransportEnabled {
		forward = p.streamForwarder(p.cfg.StreamBackend, streamName)
		p.logger.Info("pipeline stream transport active", "boundary", boundaryAggregatorWriter, "stream", streamName)
	}
	agg := aggregator.New(p.cfg.Aggregator, forward, refs, p.logger)

	ix := indexer.New(p.cfg.Indexer, p.backend, p.bridge, p.resolver, storage, agg, p.cfg.Alerter, p.logger)
	ix.OnPass(p.recordPass(ctx, ix))

	p.running.Store(&stages{indexer: ix, writers: writers, storage: storage})
	p.health.SetStatus(HealthStatusUnknown)

	g, gctx := errgroup.WithContext(ctx)

	// Downstream stages do not follow gctx; they are stopped in order once
	// their upstream is done, so queued blocks reach the writers. The
	// watchdog cancels dctx if draining takes too long.
	dctx, dcancel := context.WithCancel(context.WithoutCancel(ctx))
	defer dcancel()
	poolDone := make(chan struct{})
	var producers sync.WaitGroup

	g.Go(func() error {
		err := ix.Run(gctx)
		agg.Stop()
		if errors.Is(err, indexer.ErrDispatch) {
			p.health.SetStatus(HealthStatusStopped)
		}
		return ignoreCanceled(err)
	})

	producers.Add(1)
	aggDone := make(chan struct{})
	g.Go(func() error {
		defer producers.Done()
		defer close(aggDone)
		err := agg.Run(dctx)
		if ts != nil {
			ts.Stop()
		}
		return ignoreCanceled(err)
	})

	if ts != nil {
		producers.Add(1)
		g.Go(func() error {
			defer producers.Done()
			return ignoreCanceled(ts.Run(dctx))
		})
	}

	if p.cfg.StreamTransportEnabled {
		producers.Add(1)
		g.Go(func() error {
			defer producers.Done()
			cctx, cancel := context.WithCancel(dctx)
			defer cancel()
			go func() {
				select {
				case <-aggDone:
				case <-gctx.Done():
				}
				cancel()
			}()
			return ignoreCanceled(p.runStreamConsumer(cctx, p.cfg.StreamBackend, streamName, writers))
		})
	}

	g.Go(func() error {
		producers.Wait()
		writers.Close()
		return nil
	})

	g.Go(func() error {
		defer close(poolDone)
		err := writers.Run(dctx)
		if errors.Is(err, pool.ErrNoMembers) {
			p.health.SetStatus(HealthStatusStopped)
		}
		return ignoreCanceled(err)
	})

	g.Go(func() error {
		select {
		case <-poolDone:
			return nil
		case <-gctx.Done():
		}
		select {
		case <-poolDone:
		case <-time.After(p.cfg.ShutdownTimeout):
			p.logger.Error("pipeline drain timed out", "timeout", p.cfg.ShutdownTimeout)
			dcancel()
		}
		return nil
	})

	p.logger.Info("pipeline started",
		"writers", p.cfg.PoolSize,
		"timestamps", p.cfg.TimestampEnabled,
		"stream_transport", p.cfg.StreamTransportEnabled,
	)
	err := g.Wait()
	p.logger.Info("pipeline stopped", "last_max", ix.LastMax(), "error", err)
	return err
}

// recordPass feeds indexer pass outcomes into health tracking and raises
// unhealthy/recovery alerts on transitions.
func (p *Pipeline) recordPass(ctx context.Context, ix *indexer.Indexer) func(string, time.Duration, error) {
	return func(mode string, elapsed time.Duration, err error) {
		p.health.SetProgress(ix.State().String(), ix.LastMax())
		switch {
		case err == nil:
			if p.health.RecordSuccess(elapsed) {
				p.sendAlert(ctx, alert.Alert{
					Type:      alert.AlertTypeRecovery,
					Chain:     p.cfg.Chain,
					Component: "indexer",
					Title:     "Indexing recovered",
					Message:   fmt.Sprintf("%s pass succeeded after failures", mode),
				})
			}
		case errors.Is(err, indexer.ErrDispatch):
		default:
			if p.health.RecordFailure(err) {
				snap := p.health.Snapshot()
				p.sendAlert(ctx, alert.Alert{
					Type:      alert.AlertTypeUnhealthy,
					Chain:     p.cfg.Chain,
					Component: "indexer",
					Title:     "Indexing unhealthy",
					Message:   err.Error(),
					Fields: map[string]string{
						"mode":                 mode,
						"consecutive_failures": strconv.Itoa(snap.ConsecutiveFailures),
						"last_max":             strconv.FormatUint(uint64(snap.LastMax), 10),
					},
				})
			}
		}
	}
}

func (p *Pipeline) onWriterLost(ctx context.Context, writers *pool.Pool[writer.Message], id int, cause any) {
	alive := writers.Stats().Alive
	a := alert.Alert{
		Type:      alert.AlertTypeWriterLost,
		Chain:     p.cfg.Chain,
		Component: "writer",
		Title:     "Writer removed from rotation",
		Message:   fmt.Sprint(cause),
		Fields:    map[string]string{"member": strconv.Itoa(id), "alive": strconv.Itoa(alive)},
	}
	if alive == 0 {
		a.Type = alert.AlertTypePoolExhausted
		a.Title = "Writer pool exhausted"
	}
	p.sendAlert(ctx, a)
}

func (p *Pipeline) sendAlert(ctx context.Context, a alert.Alert) {
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), alertTimeout)
	defer cancel()
	if err := p.cfg.Alerter.Send(actx, a); err != nil {
		p.logger.Warn("alert send failed", "type", a.Type, "error", err)
	}
}

// CrawlNow asks the indexer for an immediate pass.
func (p *Pipeline) CrawlNow() bool {
	s := p.running.Load()
	if s == nil {
		return false
	}
	return s.indexer.CrawlNow()
}

// Status is a point-in-time view of the running pipeline.
type Status struct {
	Chain          string         `json:"chain"`
	Running        bool           `json:"running"`
	IndexerState   string         `json:"indexer_state"`
	LastMax        uint32         `json:"last_max"`
	Health         HealthSnapshot `json:"health"`
	Writers        *pool.Stats    `json:"writers,omitempty"`
	Bridge         bridge.Stats   `json:"bridge"`
	CachedVersions int            `json:"cached_versions"`
}

func (p *Pipeline) Status() Status {
	st := Status{
		Chain:          p.cfg.Chain,
		Health:         p.health.Snapshot(),
		Bridge:         p.bridge.Stats(),
		CachedVersions: p.resolver.Cached(),
		IndexerState:   indexer.StateStopped.String(),
	}
	if s := p.running.Load(); s != nil {
		st.Running = true
		st.IndexerState = s.indexer.State().String()
		st.LastMax = s.indexer.LastMax()
		stats := s.writers.Stats()
		st.Writers = &stats
	}
	return st
}

// Summary reports persisted block counts through the writer pool.
func (p *Pipeline) Summary(ctx context.Context) (store.BlockSummary, error) {
	s := p.running.Load()
	if s == nil {
		return store.BlockSummary{}, ErrNotRunning
	}
	return s.storage.Summary(ctx)
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
