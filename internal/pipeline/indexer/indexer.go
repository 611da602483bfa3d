// Package indexer discovers blocks that are missing from storage, fetches
// them from the chain backend with their runtime spec version, and hands
// them to the aggregator. It runs one reconciliation pass at start and then
// crawls new blocks on a fixed interval.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/Polkawatch/substrate-archive/internal/alert"
	"github.com/Polkawatch/substrate-archive/internal/bridge"
	"github.com/Polkawatch/substrate-archive/internal/chain"
	"github.com/Polkawatch/substrate-archive/internal/domain/model"
	"github.com/Polkawatch/substrate-archive/internal/metrics"
	"github.com/Polkawatch/substrate-archive/internal/tracing"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultInterval = 5 * time.Second
	defaultSource   = "indexer"

	modeReindex = "reindex"
	modeCrawl   = "crawl"
)

// ErrDispatch means the aggregator could not take a batch. The indexer
// stops when it sees it.
var ErrDispatch = errors.New("indexer: aggregator unreachable")

type State int32

const (
	StateStarting State = iota
	StateReindexing
	StateCrawling
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateReindexing:
		return "reindexing"
	case StateCrawling:
		return "crawling"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Storage is the reconciliation view of persisted blocks.
type Storage interface {
	MissingNumbers(ctx context.Context, from, to uint32, limit int) ([]uint32, error)
	MaxNumber(ctx context.Context) (uint32, error)
}

// Sink receives the batch produced by each pass.
type Sink interface {
	Handle(ctx context.Context, batch model.BatchBlock) error
}

// VersionResolver returns the spec version active at a block. It is called
// from bridged code and may block.
type VersionResolver interface {
	SpecVersion(ctx context.Context, hash model.Hash) (uint32, error)
}

type Config struct {
	Chain    string
	Source   string
	Interval time.Duration
	// MaxBlocksPerPass caps how many blocks one pass fetches; 0 means no
	// cap. A capped reconciliation continues on the next tick before
	// crawling starts.
	MaxBlocksPerPass int
}

type Indexer struct {
	cfg      Config
	backend  chain.Backend
	bridge   *bridge.Bridge
	resolver VersionResolver
	storage  Storage
	sink     Sink
	alerter  alert.Alerter
	logger   *slog.Logger

	// lastMax is owned by the Run goroutine. published mirrors it for
	// status readers.
	lastMax        uint32
	reindexPending bool
	published      atomic.Uint32
	state          atomic.Int32
	trigger        chan struct{}
	onPass         func(mode string, elapsed time.Duration, err error)
}

func New(
	cfg Config,
	backend chain.Backend,
	br *bridge.Bridge,
	resolver VersionResolver,
	storage Storage,
	sink Sink,
	alerter alert.Alerter,
	logger *slog.Logger,
) *Indexer {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.Source == "" {
		cfg.Source = defaultSource
	}
	if cfg.MaxBlocksPerPass < 0 {
		cfg.MaxBlocksPerPass = 0
	}
	if alerter == nil {
		alerter = &alert.NoopAlerter{}
	}
	return &Indexer{
		cfg:            cfg,
		backend:        backend,
		bridge:         br,
		resolver:       resolver,
		storage:        storage,
		sink:           sink,
		alerter:        alerter,
		logger:         logger.With("component", "indexer", "chain", cfg.Chain),
		reindexPending: true,
		trigger:        make(chan struct{}, 1),
	}
}

// Run performs the reconciliation pass, then crawls every Interval until
// ctx is done or the aggregator becomes unreachable.
func (ix *Indexer) Run(ctx context.Context) error {
	ix.logger.Info("indexer started", "interval", ix.cfg.Interval, "max_blocks_per_pass", ix.cfg.MaxBlocksPerPass)
	ix.setState(StateReindexing)
	if err := ix.runPass(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(ix.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			ix.setState(StateStopped)
			return ctx.Err()
		case <-ticker.C:
		case <-ix.trigger:
		}
		if err := ix.runPass(ctx); err != nil {
			return err
		}
	}
}

// runPass runs whichever pass is due. Pass failures are logged and
// swallowed; only a dispatch failure or cancellation ends Run.
func (ix *Indexer) runPass(ctx context.Context) error {
	var err error
	if ix.reindexPending {
		err = ix.reindex(ctx)
		// A failed reconciliation is not repeated; crawling resumes from
		// the unchanged lastMax.
		if err != nil {
			ix.reindexPending = false
		}
	} else {
		err = ix.crawl(ctx)
	}
	if !ix.reindexPending {
		ix.setState(StateCrawling)
	}

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrDispatch):
		return ix.stop(ctx, err)
	case ctx.Err() != nil:
		ix.setState(StateStopped)
		return ctx.Err()
	default:
		return nil
	}
}

func (ix *Indexer) stop(ctx context.Context, cause error) error {
	ix.setState(StateStopped)
	ix.logger.Error("indexer stopped, aggregator unreachable", "last_max", ix.lastMax, "error", cause)
	alertErr := ix.alerter.Send(context.WithoutCancel(ctx), alert.Alert{
		Type:      alert.AlertTypeIndexerStopped,
		Chain:     ix.cfg.Chain,
		Component: "indexer",
		Title:     "Indexer stopped",
		Message:   cause.Error(),
		Fields:    map[string]string{"last_max": strconv.FormatUint(uint64(ix.lastMax), 10)},
	})
	if alertErr != nil {
		ix.logger.Warn("indexer stop alert failed", "error", alertErr)
	}
	return cause
}

// reindex fetches every block number at or above lastMax that storage is
// missing, up to the finalized head.
func (ix *Indexer) reindex(ctx context.Context) (err error) {
	passID := uuid.NewString()
	log := ix.logger.With("pass", modeReindex, "pass_id", passID)
	start := time.Now()
	ctx, span := tracing.Tracer("indexer").Start(ctx, "indexer.reindex",
		trace.WithAttributes(attribute.String("pass_id", passID)))
	defer func() { ix.finishPass(span, modeReindex, start, err, log) }()

	head, err := bridge.Do(ctx, ix.bridge, func() (uint32, error) {
		return ix.backend.FinalizedHead(context.WithoutCancel(ctx))
	})
	if err != nil {
		return fmt.Errorf("finalized head: %w", err)
	}
	storageMax, err := ix.storage.MaxNumber(ctx)
	if err != nil {
		return fmt.Errorf("storage max: %w", err)
	}
	missing, err := ix.storage.MissingNumbers(ctx, ix.lastMax, head, ix.cfg.MaxBlocksPerPass)
	if err != nil {
		return fmt.Errorf("missing numbers: %w", err)
	}
	truncated := ix.cfg.MaxBlocksPerPass > 0 && len(missing) >= ix.cfg.MaxBlocksPerPass

	wanted := make(map[uint32]struct{}, len(missing))
	lowest := uint32(math.MaxUint32)
	for _, n := range missing {
		wanted[n] = struct{}{}
		lowest = min(lowest, n)
	}
	var blocks []model.Block
	if len(wanted) > 0 {
		blocks, err = ix.fetch(ctx, lowest, func(n uint32) bool {
			_, ok := wanted[n]
			return ok
		})
		if err != nil {
			return err
		}
	}

	if err := ix.emit(ctx, blocks); err != nil {
		return err
	}

	fetchedMax := model.MaxNumber(0, blocks)
	if truncated {
		ix.advance(fetchedMax)
	} else {
		ix.advance(max(storageMax, fetchedMax))
		ix.reindexPending = false
	}
	log.Info("reindex pass complete",
		"head", head,
		"storage_max", storageMax,
		"missing", len(missing),
		"fetched", len(blocks),
		"truncated", truncated,
		"last_max", ix.lastMax,
	)
	return nil
}

// crawl fetches every block above lastMax.
func (ix *Indexer) crawl(ctx context.Context) (err error) {
	passID := uuid.NewString()
	log := ix.logger.With("pass", modeCrawl, "pass_id", passID)
	start := time.Now()
	ctx, span := tracing.Tracer("indexer").Start(ctx, "indexer.crawl",
		trace.WithAttributes(attribute.String("pass_id", passID)))
	defer func() { ix.finishPass(span, modeCrawl, start, err, log) }()

	floor := ix.lastMax
	ceiling := uint64(floor) + uint64(ix.cfg.MaxBlocksPerPass)
	capped := ix.cfg.MaxBlocksPerPass > 0
	from := floor
	if floor < math.MaxUint32 {
		from++
	}
	blocks, err := ix.fetch(ctx, from, func(n uint32) bool {
		return n > floor && (!capped || uint64(n) <= ceiling)
	})
	if err != nil {
		return err
	}

	if err := ix.emit(ctx, blocks); err != nil {
		return err
	}

	ix.advance(model.MaxNumber(0, blocks))
	if len(blocks) > 0 {
		log.Info("crawl pass complete", "fetched", len(blocks), "last_max", ix.lastMax)
	} else {
		log.Debug("crawl pass found nothing new", "last_max", ix.lastMax)
	}
	return nil
}

// fetch iterates the backend on the bridge and decorates each block with
// its spec version. Any failure discards the whole pass. from is a lower
// bound hint; pred alone decides which blocks are returned.
func (ix *Indexer) fetch(ctx context.Context, from uint32, pred func(uint32) bool) ([]model.Block, error) {
	blocks, err := bridge.Do(ctx, ix.bridge, func() ([]model.Block, error) {
		bctx := context.WithoutCancel(ctx)
		it, err := ix.iterate(bctx, from, pred)
		if err != nil {
			return nil, err
		}
		defer it.Close()

		var out []model.Block
		for it.Next() {
			raw := it.Block()
			spec, err := ix.resolver.SpecVersion(bctx, raw.Header.Hash)
			if err != nil {
				return nil, fmt.Errorf("block %d: %w", raw.Header.Number, err)
			}
			out = append(out, model.NewBlock(*raw, spec))
		}
		if err := it.Err(); err != nil {
			return nil, err
		}
		return out, nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch blocks: %w", err)
	}
	metrics.IndexerBlocksFetched.WithLabelValues(ix.cfg.Chain).Add(float64(len(blocks)))
	return blocks, nil
}

func (ix *Indexer) iterate(ctx context.Context, from uint32, pred func(uint32) bool) (chain.BlockIterator, error) {
	if rb, ok := ix.backend.(chain.RangeBackend); ok {
		return rb.IterBlocksFrom(ctx, from, pred)
	}
	return ix.backend.IterBlocks(ctx, pred)
}

// emit hands the pass's batch to the sink. Empty batches are sent too so a
// vanished aggregator is noticed on the next tick.
func (ix *Indexer) emit(ctx context.Context, blocks []model.Block) error {
	err := ix.sink.Handle(ctx, model.NewBatchBlock(ix.cfg.Source, blocks))
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("%w: %v", ErrDispatch, err)
}

func (ix *Indexer) advance(observed uint32) {
	if observed > ix.lastMax {
		ix.lastMax = observed
	}
	ix.published.Store(ix.lastMax)
	metrics.IndexerLastMax.WithLabelValues(ix.cfg.Chain).Set(float64(ix.lastMax))
}

// OnPass registers fn to be called after every pass. Call it before Run.
func (ix *Indexer) OnPass(fn func(mode string, elapsed time.Duration, err error)) {
	ix.onPass = fn
}

func (ix *Indexer) finishPass(span trace.Span, mode string, start time.Time, err error, log *slog.Logger) {
	tracing.End(span, err)
	if ix.onPass != nil && !errors.Is(err, context.Canceled) {
		ix.onPass(mode, time.Since(start), err)
	}
	metrics.IndexerCrawlsTotal.WithLabelValues(ix.cfg.Chain, mode).Inc()
	metrics.IndexerCrawlLatency.WithLabelValues(ix.cfg.Chain, mode).Observe(time.Since(start).Seconds())
	if err != nil && !errors.Is(err, ErrDispatch) && !errors.Is(err, context.Canceled) {
		metrics.IndexerCrawlErrors.WithLabelValues(ix.cfg.Chain, mode).Inc()
		log.Error("pass failed", "last_max", ix.lastMax, "elapsed", time.Since(start), "error", err)
	}
}

func (ix *Indexer) setState(s State) {
	prev := State(ix.state.Swap(int32(s)))
	if prev != s {
		ix.logger.Debug("indexer state changed", "from", prev, "to", s)
	}
}

// CrawlNow requests a pass ahead of the next tick. It never blocks and
// reports whether the request was accepted.
func (ix *Indexer) CrawlNow() bool {
	if ix.State() == StateStopped {
		return false
	}
	select {
	case ix.trigger <- struct{}{}:
		return true
	default:
		return true
	}
}

func (ix *Indexer) State() State {
	return State(ix.state.Load())
}

// LastMax is a snapshot of the high-water mark.
func (ix *Indexer) LastMax() uint32 {
	return ix.published.Load()
}
