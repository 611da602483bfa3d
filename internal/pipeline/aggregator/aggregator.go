// Package aggregator decouples the indexer's cadence from the write path.
// Batches are queued in a bounded mailbox, coalesced, and forwarded block by
// block in arrival order.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Polkawatch/substrate-archive/internal/actor"
	"github.com/Polkawatch/substrate-archive/internal/domain/model"
	"github.com/Polkawatch/substrate-archive/internal/metrics"
	"github.com/Polkawatch/substrate-archive/internal/pipeline/writer"
	"github.com/Polkawatch/substrate-archive/internal/pool"
)

const (
	defaultMailboxSize   = 16
	defaultMaxPending    = 512
	defaultFlushInterval = time.Second
	defaultDrainTimeout  = 30 * time.Second
)

// Forwarder moves one block toward persistence.
type Forwarder interface {
	Forward(ctx context.Context, block model.Block) error
}

// RefSink receives the ref of every forwarded block so its timestamp can be
// looked up.
type RefSink interface {
	Enqueue(ctx context.Context, ref model.BlockRef) error
}

// ForwarderFunc adapts a function to Forwarder.
type ForwarderFunc func(ctx context.Context, block model.Block) error

func (f ForwarderFunc) Forward(ctx context.Context, block model.Block) error { return f(ctx, block) }

// ToPool forwards blocks as WriteBlock messages to the writer pool.
func ToPool(p actor.Sender[writer.Message]) Forwarder {
	return ForwarderFunc(func(ctx context.Context, block model.Block) error {
		return p.Send(ctx, writer.WriteBlock{Block: block})
	})
}

type Config struct {
	Chain         string
	MailboxSize   int
	MaxPending    int
	FlushInterval time.Duration
	// DrainTimeout bounds the final flush after the context is cancelled.
	DrainTimeout time.Duration
}

type Aggregator struct {
	cfg     Config
	mailbox *actor.Mailbox[model.BatchBlock]
	forward Forwarder
	refs    RefSink
	logger  *slog.Logger

	pending []model.Block
}

// New builds an aggregator. refs may be nil.
func New(cfg Config, forward Forwarder, refs RefSink, logger *slog.Logger) *Aggregator {
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = defaultMailboxSize
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = defaultMaxPending
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = defaultDrainTimeout
	}
	return &Aggregator{
		cfg:     cfg,
		mailbox: actor.NewMailbox[model.BatchBlock](cfg.MailboxSize),
		forward: forward,
		refs:    refs,
		logger:  logger.With("component", "aggregator", "chain", cfg.Chain),
	}
}

// Handle queues batch, blocking while the mailbox is full. It returns
// actor.ErrStopped once the aggregator is stopped.
func (a *Aggregator) Handle(ctx context.Context, batch model.BatchBlock) error {
	if err := a.mailbox.Send(ctx, batch); err != nil {
		return err
	}
	metrics.AggregatorBatchesReceived.WithLabelValues(a.cfg.Chain).Inc()
	return nil
}

// Stop rejects further batches. Run drains what is queued and returns.
func (a *Aggregator) Stop() {
	a.mailbox.Stop()
}

func (a *Aggregator) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.FlushInterval)
	defer ticker.Stop()
	defer a.mailbox.Stop()

	a.logger.Info("aggregator started", "max_pending", a.cfg.MaxPending, "flush_interval", a.cfg.FlushInterval)

	for {
		select {
		case <-ctx.Done():
			a.mailbox.Stop()
			return a.drain(ctx)
		case <-a.mailbox.Stopped():
			return a.drain(ctx)
		case batch := <-a.mailbox.Receive():
			a.add(batch)
			if len(a.pending) >= a.cfg.MaxPending {
				if err := a.flush(ctx); err != nil {
					return err
				}
			}
		case <-ticker.C:
			if err := a.flush(ctx); err != nil {
				return err
			}
		}
	}
}

func (a *Aggregator) add(batch model.BatchBlock) {
	a.pending = append(a.pending, batch.Blocks...)
	metrics.AggregatorBlocksPending.WithLabelValues(a.cfg.Chain).Set(float64(len(a.pending)))
	a.logger.Debug("batch received", "source", batch.Source, "blocks", batch.Len(), "pending", len(a.pending))
}

// drain forwards everything still queued with a detached, bounded context.
func (a *Aggregator) drain(ctx context.Context) error {
	for _, batch := range a.mailbox.Drain() {
		a.add(batch)
	}
	if len(a.pending) == 0 {
		return nil
	}
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.DrainTimeout)
	defer cancel()
	a.logger.Info("draining aggregator", "pending", len(a.pending))
	if err := a.flush(dctx); err != nil {
		a.logger.Error("aggregator drain incomplete", "unforwarded", len(a.pending), "error", err)
		return err
	}
	return nil
}

// flush forwards pending blocks in order. A block that cannot be forwarded
// stays pending with everything after it.
func (a *Aggregator) flush(ctx context.Context) error {
	if len(a.pending) == 0 {
		return nil
	}
	start := time.Now()
	sent := 0
	var err error
	for _, block := range a.pending {
		if err = a.forward.Forward(ctx, block); err != nil {
			break
		}
		sent++
		if a.refs != nil {
			if refErr := a.refs.Enqueue(ctx, block.Ref()); refErr != nil && ctx.Err() == nil {
				a.logger.Warn("timestamp lookup not queued", "number", block.Number(), "error", refErr)
			}
		}
	}

	a.pending = append(a.pending[:0], a.pending[sent:]...)
	metrics.AggregatorBlocksPending.WithLabelValues(a.cfg.Chain).Set(float64(len(a.pending)))
	if sent > 0 {
		metrics.AggregatorFlushesTotal.WithLabelValues(a.cfg.Chain).Inc()
		a.logger.Debug("flushed blocks", "forwarded", sent, "remaining", len(a.pending), "elapsed", time.Since(start))
	}

	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, actor.ErrStopped), errors.Is(err, pool.ErrNoMembers):
		return fmt.Errorf("aggregator: write path gone: %w", err)
	default:
		a.logger.Warn("forward failed, retrying on next flush", "remaining", len(a.pending), "error", err)
		return nil
	}
}

// Pending reports how many blocks wait to be forwarded. Only safe from the
// Run goroutine or after Run returned.
func (a *Aggregator) Pending() int {
	return len(a.pending)
}
