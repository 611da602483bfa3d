// Package timestamper learns each block's wall-clock time from the
// Timestamp::Now storage value and sends the update to the writer pool.
package timestamper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Polkawatch/substrate-archive/internal/actor"
	"github.com/Polkawatch/substrate-archive/internal/bridge"
	"github.com/Polkawatch/substrate-archive/internal/chain"
	"github.com/Polkawatch/substrate-archive/internal/domain/model"
	"github.com/Polkawatch/substrate-archive/internal/metrics"
	"github.com/Polkawatch/substrate-archive/internal/pipeline/writer"
	"github.com/Polkawatch/substrate-archive/internal/pool"
)

const (
	defaultMailboxSize   = 1024
	defaultSweepInterval = time.Minute
	defaultSweepBatch    = 500
)

// ErrNoTimestamp means the block carries no Timestamp::Now value.
var ErrNoTimestamp = errors.New("timestamp not set at block")

// Storage lists persisted blocks still missing their time.
type Storage interface {
	ListUntimed(ctx context.Context, limit int) ([]model.BlockRef, error)
}

type Config struct {
	Chain       string
	MailboxSize int
	// SweepInterval is how often rows left without a time are picked up
	// again, for instance after a restart. A negative value disables the
	// sweep.
	SweepInterval time.Duration
	SweepBatch    int
}

type Timestamper struct {
	cfg     Config
	mailbox *actor.Mailbox[model.BlockRef]
	backend chain.Backend
	bridge  *bridge.Bridge
	writers actor.Sender[writer.Message]
	storage Storage
	logger  *slog.Logger
}

func New(
	cfg Config,
	backend chain.Backend,
	br *bridge.Bridge,
	writers actor.Sender[writer.Message],
	storage Storage,
	logger *slog.Logger,
) *Timestamper {
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = defaultMailboxSize
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = defaultSweepBatch
	}
	return &Timestamper{
		cfg:     cfg,
		mailbox: actor.NewMailbox[model.BlockRef](cfg.MailboxSize),
		backend: backend,
		bridge:  br,
		writers: writers,
		storage: storage,
		logger:  logger.With("component", "timestamper", "chain", cfg.Chain),
	}
}

// Enqueue asks for ref's timestamp, blocking while the mailbox is full.
func (t *Timestamper) Enqueue(ctx context.Context, ref model.BlockRef) error {
	return t.mailbox.Send(ctx, ref)
}

// Stop rejects further refs; queued ones are still processed.
func (t *Timestamper) Stop() {
	t.mailbox.Stop()
}

func (t *Timestamper) Run(ctx context.Context) error {
	var sweep <-chan time.Time
	if t.cfg.SweepInterval > 0 {
		ticker := time.NewTicker(t.cfg.SweepInterval)
		defer ticker.Stop()
		sweep = ticker.C
		if err := t.sweep(ctx); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.mailbox.Stopped():
			for _, ref := range t.mailbox.Drain() {
				if err := t.process(ctx, ref); err != nil {
					return err
				}
			}
			return nil
		case ref := <-t.mailbox.Receive():
			if err := t.process(ctx, ref); err != nil {
				return err
			}
		case <-sweep:
			if err := t.sweep(ctx); err != nil {
				return err
			}
		}
	}
}

// process handles one ref. Lookup failures are logged and left for the
// sweep; only a vanished writer pool is returned.
func (t *Timestamper) process(ctx context.Context, ref model.BlockRef) error {
	ts, err := t.lookup(ctx, ref)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		metrics.TimestampErrors.WithLabelValues(t.cfg.Chain).Inc()
		t.logger.Warn("timestamp lookup failed", "number", ref.Number, "hash", ref.Hash, "error", err)
		return nil
	}

	err = t.writers.Send(ctx, writer.UpdateTimestamp{Ref: ref, Time: ts, Attempt: 1})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, actor.ErrStopped), errors.Is(err, pool.ErrNoMembers):
		return fmt.Errorf("timestamper: writer pool gone: %w", err)
	default:
		return err
	}
}

func (t *Timestamper) lookup(ctx context.Context, ref model.BlockRef) (time.Time, error) {
	raw, err := bridge.Do(ctx, t.bridge, func() ([]byte, error) {
		return t.backend.StorageAt(context.WithoutCancel(ctx), ref.Hash, model.TimestampNowKey)
	})
	if err != nil {
		return time.Time{}, err
	}
	if raw == nil {
		return time.Time{}, ErrNoTimestamp
	}
	return model.DecodeMillisTimestamp(raw)
}

func (t *Timestamper) sweep(ctx context.Context) error {
	if t.storage == nil {
		return nil
	}
	refs, err := t.storage.ListUntimed(ctx, t.cfg.SweepBatch)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		t.logger.Warn("untimed sweep failed", "error", err)
		return nil
	}
	if len(refs) > 0 {
		t.logger.Info("sweeping untimed blocks", "count", len(refs))
	}
	for _, ref := range refs {
		if err := t.process(ctx, ref); err != nil {
			return err
		}
	}
	return nil
}
