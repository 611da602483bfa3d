// Package writer holds the storage writer that runs as a member of the
// writer pool. Every driver call goes through the bridge.
package writer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/Polkawatch/substrate-archive/internal/actor"
	"github.com/Polkawatch/substrate-archive/internal/bridge"
	"github.com/Polkawatch/substrate-archive/internal/decode"
	"github.com/Polkawatch/substrate-archive/internal/domain/model"
	"github.com/Polkawatch/substrate-archive/internal/metrics"
	"github.com/Polkawatch/substrate-archive/internal/pipeline/retry"
	"github.com/Polkawatch/substrate-archive/internal/store"
	"github.com/Polkawatch/substrate-archive/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultRetryMaxAttempts    = 3
	defaultRetryDelayInitial   = 100 * time.Millisecond
	defaultRetryDelayMax       = 5 * time.Second
	defaultTimestampRetryMax   = 5
	defaultTimestampRetryDelay = 500 * time.Millisecond
)

// ErrTimestampAbandoned is returned when a timestamp update exhausted its
// attempts because the block row never appeared.
var ErrTimestampAbandoned = errors.New("timestamp update abandoned")

type Config struct {
	Chain               string
	RetryMaxAttempts    int
	RetryDelayInitial   time.Duration
	RetryDelayMax       time.Duration
	TimestampRetryMax   int
	TimestampRetryDelay time.Duration
}

// Writer is one pool member. It is not safe for concurrent use; the pool
// hands it one message at a time.
type Writer struct {
	id        int
	cfg       Config
	db        store.TxBeginner
	repos     Repos
	decoder   *decode.Decoder
	bridge    *bridge.Bridge
	requeue   actor.Sender[Message]
	logger    *slog.Logger
	sleepFn   func(ctx context.Context, d time.Duration) error
	afterFunc func(d time.Duration, f func())
}

// New builds a writer. requeue receives delayed timestamp retries; it is
// normally the pool the writer belongs to.
func New(
	id int,
	cfg Config,
	db store.TxBeginner,
	repos Repos,
	decoder *decode.Decoder,
	br *bridge.Bridge,
	requeue actor.Sender[Message],
	logger *slog.Logger,
) *Writer {
	if cfg.RetryMaxAttempts <= 0 {
		cfg.RetryMaxAttempts = defaultRetryMaxAttempts
	}
	if cfg.RetryDelayInitial <= 0 {
		cfg.RetryDelayInitial = defaultRetryDelayInitial
	}
	if cfg.RetryDelayMax <= 0 {
		cfg.RetryDelayMax = defaultRetryDelayMax
	}
	if cfg.TimestampRetryMax <= 0 {
		cfg.TimestampRetryMax = defaultTimestampRetryMax
	}
	if cfg.TimestampRetryDelay <= 0 {
		cfg.TimestampRetryDelay = defaultTimestampRetryDelay
	}
	return &Writer{
		id:        id,
		cfg:       cfg,
		db:        db,
		repos:     repos,
		decoder:   decoder,
		bridge:    br,
		requeue:   requeue,
		logger:    logger.With("component", "writer", "member", id),
		sleepFn:   sleepContext,
		afterFunc: func(d time.Duration, f func()) { time.AfterFunc(d, f) },
	}
}

func (w *Writer) Handle(ctx context.Context, msg Message) error {
	switch m := msg.(type) {
	case WriteBlock:
		return w.writeBlock(ctx, m.Block)
	case UpdateTimestamp:
		return w.updateTimestamp(ctx, m)
	case Query:
		return w.query(ctx, m)
	default:
		err := fmt.Errorf("writer: unknown message %T", msg)
		w.logger.Warn("message dropped", "error", err)
		return err
	}
}

func (w *Writer) writeBlock(ctx context.Context, block model.Block) (err error) {
	start := time.Now()
	ctx, span := tracing.Tracer("writer").Start(ctx, "writer.write_block",
		trace.WithAttributes(
			attribute.Int64("block.number", int64(block.Number())),
			attribute.String("block.hash", block.Hash().String()),
		),
	)
	defer func() {
		tracing.End(span, err)
		metrics.WriterLatency.WithLabelValues(w.cfg.Chain, "write_block").Observe(time.Since(start).Seconds())
	}()

	rows, err := w.decoder.Inherents(block)
	if err != nil {
		metrics.WriterErrors.WithLabelValues(w.cfg.Chain, "decode").Inc()
		w.logger.Error("decode block failed", "number", block.Number(), "hash", block.Hash(), "error", err)
		return fmt.Errorf("decode block %d: %w", block.Number(), err)
	}

	var inserted bool
	var written int64
	err = w.withRetry(ctx, "write_block", func() error {
		return bridge.Exec(ctx, w.bridge, func() error {
			var txErr error
			inserted, written, txErr = w.writeTx(context.WithoutCancel(ctx), &block, rows)
			return txErr
		})
	})
	if err != nil {
		metrics.WriterErrors.WithLabelValues(w.cfg.Chain, "write_block").Inc()
		w.logger.Error("write block failed", "number", block.Number(), "hash", block.Hash(), "error", err)
		return err
	}

	if inserted {
		metrics.WriterBlocksWritten.WithLabelValues(w.cfg.Chain).Inc()
		metrics.WriterInherentsWritten.WithLabelValues(w.cfg.Chain).Add(float64(written))
		w.logger.Debug("block written", "number", block.Number(), "inherents", written)
	} else {
		w.logger.Debug("block already present", "number", block.Number(), "hash", block.Hash())
	}
	return nil
}

// writeTx runs on a bridge thread. The block row and its inherent rows
// commit together or not at all; a duplicate block skips its rows.
func (w *Writer) writeTx(ctx context.Context, block *model.Block, rows []model.Inherent) (inserted bool, written int64, err error) {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return false, 0, store.WrapError("begin", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	inserted, err = w.repos.Blocks.UpsertTx(ctx, tx, block)
	if err != nil {
		return false, 0, err
	}
	if inserted && len(rows) > 0 {
		written, err = w.repos.Inherents.BulkInsertTx(ctx, tx, rows)
		if err != nil {
			return false, 0, err
		}
	}
	if err = tx.Commit(); err != nil {
		return false, 0, store.WrapError("commit", err)
	}
	return inserted, written, nil
}

func (w *Writer) updateTimestamp(ctx context.Context, m UpdateTimestamp) error {
	start := time.Now()
	defer func() {
		metrics.WriterLatency.WithLabelValues(w.cfg.Chain, "update_timestamp").Observe(time.Since(start).Seconds())
	}()
	if m.Attempt <= 0 {
		m.Attempt = 1
	}

	err := w.withRetry(ctx, "update_timestamp", func() error {
		return bridge.Exec(ctx, w.bridge, func() error {
			return w.repos.Blocks.UpdateTime(context.WithoutCancel(ctx), m.Ref.Hash, m.Time)
		})
	})
	switch {
	case err == nil:
		metrics.TimestampsUpdated.WithLabelValues(w.cfg.Chain).Inc()
		return nil
	case errors.Is(err, store.ErrBlockNotFound):
		return w.deferTimestamp(ctx, m)
	default:
		metrics.TimestampErrors.WithLabelValues(w.cfg.Chain).Inc()
		w.logger.Error("update timestamp failed", "number", m.Ref.Number, "hash", m.Ref.Hash, "error", err)
		return err
	}
}

// deferTimestamp re-enqueues an update whose block row is not written yet.
func (w *Writer) deferTimestamp(ctx context.Context, m UpdateTimestamp) error {
	if m.Attempt >= w.cfg.TimestampRetryMax {
		metrics.TimestampErrors.WithLabelValues(w.cfg.Chain).Inc()
		w.logger.Warn("timestamp update abandoned, block row never appeared",
			"number", m.Ref.Number, "hash", m.Ref.Hash, "attempts", m.Attempt)
		return ErrTimestampAbandoned
	}

	next := m
	next.Attempt++
	metrics.TimestampRetries.WithLabelValues(w.cfg.Chain).Inc()
	w.logger.Debug("block row not written yet, timestamp update deferred",
		"number", m.Ref.Number, "attempt", m.Attempt, "delay", w.cfg.TimestampRetryDelay)

	w.afterFunc(w.cfg.TimestampRetryDelay, func() {
		if err := w.requeue.Send(ctx, next); err != nil {
			w.logger.Warn("re-enqueue timestamp update failed", "number", next.Ref.Number, "error", err)
		}
	})
	return nil
}

func (w *Writer) query(ctx context.Context, m Query) error {
	fn := m.Request.Query
	val, err := bridge.Do(ctx, w.bridge, func() (any, error) {
		return fn(context.WithoutCancel(ctx), w.repos)
	})
	if err != nil {
		metrics.WriterErrors.WithLabelValues(w.cfg.Chain, "query").Inc()
	}
	m.Request.Respond(val, err)
	return err
}

func (w *Writer) withRetry(ctx context.Context, stage string, fn func() error) error {
	var lastErr error
	lastDecision := retry.Decision{Class: retry.ClassTerminal, Reason: "unset"}

	for attempt := 1; attempt <= w.cfg.RetryMaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, store.ErrBlockNotFound) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err
		lastDecision = retry.Classify(err)
		if !lastDecision.IsTransient() {
			return fmt.Errorf("terminal_failure stage=%s attempt=%d reason=%s: %w", stage, attempt, lastDecision.Reason, err)
		}
		if attempt == w.cfg.RetryMaxAttempts {
			break
		}

		w.logger.Warn("storage attempt failed; retrying",
			"stage", stage,
			"classification_reason", lastDecision.Reason,
			"attempt", attempt,
			"max_attempts", w.cfg.RetryMaxAttempts,
			"error", err,
		)
		if err := w.sleepFn(ctx, w.retryDelay(attempt)); err != nil {
			return err
		}
	}

	return fmt.Errorf("transient_recovery_exhausted stage=%s attempts=%d reason=%s: %w", stage, w.cfg.RetryMaxAttempts, lastDecision.Reason, lastErr)
}

func (w *Writer) retryDelay(attempt int) time.Duration {
	delay := w.cfg.RetryDelayInitial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= w.cfg.RetryDelayMax {
			delay = w.cfg.RetryDelayMax
			break
		}
	}
	if delay > 0 {
		delay += time.Duration(rand.Int64N(int64(delay)/4 + 1))
	}
	return delay
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
