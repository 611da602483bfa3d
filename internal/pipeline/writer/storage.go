package writer

import (
	"context"
	"fmt"

	"github.com/Polkawatch/substrate-archive/internal/actor"
	"github.com/Polkawatch/substrate-archive/internal/domain/model"
	"github.com/Polkawatch/substrate-archive/internal/store"
)

// Storage answers the indexer's reconciliation reads by asking a writer
// pool member, so reads share the pool's connection budget with writes.
type Storage struct {
	pool actor.Sender[Message]
}

func NewStorage(pool actor.Sender[Message]) *Storage {
	return &Storage{pool: pool}
}

func (s *Storage) ask(ctx context.Context, fn QueryFunc) (any, error) {
	return actor.Ask(ctx, s.pool, fn, func(req actor.Request[QueryFunc, any]) Message {
		return Query{Request: req}
	})
}

// MissingNumbers lists block numbers in [from, to] with no persisted row.
func (s *Storage) MissingNumbers(ctx context.Context, from, to uint32, limit int) ([]uint32, error) {
	v, err := s.ask(ctx, func(ctx context.Context, r Repos) (any, error) {
		return r.Blocks.MissingNumbers(ctx, from, to, limit)
	})
	if err != nil {
		return nil, fmt.Errorf("missing numbers [%d, %d]: %w", from, to, err)
	}
	missing, _ := v.([]uint32)
	return missing, nil
}

// MaxNumber returns the highest persisted block number, 0 when empty.
func (s *Storage) MaxNumber(ctx context.Context) (uint32, error) {
	v, err := s.ask(ctx, func(ctx context.Context, r Repos) (any, error) {
		max, _, err := r.Blocks.MaxNumber(ctx)
		return max, err
	})
	if err != nil {
		return 0, fmt.Errorf("max number: %w", err)
	}
	max, _ := v.(uint32)
	return max, nil
}

// Summary reports block row counts.
func (s *Storage) Summary(ctx context.Context) (store.BlockSummary, error) {
	v, err := s.ask(ctx, func(ctx context.Context, r Repos) (any, error) {
		return r.Blocks.Summary(ctx)
	})
	if err != nil {
		return store.BlockSummary{}, fmt.Errorf("summary: %w", err)
	}
	summary, _ := v.(store.BlockSummary)
	return summary, nil
}

// ListUntimed returns blocks still missing their wall-clock time.
func (s *Storage) ListUntimed(ctx context.Context, limit int) ([]model.BlockRef, error) {
	v, err := s.ask(ctx, func(ctx context.Context, r Repos) (any, error) {
		return r.Blocks.ListUntimed(ctx, limit)
	})
	if err != nil {
		return nil, fmt.Errorf("list untimed: %w", err)
	}
	refs, _ := v.([]model.BlockRef)
	return refs, nil
}
