package substrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Polkawatch/substrate-archive/internal/chain"
	"github.com/Polkawatch/substrate-archive/internal/domain/model"
)

var (
	_ chain.Backend      = (*Backend)(nil)
	_ chain.RangeBackend = (*Backend)(nil)
)

// Backend serves chain.Backend from a Substrate node over JSON-RPC.
type Backend struct {
	client *Client
	logger *slog.Logger
}

func NewBackend(client *Client, logger *slog.Logger) *Backend {
	return &Backend{
		client: client,
		logger: logger.With("component", "substrate_backend"),
	}
}

func (b *Backend) Client() *Client { return b.client }

func (b *Backend) FinalizedHead(ctx context.Context) (uint32, error) {
	hash, err := b.client.FinalizedHash(ctx)
	if err != nil {
		return 0, chain.WrapError("finalized_head", err)
	}
	header, err := b.client.Header(ctx, hash)
	if err != nil {
		return 0, chain.WrapError("finalized_head", err)
	}
	if header == nil {
		return 0, chain.WrapError("finalized_head", fmt.Errorf("finalized block %s has no header", hash))
	}
	return header.Number, nil
}

func (b *Backend) IterBlocks(ctx context.Context, pred func(number uint32) bool) (chain.BlockIterator, error) {
	return b.IterBlocksFrom(ctx, 0, pred)
}

func (b *Backend) IterBlocksFrom(ctx context.Context, from uint32, pred func(number uint32) bool) (chain.BlockIterator, error) {
	head, err := b.FinalizedHead(ctx)
	if err != nil {
		return nil, err
	}
	return &blockIterator{ctx: ctx, client: b.client, pred: pred, head: head, next: uint64(from)}, nil
}

func (b *Backend) RuntimeVersion(ctx context.Context, hash model.Hash) (*model.RuntimeVersion, error) {
	version, err := b.client.RuntimeVersion(ctx, hash)
	if err == nil {
		return version, nil
	}
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		return nil, chain.WrapError("runtime_version", err)
	}
	// Nodes answer unknown hashes with an error object; tell that apart from
	// a real failure by asking for the header.
	header, headerErr := b.client.Header(ctx, hash)
	if headerErr == nil && header == nil {
		return nil, nil
	}
	return nil, chain.WrapError("runtime_version", err)
}

func (b *Backend) StorageAt(ctx context.Context, hash model.Hash, key []byte) ([]byte, error) {
	value, err := b.client.Storage(ctx, hash, key)
	if err != nil {
		return nil, chain.WrapError("storage", err)
	}
	return value, nil
}

// blockIterator walks [next, head] and fetches each accepted number lazily.
type blockIterator struct {
	ctx    context.Context
	client *Client
	pred   func(uint32) bool
	head   uint32
	next   uint64
	cur    *model.BackendBlock
	err    error
	closed bool
}

func (it *blockIterator) Next() bool {
	if it.err != nil || it.closed {
		return false
	}
	for it.next <= uint64(it.head) {
		n := uint32(it.next)
		it.next++
		if !it.pred(n) {
			continue
		}
		if err := it.ctx.Err(); err != nil {
			it.err = chain.WrapError("iter_blocks", err)
			return false
		}
		block, err := it.fetch(n)
		if err != nil {
			it.err = chain.WrapError("iter_blocks", err)
			return false
		}
		if block == nil {
			continue
		}
		it.cur = block
		return true
	}
	it.cur = nil
	return false
}

func (it *blockIterator) fetch(n uint32) (*model.BackendBlock, error) {
	hash, ok, err := it.client.BlockHash(it.ctx, n)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	block, err := it.client.Block(it.ctx, hash)
	if err != nil {
		return nil, err
	}
	if block != nil && block.Header.Number != n {
		return nil, fmt.Errorf("block %s reports number %d, requested %d", hash, block.Header.Number, n)
	}
	return block, nil
}

func (it *blockIterator) Block() *model.BackendBlock { return it.cur }

func (it *blockIterator) Err() error { return it.err }

func (it *blockIterator) Close() error {
	it.closed = true
	it.cur = nil
	return nil
}
