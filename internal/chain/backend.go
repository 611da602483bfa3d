package chain

import (
	"context"
	"fmt"

	"github.com/Polkawatch/substrate-archive/internal/domain/model"
)

//go:generate mockgen -destination=mocks/mock_backend.go -package=mocks . Backend,BlockIterator

// Backend is a read-only, finalized, linear view of chain blocks. Every
// method blocks on network or disk I/O; callers run them through the bridge.
type Backend interface {
	// FinalizedHead returns the number of the latest finalized block.
	FinalizedHead(ctx context.Context) (uint32, error)

	// IterBlocks returns a lazy iterator over every block number in
	// [0, finalized head] accepted by pred, in increasing order. The head is
	// snapshotted when IterBlocks is called.
	IterBlocks(ctx context.Context, pred func(number uint32) bool) (BlockIterator, error)

	// RuntimeVersion returns the runtime version active at hash, or nil when
	// the block is unknown to the backend.
	RuntimeVersion(ctx context.Context, hash model.Hash) (*model.RuntimeVersion, error)

	// StorageAt reads a raw storage value at the given block. Absent keys
	// return nil.
	StorageAt(ctx context.Context, hash model.Hash, key []byte) ([]byte, error)
}

// RangeBackend is implemented by backends that can skip numbers below a
// lower bound without consulting pred. Crawls use it to avoid walking the
// whole chain on every tick.
type RangeBackend interface {
	// IterBlocksFrom is IterBlocks restricted to [from, finalized head].
	IterBlocksFrom(ctx context.Context, from uint32, pred func(number uint32) bool) (BlockIterator, error)
}

// BlockIterator yields backend blocks in increasing number order.
type BlockIterator interface {
	Next() bool
	Block() *model.BackendBlock
	Err() error
	Close() error
}

// BackendError reports a failed backend lookup or iteration.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend %s: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// WrapError wraps err as a BackendError for op. A nil err stays nil.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &BackendError{Op: op, Err: err}
}

// Collect drains it into a slice and closes it.
func Collect(it BlockIterator) ([]model.BackendBlock, error) {
	defer it.Close()
	var out []model.BackendBlock
	for it.Next() {
		out = append(out, *it.Block())
	}
	if err := it.Err(); err != nil {
		return out, err
	}
	return out, nil
}
