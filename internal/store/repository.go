package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Polkawatch/substrate-archive/internal/domain/model"
)

//go:generate mockgen -destination=mocks/mock_repository.go -package=mocks . TxBeginner,BlockRepository,InherentRepository

// ErrBlockNotFound is returned by partial updates keyed by a block hash that
// has no row yet.
var ErrBlockNotFound = errors.New("block not found")

// StorageError reports a failed driver call or statement.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// WrapError wraps err as a StorageError for op. A nil err stays nil and
// ErrBlockNotFound passes through unwrapped.
func WrapError(op string, err error) error {
	if err == nil || errors.Is(err, ErrBlockNotFound) {
		return err
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// TxBeginner abstracts the ability to begin a database transaction.
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// BlockRepository persists block rows keyed by hash.
type BlockRepository interface {
	// UpsertTx inserts the block row unless its hash is already present.
	// inserted is false for a duplicate.
	UpsertTx(ctx context.Context, tx *sql.Tx, block *model.Block) (inserted bool, err error)
	// UpdateTime sets the wall-clock time of the block with hash. It returns
	// ErrBlockNotFound when no such row exists yet.
	UpdateTime(ctx context.Context, hash model.Hash, t time.Time) error
	// MaxNumber returns the highest persisted block number; ok is false on
	// an empty table.
	MaxNumber(ctx context.Context) (max uint32, ok bool, err error)
	// MissingNumbers lists numbers in [from, to] with no block row, in
	// increasing order, at most limit of them (limit <= 0 means all).
	MissingNumbers(ctx context.Context, from, to uint32, limit int) ([]uint32, error)
	// ListUntimed returns up to limit blocks whose time is still unknown,
	// lowest numbers first.
	ListUntimed(ctx context.Context, limit int) ([]model.BlockRef, error)
	// Summary reports row counts for status endpoints.
	Summary(ctx context.Context) (BlockSummary, error)
}

// BlockSummary is a point-in-time view of the blocks table.
type BlockSummary struct {
	Blocks    int64  `json:"blocks"`
	Untimed   int64  `json:"untimed"`
	MaxNumber uint32 `json:"max_number"`
}

// InherentRepository persists rows derived from block extrinsics.
type InherentRepository interface {
	// BulkInsertTx inserts rows, skipping (hash, in_index) pairs already
	// present, and returns how many were inserted.
	BulkInsertTx(ctx context.Context, tx *sql.Tx, rows []model.Inherent) (int64, error)
}
