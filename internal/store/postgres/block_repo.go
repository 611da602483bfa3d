package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Polkawatch/substrate-archive/internal/domain/model"
	"github.com/Polkawatch/substrate-archive/internal/store"
)

type BlockRepo struct {
	db *sql.DB
}

func NewBlockRepo(db *sql.DB) *BlockRepo {
	return &BlockRepo{db: db}
}

var _ store.BlockRepository = (*BlockRepo)(nil)

func (r *BlockRepo) UpsertTx(ctx context.Context, tx *sql.Tx, block *model.Block) (bool, error) {
	const query = `
		INSERT INTO blocks (hash, parent_hash, block, state_root, extrinsics_root, spec_version)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (hash) DO NOTHING
	`
	h := block.Inner.Header
	res, err := tx.ExecContext(ctx, query,
		h.Hash.Bytes(), h.ParentHash.Bytes(), int64(h.Number),
		h.StateRoot.Bytes(), h.ExtrinsicsRoot.Bytes(), int64(block.SpecVersion),
	)
	if err != nil {
		return false, store.WrapError("upsert_block", fmt.Errorf("block %d: %w", h.Number, err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, store.WrapError("upsert_block", fmt.Errorf("rows affected: %w", err))
	}
	return n > 0, nil
}

func (r *BlockRepo) UpdateTime(ctx context.Context, hash model.Hash, t time.Time) error {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `UPDATE blocks SET time = $2 WHERE hash = $1`, hash.Bytes(), t.UTC())
	if err != nil {
		return store.WrapError("update_time", fmt.Errorf("block %s: %w", hash, err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return store.WrapError("update_time", fmt.Errorf("rows affected: %w", err))
	}
	if n == 0 {
		return store.ErrBlockNotFound
	}
	return nil
}

func (r *BlockRepo) MaxNumber(ctx context.Context) (uint32, bool, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	var max sql.NullInt64
	if err := r.db.QueryRowContext(ctx, `SELECT MAX(block) FROM blocks`).Scan(&max); err != nil {
		return 0, false, store.WrapError("max_number", err)
	}
	if !max.Valid {
		return 0, false, nil
	}
	return uint32(max.Int64), true, nil
}

// MissingNumbers anti-joins a generated series against the blocks table.
func (r *BlockRepo) MissingNumbers(ctx context.Context, from, to uint32, limit int) ([]uint32, error) {
	if from > to {
		return nil, nil
	}
	ctx, cancel := withTimeout(ctx, LongQueryTimeout)
	defer cancel()

	query := `
		SELECT gs.n
		FROM generate_series($1::bigint, $2::bigint) AS gs(n)
		WHERE NOT EXISTS (
			SELECT 1 FROM blocks b WHERE b.block = gs.n
		)
		ORDER BY gs.n
	`
	args := []interface{}{int64(from), int64(to)}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, store.WrapError("missing_numbers", err)
	}
	defer rows.Close()

	var missing []uint32
	for rows.Next() {
		var n int64
		if err := rows.Scan(&n); err != nil {
			return nil, store.WrapError("missing_numbers", fmt.Errorf("scan: %w", err))
		}
		missing = append(missing, uint32(n))
	}
	if err := rows.Err(); err != nil {
		return nil, store.WrapError("missing_numbers", err)
	}
	return missing, nil
}

func (r *BlockRepo) ListUntimed(ctx context.Context, limit int) ([]model.BlockRef, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT hash, block FROM blocks
		WHERE time IS NULL
		ORDER BY block
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, store.WrapError("list_untimed", err)
	}
	defer rows.Close()

	var refs []model.BlockRef
	for rows.Next() {
		var (
			raw []byte
			n   int64
		)
		if err := rows.Scan(&raw, &n); err != nil {
			return nil, store.WrapError("list_untimed", fmt.Errorf("scan: %w", err))
		}
		hash, err := model.HashFromBytes(raw)
		if err != nil {
			return nil, store.WrapError("list_untimed", err)
		}
		refs = append(refs, model.BlockRef{Hash: hash, Number: uint32(n)})
	}
	if err := rows.Err(); err != nil {
		return nil, store.WrapError("list_untimed", err)
	}
	return refs, nil
}

func (r *BlockRepo) Summary(ctx context.Context) (store.BlockSummary, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	var (
		s   store.BlockSummary
		max sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE time IS NULL), MAX(block)
		FROM blocks
	`).Scan(&s.Blocks, &s.Untimed, &max)
	if err != nil {
		return s, store.WrapError("summary", err)
	}
	if max.Valid {
		s.MaxNumber = uint32(max.Int64)
	}
	return s, nil
}
