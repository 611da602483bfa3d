package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/Polkawatch/substrate-archive/internal/domain/model"
	"github.com/Polkawatch/substrate-archive/internal/store"
)

// inherentBatchSize keeps a single INSERT under the 65535 bind-parameter
// limit of the postgres wire protocol.
const inherentBatchSize = 1000

const inherentColumns = 7

type InherentRepo struct {
	db *sql.DB
}

func NewInherentRepo(db *sql.DB) *InherentRepo {
	return &InherentRepo{db: db}
}

var _ store.InherentRepository = (*InherentRepo)(nil)

func (r *InherentRepo) BulkInsertTx(ctx context.Context, tx *sql.Tx, rows []model.Inherent) (int64, error) {
	var total int64
	for start := 0; start < len(rows); start += inherentBatchSize {
		end := start + inherentBatchSize
		if end > len(rows) {
			end = len(rows)
		}
		n, err := r.insertChunk(ctx, tx, rows[start:end])
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (r *InherentRepo) insertChunk(ctx context.Context, tx *sql.Tx, rows []model.Inherent) (int64, error) {
	var sb strings.Builder
	sb.WriteString(`
		INSERT INTO inherents (hash, block, module, call, parameters, success, in_index)
		VALUES `)

	args := make([]interface{}, 0, len(rows)*inherentColumns)
	for i, row := range rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * inherentColumns
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7)

		var params interface{}
		if len(row.Parameters) > 0 {
			params = row.Parameters
		}
		args = append(args,
			row.Hash.Bytes(), int64(row.Block), row.Module, row.Call,
			params, row.Success, row.Index,
		)
	}
	sb.WriteString(`
		ON CONFLICT (hash, in_index) DO NOTHING
	`)

	res, err := tx.ExecContext(ctx, sb.String(), args...)
	if err != nil {
		return 0, store.WrapError("insert_inherents", fmt.Errorf("%d rows: %w", len(rows), err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, store.WrapError("insert_inherents", fmt.Errorf("rows affected: %w", err))
	}
	return n, nil
}
