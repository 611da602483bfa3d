package model

// Inherent is a call row derived from one extrinsic of a persisted block.
// It references its block by hash and number; the block row must exist
// before the inherent is committed.
type Inherent struct {
	Hash       Hash   `db:"hash"`
	Block      uint32 `db:"block"`
	Module     string `db:"module"`
	Call       string `db:"call"`
	Parameters []byte `db:"parameters"`
	Success    bool   `db:"success"`
	Signed     bool   `db:"-"`
	Index      int32  `db:"in_index"`
}
