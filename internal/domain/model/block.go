package model

// Header carries the header accessors the archive persists.
type Header struct {
	ParentHash     Hash   `json:"parent_hash"`
	Hash           Hash   `json:"hash"`
	Number         uint32 `json:"number"`
	StateRoot      Hash   `json:"state_root"`
	ExtrinsicsRoot Hash   `json:"extrinsics_root"`
}

// BackendBlock is a block as produced by the chain backend: header plus the
// opaque SCALE-encoded extrinsics of its body.
type BackendBlock struct {
	Header     Header   `json:"header"`
	Extrinsics [][]byte `json:"extrinsics"`
}

// Block is a backend block decorated with the runtime spec version that was
// active when it was produced. Blocks are immutable once built; identity is
// the header hash.
type Block struct {
	Inner       BackendBlock `json:"inner"`
	SpecVersion uint32       `json:"spec_version"`
}

func NewBlock(inner BackendBlock, specVersion uint32) Block {
	return Block{Inner: inner, SpecVersion: specVersion}
}

func (b Block) Hash() Hash {
	return b.Inner.Header.Hash
}

func (b Block) Number() uint32 {
	return b.Inner.Header.Number
}

func (b Block) Ref() BlockRef {
	return BlockRef{Hash: b.Hash(), Number: b.Number()}
}

// BatchBlock groups the blocks produced by one indexing pass. Hash
// uniqueness is not checked.
type BatchBlock struct {
	Source string  `json:"source"`
	Blocks []Block `json:"blocks"`
}

func NewBatchBlock(source string, blocks []Block) BatchBlock {
	return BatchBlock{Source: source, Blocks: blocks}
}

func (b BatchBlock) Len() int {
	return len(b.Blocks)
}

// MaxNumber returns the highest block number in blocks, or floor when it is
// higher (or blocks is empty).
func MaxNumber(floor uint32, blocks []Block) uint32 {
	highest := floor
	for _, b := range blocks {
		if n := b.Number(); n > highest {
			highest = n
		}
	}
	return highest
}

// BlockRef identifies a persisted block row.
type BlockRef struct {
	Hash   Hash   `json:"hash"`
	Number uint32 `json:"number"`
}
