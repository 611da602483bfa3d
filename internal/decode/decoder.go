// Package decode turns the opaque extrinsics of a block into inherent rows.
//
// Only the framing is decoded: length prefix, version byte with its signed
// bit, and for unsigned extrinsics the pallet and call indices. Call
// arguments are stored as raw bytes.
package decode

import (
	"fmt"

	"github.com/Polkawatch/substrate-archive/internal/domain/model"
)

const (
	signedBit      = 0b1000_0000
	versionMask    = 0b0111_1111
	SignedCallName = "signed"
)

// Pallet names one pallet index and its call indices.
type Pallet struct {
	Name  string
	Calls map[uint8]string
}

// Decoder derives inherent rows from blocks. Names come from an optional
// index table; anything missing is rendered as pallet_<i> / call_<j>.
type Decoder struct {
	pallets map[uint8]Pallet
}

func New(pallets map[uint8]Pallet) *Decoder {
	if pallets == nil {
		pallets = map[uint8]Pallet{}
	}
	return &Decoder{pallets: pallets}
}

func (d *Decoder) names(pallet, call uint8) (string, string) {
	p, ok := d.pallets[pallet]
	module := fmt.Sprintf("pallet_%d", pallet)
	if ok && p.Name != "" {
		module = p.Name
	}
	fn := fmt.Sprintf("call_%d", call)
	if ok {
		if name, found := p.Calls[call]; found {
			fn = name
		}
	}
	return module, fn
}

// Inherents decodes every extrinsic of block. Any malformed extrinsic fails
// the whole block so no partial set of rows is ever written.
func (d *Decoder) Inherents(block model.Block) ([]model.Inherent, error) {
	out := make([]model.Inherent, 0, len(block.Inner.Extrinsics))
	for i, raw := range block.Inner.Extrinsics {
		inh, err := d.Extrinsic(raw)
		if err != nil {
			return nil, fmt.Errorf("block %d extrinsic %d: %w", block.Number(), i, err)
		}
		inh.Hash = block.Hash()
		inh.Block = block.Number()
		inh.Index = int32(i)
		out = append(out, inh)
	}
	return out, nil
}

// Extrinsic decodes one length-prefixed extrinsic. Hash, Block and Index
// are left for the caller.
func (d *Decoder) Extrinsic(raw []byte) (model.Inherent, error) {
	length, n, err := Compact(raw)
	if err != nil {
		return model.Inherent{}, fmt.Errorf("length prefix: %w", err)
	}
	body := raw[n:]
	if uint64(len(body)) != length {
		return model.Inherent{}, fmt.Errorf("length prefix says %d bytes, have %d", length, len(body))
	}
	if len(body) == 0 {
		return model.Inherent{}, fmt.Errorf("empty extrinsic")
	}

	version := body[0]
	if version&versionMask != 4 {
		return model.Inherent{}, fmt.Errorf("unsupported extrinsic version %d", version&versionMask)
	}
	payload := body[1:]

	if version&signedBit != 0 {
		return model.Inherent{
			Module:     SignedCallName,
			Call:       SignedCallName,
			Parameters: append([]byte(nil), payload...),
			Success:    true,
			Signed:     true,
		}, nil
	}

	if len(payload) < 2 {
		return model.Inherent{}, fmt.Errorf("call index: %w", ErrTruncated)
	}
	module, call := d.names(payload[0], payload[1])
	return model.Inherent{
		Module:     module,
		Call:       call,
		Parameters: append([]byte(nil), payload[2:]...),
		Success:    true,
	}, nil
}
