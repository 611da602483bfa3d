package decode

import (
	"testing"

	"github.com/Polkawatch/substrate-archive/internal/domain/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frame(body ...byte) []byte {
	return append(EncodeCompact(uint64(len(body))), body...)
}

func TestCompact(t *testing.T) {
	cases := []struct {
		in   []byte
		want uint64
		n    int
	}{
		{[]byte{0x00}, 0, 1},
		{[]byte{0xfc}, 63, 1},
		{[]byte{0x01, 0x01}, 64, 2},
		{[]byte{0xfd, 0xff}, 16383, 2},
		{[]byte{0x02, 0x00, 0x01, 0x00}, 16384, 4},
		{[]byte{0x03, 0x00, 0x00, 0x00, 0x40}, 1 << 30, 5},
	}
	for _, tc := range cases {
		got, n, err := Compact(tc.in)
		require.NoError(t, err, "%x", tc.in)
		assert.Equal(t, tc.want, got, "%x", tc.in)
		assert.Equal(t, tc.n, n, "%x", tc.in)
	}

	_, _, err := Compact(nil)
	assert.ErrorIs(t, err, ErrTruncated)
	_, _, err = Compact([]byte{0x01})
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestEncodeCompact_InvertsCompact(t *testing.T) {
	for _, v := range []uint64{0, 1, 63, 64, 16383, 16384, 1<<30 - 1, 1 << 30, 1 << 40} {
		enc := EncodeCompact(v)
		got, n, err := Compact(enc)
		require.NoError(t, err)
		assert.Equal(t, v, got)
		assert.Equal(t, len(enc), n)
	}
}

func TestExtrinsic_Unsigned(t *testing.T) {
	d := New(map[uint8]Pallet{
		3: {Name: "Timestamp", Calls: map[uint8]string{0: "set"}},
	})

	inh, err := d.Extrinsic(frame(0x04, 0x03, 0x00, 0x0b, 0x60, 0x8c))
	require.NoError(t, err)
	assert.Equal(t, "Timestamp", inh.Module)
	assert.Equal(t, "set", inh.Call)
	assert.Equal(t, []byte{0x0b, 0x60, 0x8c}, inh.Parameters)
	assert.False(t, inh.Signed)
	assert.True(t, inh.Success)
}

func TestExtrinsic_DefaultNames(t *testing.T) {
	d := New(map[uint8]Pallet{7: {Name: "Staking"}})

	inh, err := d.Extrinsic(frame(0x04, 0x07, 0x02))
	require.NoError(t, err)
	assert.Equal(t, "Staking", inh.Module)
	assert.Equal(t, "call_2", inh.Call)

	inh, err = d.Extrinsic(frame(0x04, 0x09, 0x01))
	require.NoError(t, err)
	assert.Equal(t, "pallet_9", inh.Module)
	assert.Equal(t, "call_1", inh.Call)
	assert.Empty(t, inh.Parameters)
}

func TestExtrinsic_Signed(t *testing.T) {
	d := New(nil)
	inh, err := d.Extrinsic(frame(0x84, 0x00, 0xaa, 0xbb))
	require.NoError(t, err)
	assert.True(t, inh.Signed)
	assert.Equal(t, SignedCallName, inh.Module)
	assert.Equal(t, SignedCallName, inh.Call)
	assert.Equal(t, []byte{0x00, 0xaa, 0xbb}, inh.Parameters)
}

func TestExtrinsic_Malformed(t *testing.T) {
	d := New(nil)

	_, err := d.Extrinsic(nil)
	assert.Error(t, err)

	_, err = d.Extrinsic([]byte{0x10, 0x04})
	assert.ErrorContains(t, err, "length prefix says 4 bytes")

	_, err = d.Extrinsic(frame(0x03, 0x00, 0x00))
	assert.ErrorContains(t, err, "unsupported extrinsic version 3")

	_, err = d.Extrinsic(frame(0x04, 0x01))
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestInherents_FillsBlockFields(t *testing.T) {
	d := New(nil)
	hash := model.Hash{0xde, 0xad}
	block := model.NewBlock(model.BackendBlock{
		Header:     model.Header{Hash: hash, Number: 12},
		Extrinsics: [][]byte{frame(0x04, 0x00, 0x00), frame(0x84, 0x01)},
	}, 9110)

	rows, err := d.Inherents(block)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for i, r := range rows {
		assert.Equal(t, hash, r.Hash)
		assert.Equal(t, uint32(12), r.Block)
		assert.Equal(t, int32(i), r.Index)
	}
	assert.False(t, rows[0].Signed)
	assert.True(t, rows[1].Signed)
}

func TestInherents_OneBadExtrinsicFailsBlock(t *testing.T) {
	d := New(nil)
	block := model.NewBlock(model.BackendBlock{
		Header:     model.Header{Number: 3},
		Extrinsics: [][]byte{frame(0x04, 0x00, 0x00), {0xff}},
	}, 1)

	rows, err := d.Inherents(block)
	require.Error(t, err)
	assert.Nil(t, rows)
	assert.Contains(t, err.Error(), "block 3 extrinsic 1")
}
