package chain_test

import (
	"errors"
	"testing"

	"github.com/Polkawatch/substrate-archive/internal/chain"
	"github.com/Polkawatch/substrate-archive/internal/chain/mocks"
	"github.com/Polkawatch/substrate-archive/internal/domain/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestCollect_DrainsAndCloses(t *testing.T) {
	ctrl := gomock.NewController(t)
	it := mocks.NewMockBlockIterator(ctrl)

	b1 := &model.BackendBlock{Header: model.Header{Number: 1}}
	b2 := &model.BackendBlock{Header: model.Header{Number: 2}}
	gomock.InOrder(
		it.EXPECT().Next().Return(true),
		it.EXPECT().Block().Return(b1),
		it.EXPECT().Next().Return(true),
		it.EXPECT().Block().Return(b2),
		it.EXPECT().Next().Return(false),
		it.EXPECT().Err().Return(nil),
	)
	it.EXPECT().Close().Return(nil)

	blocks, err := chain.Collect(it)
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	assert.Equal(t, uint32(1), blocks[0].Header.Number)
	assert.Equal(t, uint32(2), blocks[1].Header.Number)
}

func TestCollect_ReturnsIteratorError(t *testing.T) {
	ctrl := gomock.NewController(t)
	it := mocks.NewMockBlockIterator(ctrl)
	boom := errors.New("boom")

	it.EXPECT().Next().Return(false)
	it.EXPECT().Err().Return(boom)
	it.EXPECT().Close().Return(nil)

	_, err := chain.Collect(it)
	assert.ErrorIs(t, err, boom)
}

func TestWrapError(t *testing.T) {
	assert.NoError(t, chain.WrapError("op", nil))

	cause := errors.New("connection refused")
	err := chain.WrapError("iter_blocks", cause)

	var backendErr *chain.BackendError
	require.ErrorAs(t, err, &backendErr)
	assert.Equal(t, "iter_blocks", backendErr.Op)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "backend iter_blocks: connection refused", err.Error())
}
