package runtimeversion

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Polkawatch/substrate-archive/internal/bridge"
	"github.com/Polkawatch/substrate-archive/internal/chain"
	"github.com/Polkawatch/substrate-archive/internal/chain/mocks"
	"github.com/Polkawatch/substrate-archive/internal/domain/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func newTestResolver(t *testing.T) (*Resolver, *mocks.MockBackend) {
	t.Helper()
	ctrl := gomock.NewController(t)
	backend := mocks.NewMockBackend(ctrl)
	br := bridge.New(4, 16, slog.Default())
	t.Cleanup(br.Close)
	return New(backend, br, 4, "test", slog.Default()), backend
}

func TestResolve_CachesForProcessLifetime(t *testing.T) {
	r, backend := newTestResolver(t)
	hash := model.Hash{0x01}

	backend.EXPECT().RuntimeVersion(gomock.Any(), hash).
		Return(&model.RuntimeVersion{SpecName: "polkadot", SpecVersion: 9110}, nil).
		Times(1)

	for i := 0; i < 3; i++ {
		v, err := r.Resolve(context.Background(), hash)
		require.NoError(t, err)
		require.NotNil(t, v)
		assert.Equal(t, uint32(9110), v.SpecVersion)
	}
	assert.Equal(t, 1, r.Cached())
}

func TestResolve_ReturnedValueIsACopy(t *testing.T) {
	r, backend := newTestResolver(t)
	hash := model.Hash{0x02}
	backend.EXPECT().RuntimeVersion(gomock.Any(), hash).Return(&model.RuntimeVersion{SpecVersion: 1}, nil)

	v, err := r.Resolve(context.Background(), hash)
	require.NoError(t, err)
	v.SpecVersion = 99

	again, err := r.Resolve(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), again.SpecVersion)
}

func TestResolve_UnknownBlockIsNotCached(t *testing.T) {
	r, backend := newTestResolver(t)
	hash := model.Hash{0x03}
	backend.EXPECT().RuntimeVersion(gomock.Any(), hash).Return(nil, nil).Times(2)

	for i := 0; i < 2; i++ {
		v, err := r.Resolve(context.Background(), hash)
		require.NoError(t, err)
		assert.Nil(t, v)
	}
	assert.Zero(t, r.Cached())

	backend.EXPECT().RuntimeVersion(gomock.Any(), hash).Return(nil, nil)
	_, err := r.SpecVersion(context.Background(), hash)
	var resErr *ResolutionError
	require.ErrorAs(t, err, &resErr)
	assert.ErrorIs(t, err, ErrVersionNotFound)
	assert.Equal(t, hash, resErr.Hash)
}

func TestResolve_BackendFailure(t *testing.T) {
	r, backend := newTestResolver(t)
	hash := model.Hash{0x04}
	cause := chain.WrapError("runtime_version", errors.New("connection reset"))
	backend.EXPECT().RuntimeVersion(gomock.Any(), hash).Return(nil, cause)

	_, err := r.Resolve(context.Background(), hash)
	var resErr *ResolutionError
	require.ErrorAs(t, err, &resErr)
	var backendErr *chain.BackendError
	assert.ErrorAs(t, err, &backendErr)
	assert.Zero(t, r.Cached())
}

func TestResolve_ConcurrentCallersShareOneLookup(t *testing.T) {
	r, backend := newTestResolver(t)
	hash := model.Hash{0x05}
	entered := make(chan struct{})
	gate := make(chan struct{})

	backend.EXPECT().RuntimeVersion(gomock.Any(), hash).
		DoAndReturn(func(ctx context.Context, h model.Hash) (*model.RuntimeVersion, error) {
			close(entered)
			<-gate
			return &model.RuntimeVersion{SpecVersion: 25}, nil
		}).
		Times(1)

	const callers = 8
	results := make([]*model.RuntimeVersion, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := r.Resolve(context.Background(), hash)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}

	<-entered
	time.Sleep(10 * time.Millisecond)
	close(gate)
	wg.Wait()

	for _, v := range results {
		require.NotNil(t, v)
		assert.Equal(t, uint32(25), v.SpecVersion)
	}
	assert.Equal(t, 1, r.Cached())
}

func TestGet_RunsThroughBridge(t *testing.T) {
	r, backend := newTestResolver(t)
	hash := model.Hash{0x06}
	backend.EXPECT().RuntimeVersion(gomock.Any(), hash).Return(&model.RuntimeVersion{SpecVersion: 7}, nil)

	v, err := r.Get(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), v.SpecVersion)

	spec, err := r.SpecVersion(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), spec)
}
