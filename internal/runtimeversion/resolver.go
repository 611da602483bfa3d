package runtimeversion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Polkawatch/substrate-archive/internal/bridge"
	"github.com/Polkawatch/substrate-archive/internal/cache"
	"github.com/Polkawatch/substrate-archive/internal/chain"
	"github.com/Polkawatch/substrate-archive/internal/domain/model"
	"github.com/Polkawatch/substrate-archive/internal/metrics"
	"golang.org/x/sync/singleflight"
)

// ErrVersionNotFound means the backend does not know the block.
var ErrVersionNotFound = errors.New("runtime version not found")

// ResolutionError reports a failed version lookup for one block.
type ResolutionError struct {
	Hash model.Hash
	Err  error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve runtime version at %s: %v", e.Hash, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// Resolver maps block hashes to the runtime version active at that block.
// Finalized history never changes, so resolved entries live for the whole
// process. Concurrent misses on the same hash share one backend lookup.
type Resolver struct {
	backend chain.Backend
	bridge  *bridge.Bridge
	cache   *cache.ShardedLRU[model.Hash, model.RuntimeVersion]
	flight  singleflight.Group
	chain   string
	logger  *slog.Logger
}

func New(backend chain.Backend, br *bridge.Bridge, shards int, chainName string, logger *slog.Logger) *Resolver {
	return &Resolver{
		backend: backend,
		bridge:  br,
		cache:   cache.NewShardedLRU[model.Hash, model.RuntimeVersion](0, 0, shards, model.Hash.Bytes),
		chain:   chainName,
		logger:  logger.With("component", "runtime_version"),
	}
}

// Resolve blocks on the backend on a miss. It returns nil, nil when the
// block is unknown to the backend. Call it from bridged code only.
func (r *Resolver) Resolve(ctx context.Context, hash model.Hash) (*model.RuntimeVersion, error) {
	if v, ok := r.cache.Get(hash); ok {
		metrics.VersionCacheHits.WithLabelValues(r.chain).Inc()
		return &v, nil
	}
	metrics.VersionCacheMisses.WithLabelValues(r.chain).Inc()

	res, err, _ := r.flight.Do(string(hash[:]), func() (interface{}, error) {
		if v, ok := r.cache.Get(hash); ok {
			return &v, nil
		}
		v, err := r.backend.RuntimeVersion(ctx, hash)
		if err != nil {
			return nil, err
		}
		if v == nil {
			return (*model.RuntimeVersion)(nil), nil
		}
		r.cache.Put(hash, *v)
		r.logger.Debug("runtime version resolved", "hash", hash.String(), "spec_version", v.SpecVersion)
		return v, nil
	})
	if err != nil {
		return nil, &ResolutionError{Hash: hash, Err: err}
	}
	v := res.(*model.RuntimeVersion)
	if v == nil {
		return nil, nil
	}
	out := *v
	return &out, nil
}

// Get resolves through the bridge, for callers running in a message loop.
func (r *Resolver) Get(ctx context.Context, hash model.Hash) (*model.RuntimeVersion, error) {
	return bridge.Do(ctx, r.bridge, func() (*model.RuntimeVersion, error) {
		return r.Resolve(context.WithoutCancel(ctx), hash)
	})
}

// SpecVersion is Resolve that treats an unknown block as an error.
func (r *Resolver) SpecVersion(ctx context.Context, hash model.Hash) (uint32, error) {
	v, err := r.Resolve(ctx, hash)
	if err != nil {
		return 0, err
	}
	if v == nil {
		return 0, &ResolutionError{Hash: hash, Err: ErrVersionNotFound}
	}
	return v.SpecVersion, nil
}

// Cached reports how many versions are held in memory.
func (r *Resolver) Cached() int {
	return r.cache.Len()
}
