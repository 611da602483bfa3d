package cache

import (
	"hash/fnv"
	"time"
)

const defaultShardCount = 16

type Cache[K comparable, V any] interface {
	Get(key K) (V, bool)
	Put(key K, value V)
	Len() int
	Stats() (hits, misses int64)
}

var _ Cache[string, int] = (*LRU[string, int])(nil)

// ShardedLRU spreads keys over independent LRU shards so concurrent
// lookups of different keys rarely share a lock. Shards are picked by
// FNV-32a over the bytes returned by keyFn.
type ShardedLRU[K comparable, V any] struct {
	shards []*LRU[K, V]
	keyFn  func(K) []byte
}

// NewShardedLRU builds shardCount shards. totalCapacity is split evenly;
// totalCapacity <= 0 makes every shard unbounded.
func NewShardedLRU[K comparable, V any](totalCapacity int, ttl time.Duration, shardCount int, keyFn func(K) []byte) *ShardedLRU[K, V] {
	if shardCount <= 0 {
		shardCount = defaultShardCount
	}
	perShard := 0
	if totalCapacity > 0 {
		perShard = totalCapacity / shardCount
		if perShard < 1 {
			perShard = 1
		}
	}

	shards := make([]*LRU[K, V], shardCount)
	for i := range shards {
		shards[i] = NewLRU[K, V](perShard, ttl)
	}
	return &ShardedLRU[K, V]{shards: shards, keyFn: keyFn}
}

func (s *ShardedLRU[K, V]) shard(key K) *LRU[K, V] {
	h := fnv.New32a()
	_, _ = h.Write(s.keyFn(key))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}

func (s *ShardedLRU[K, V]) Get(key K) (V, bool) {
	return s.shard(key).Get(key)
}

func (s *ShardedLRU[K, V]) Put(key K, value V) {
	s.shard(key).Put(key, value)
}

func (s *ShardedLRU[K, V]) Len() int {
	total := 0
	for _, sh := range s.shards {
		total += sh.Len()
	}
	return total
}

func (s *ShardedLRU[K, V]) Stats() (hits, misses int64) {
	for _, sh := range s.shards {
		h, m := sh.Stats()
		hits += h
		misses += m
	}
	return
}

var _ Cache[string, int] = (*ShardedLRU[string, int])(nil)
