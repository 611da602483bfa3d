package pipeline

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/binary"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/Polkawatch/substrate-archive/internal/alert"
	"github.com/Polkawatch/substrate-archive/internal/bridge"
	"github.com/Polkawatch/substrate-archive/internal/chain"
	"github.com/Polkawatch/substrate-archive/internal/decode"
	"github.com/Polkawatch/substrate-archive/internal/domain/model"
	"github.com/Polkawatch/substrate-archive/internal/pipeline/aggregator"
	"github.com/Polkawatch/substrate-archive/internal/pipeline/indexer"
	"github.com/Polkawatch/substrate-archive/internal/pipeline/timestamper"
	"github.com/Polkawatch/substrate-archive/internal/pipeline/writer"
	"github.com/Polkawatch/substrate-archive/internal/store"
	redisstream "github.com/Polkawatch/substrate-archive/internal/store/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDriver struct{}
type fakeConn struct{}
type fakeTx struct{}

func (fakeDriver) Open(string) (driver.Conn, error) { return fakeConn{}, nil }
func (fakeConn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("not implemented")
}
func (fakeConn) Close() error              { return nil }
func (fakeConn) Begin() (driver.Tx, error) { return fakeTx{}, nil }
func (fakeTx) Commit() error               { return nil }
func (fakeTx) Rollback() error             { return nil }

func init() {
	sql.Register("fake_pipeline", fakeDriver{})
}

func hashOf(n uint32) model.Hash {
	var h model.Hash
	binary.BigEndian.PutUint32(h[:4], n)
	h[31] = 0x5a
	return h
}

func millisAt(n uint32) []byte {
	raw := make([]byte, 8)
	binary.LittleEndian.PutUint64(raw, 1_600_000_000_000+uint64(n)*6000)
	return raw
}

// fakeBackend serves blocks 0..head, all on spec 9110.
type fakeBackend struct {
	mu      sync.Mutex
	head    uint32
	iterErr error
}

func (b *fakeBackend) setIterErr(err error) {
	b.mu.Lock()
	b.iterErr = err
	b.mu.Unlock()
}

func (b *fakeBackend) FinalizedHead(context.Context) (uint32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.head, nil
}

func (b *fakeBackend) IterBlocks(_ context.Context, pred func(uint32) bool) (chain.BlockIterator, error) {
	b.mu.Lock()
	head, iterErr := b.head, b.iterErr
	b.mu.Unlock()
	if iterErr != nil {
		return nil, chain.WrapError("iter_blocks", iterErr)
	}
	it := &sliceIterator{pos: -1}
	for n := uint32(0); n <= head; n++ {
		if pred(n) {
			it.blocks = append(it.blocks, model.BackendBlock{Header: model.Header{Hash: hashOf(n), Number: n}})
		}
	}
	return it, nil
}

func (b *fakeBackend) RuntimeVersion(context.Context, model.Hash) (*model.RuntimeVersion, error) {
	return &model.RuntimeVersion{SpecName: "polkadot", SpecVersion: 9110}, nil
}

func (b *fakeBackend) StorageAt(_ context.Context, hash model.Hash, _ []byte) ([]byte, error) {
	return millisAt(binary.BigEndian.Uint32(hash[:4])), nil
}

type sliceIterator struct {
	blocks []model.BackendBlock
	pos    int
}

func (it *sliceIterator) Next() bool                 { it.pos++; return it.pos < len(it.blocks) }
func (it *sliceIterator) Block() *model.BackendBlock { return &it.blocks[it.pos] }
func (it *sliceIterator) Err() error                 { return nil }
func (it *sliceIterator) Close() error               { return nil }

type memRow struct {
	number uint32
	time   *time.Time
}

// memRepo is an in-memory BlockRepository and InherentRepository.
type memRepo struct {
	mu      sync.Mutex
	rows    map[model.Hash]*memRow
	upserts int
}

func newMemRepo(preloaded ...uint32) *memRepo {
	r := &memRepo{rows: make(map[model.Hash]*memRow)}
	for _, n := range preloaded {
		t := time.UnixMilli(0)
		r.rows[hashOf(n)] = &memRow{number: n, time: &t}
	}
	return r
}

func (r *memRepo) UpsertTx(_ context.Context, _ *sql.Tx, block *model.Block) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upserts++
	if _, ok := r.rows[block.Hash()]; ok {
		return false, nil
	}
	r.rows[block.Hash()] = &memRow{number: block.Number()}
	return true, nil
}

func (r *memRepo) UpdateTime(_ context.Context, hash model.Hash, t time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[hash]
	if !ok {
		return store.ErrBlockNotFound
	}
	row.time = &t
	return nil
}

func (r *memRepo) MaxNumber(context.Context) (uint32, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var highest uint32
	for _, row := range r.rows {
		highest = max(highest, row.number)
	}
	return highest, len(r.rows) > 0, nil
}

func (r *memRepo) MissingNumbers(_ context.Context, from, to uint32, limit int) ([]uint32, error) {
	r.mu.Lock()
	have := make(map[uint32]bool, len(r.rows))
	for _, row := range r.rows {
		have[row.number] = true
	}
	r.mu.Unlock()

	var out []uint32
	for n := uint64(from); n <= uint64(to); n++ {
		if limit > 0 && len(out) >= limit {
			break
		}
		if !have[uint32(n)] {
			out = append(out, uint32(n))
		}
	}
	return out, nil
}

func (r *memRepo) ListUntimed(_ context.Context, limit int) ([]model.BlockRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.BlockRef
	for h, row := range r.rows {
		if row.time == nil {
			out = append(out, model.BlockRef{Hash: h, Number: row.number})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepo) Summary(context.Context) (store.BlockSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := store.BlockSummary{Blocks: int64(len(r.rows))}
	for _, row := range r.rows {
		if row.time == nil {
			s.Untimed++
		}
		s.MaxNumber = max(s.MaxNumber, row.number)
	}
	return s, nil
}

func (r *memRepo) BulkInsertTx(_ context.Context, _ *sql.Tx, rows []model.Inherent) (int64, error) {
	return int64(len(rows)), nil
}

// complete reports whether 0..head are all persisted and timed.
func (r *memRepo) complete(head uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for n := uint32(0); n <= head; n++ {
		row, ok := r.rows[hashOf(n)]
		if !ok || row.time == nil {
			return false
		}
	}
	return true
}

func (r *memRepo) upsertCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.upserts
}

type recordingAlerter struct {
	mu     sync.Mutex
	alerts []alert.Alert
}

func (a *recordingAlerter) Send(_ context.Context, al alert.Alert) error {
	a.mu.Lock()
	a.alerts = append(a.alerts, al)
	a.mu.Unlock()
	return nil
}

func (a *recordingAlerter) types() []alert.AlertType {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]alert.AlertType, 0, len(a.alerts))
	for _, al := range a.alerts {
		out = append(out, al.Type)
	}
	return out
}

func testConfig() Config {
	return Config{
		Chain:              "polkadot",
		Indexer:            indexer.Config{Interval: 10 * time.Millisecond},
		Aggregator:         aggregator.Config{FlushInterval: 5 * time.Millisecond},
		Writer:             writer.Config{TimestampRetryDelay: 5 * time.Millisecond, TimestampRetryMax: 50},
		Timestamper:        timestamper.Config{SweepInterval: 20 * time.Millisecond},
		TimestampEnabled:   true,
		PoolSize:           3,
		PoolMailboxSize:    8,
		PoolMaxRestarts:    1,
		UnhealthyThreshold: 2,
		ShutdownTimeout:    5 * time.Second,
	}
}

func newTestPipeline(t *testing.T, cfg Config, backend chain.Backend, repo *memRepo) *Pipeline {
	t.Helper()
	db, err := sql.Open("fake_pipeline", "")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	br := bridge.New(4, 64, slog.Default())
	t.Cleanup(br.Close)

	repos := writer.Repos{Blocks: repo, Inherents: repo}
	return New(cfg, backend, br, db, repos, decode.New(nil), slog.Default())
}

func runPipeline(t *testing.T, p *Pipeline) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, done
}

func waitStopped(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("pipeline did not stop")
		return nil
	}
}

func TestPipeline_IndexesAndTimestampsToHead(t *testing.T) {
	repo := newMemRepo()
	backend := &fakeBackend{head: 40}
	p := newTestPipeline(t, testConfig(), backend, repo)

	cancel, done := runPipeline(t, p)
	require.Eventually(t, func() bool { return repo.complete(40) }, 5*time.Second, 10*time.Millisecond)

	st := p.Status()
	assert.True(t, st.Running)
	assert.Equal(t, "polkadot", st.Chain)
	assert.Equal(t, uint32(40), st.LastMax)
	require.NotNil(t, st.Writers)
	assert.Equal(t, 3, st.Writers.Alive)
	assert.Positive(t, st.CachedVersions)

	summary, err := p.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(41), summary.Blocks)
	assert.Equal(t, int64(0), summary.Untimed)

	cancel()
	require.NoError(t, waitStopped(t, done))
	assert.False(t, p.Status().Running)
	assert.Equal(t, uint32(40), p.Status().Health.LastMax)
}

func TestPipeline_FillsGapsOnly(t *testing.T) {
	repo := newMemRepo(0, 1, 2, 3, 5, 7, 9, 10)
	backend := &fakeBackend{head: 10}
	p := newTestPipeline(t, testConfig(), backend, repo)

	cancel, done := runPipeline(t, p)
	require.Eventually(t, func() bool { return repo.complete(10) }, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, waitStopped(t, done))

	// 4, 6 and 8 are written; nothing after the head exists to crawl.
	assert.Equal(t, 3, repo.upsertCount())
}

func TestPipeline_FollowsNewBlocks(t *testing.T) {
	repo := newMemRepo()
	backend := &fakeBackend{head: 5}
	p := newTestPipeline(t, testConfig(), backend, repo)

	cancel, done := runPipeline(t, p)
	require.Eventually(t, func() bool { return repo.complete(5) }, 5*time.Second, 10*time.Millisecond)

	backend.mu.Lock()
	backend.head = 12
	backend.mu.Unlock()
	p.CrawlNow()

	require.Eventually(t, func() bool { return repo.complete(12) }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, indexer.StateCrawling.String(), p.Status().IndexerState)

	cancel()
	require.NoError(t, waitStopped(t, done))
}

func TestPipeline_StreamTransport(t *testing.T) {
	stream := redisstream.NewInMemoryStream()
	t.Cleanup(func() { stream.Close() })

	cfg := testConfig()
	cfg.StreamTransportEnabled = true
	cfg.StreamBackend = stream
	cfg.StreamNamespace = "test"
	cfg.StreamSessionID = "s1"

	repo := newMemRepo()
	p := newTestPipeline(t, cfg, &fakeBackend{head: 15}, repo)

	cancel, done := runPipeline(t, p)
	require.Eventually(t, func() bool { return repo.complete(15) }, 5*time.Second, 10*time.Millisecond)

	key := "stream-checkpoint:namespace=test:chain=polkadot:session=s1:boundary=aggregator-writer"
	require.Eventually(t, func() bool {
		id, err := stream.LoadStreamCheckpoint(context.Background(), key)
		return err == nil && id == "16-0"
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, waitStopped(t, done))
}

func TestPipeline_StreamConsumerResumesFromCheckpoint(t *testing.T) {
	stream := redisstream.NewInMemoryStream()
	t.Cleanup(func() { stream.Close() })

	cfg := testConfig()
	cfg.StreamBackend = stream
	p := newTestPipeline(t, cfg, &fakeBackend{}, newMemRepo())
	name := p.streamName(boundaryAggregatorWriter)
	assert.Equal(t, "archive:chain=polkadot:boundary=aggregator-writer", name)

	ctx := context.Background()
	for n := uint32(1); n <= 3; n++ {
		_, err := stream.PublishJSON(ctx, name, model.NewBlock(model.BackendBlock{
			Header: model.Header{Hash: hashOf(n), Number: n},
		}, 9110))
		require.NoError(t, err)
	}
	require.NoError(t, stream.PersistStreamCheckpoint(ctx, p.streamCheckpointKey(boundaryAggregatorWriter), "1-0"))

	sink := &blockSink{}
	cctx, cancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() { errCh <- p.runStreamConsumer(cctx, stream, name, sink) }()

	require.Eventually(t, func() bool { return len(sink.numbers()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []uint32{2, 3}, sink.numbers())

	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
}

func TestPipeline_StreamEnabledWithoutBackend(t *testing.T) {
	cfg := testConfig()
	cfg.StreamTransportEnabled = true
	p := newTestPipeline(t, cfg, &fakeBackend{}, newMemRepo())

	err := p.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stream backend is not configured")
}

func TestPipeline_NotRunning(t *testing.T) {
	p := newTestPipeline(t, testConfig(), &fakeBackend{}, newMemRepo())

	assert.False(t, p.CrawlNow())
	_, err := p.Summary(context.Background())
	assert.ErrorIs(t, err, ErrNotRunning)

	st := p.Status()
	assert.False(t, st.Running)
	assert.Nil(t, st.Writers)
	assert.Equal(t, indexer.StateStopped.String(), st.IndexerState)
}

func TestPipeline_UnhealthyThenRecovery(t *testing.T) {
	alerts := &recordingAlerter{}
	cfg := testConfig()
	cfg.Alerter = alerts
	backend := &fakeBackend{head: 3}
	backend.setIterErr(errors.New("archive db locked"))
	repo := newMemRepo()
	p := newTestPipeline(t, cfg, backend, repo)

	cancel, done := runPipeline(t, p)
	require.Eventually(t, func() bool {
		return p.Health().Snapshot().Status == string(HealthStatusUnhealthy)
	}, 5*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]alert.AlertType{alert.AlertTypeUnhealthy}, alerts.types())
	}, time.Second, 5*time.Millisecond)
	assert.Contains(t, p.Health().Snapshot().LastError, "archive db locked")

	backend.setIterErr(nil)
	require.Eventually(t, func() bool { return repo.complete(3) }, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]alert.AlertType{alert.AlertTypeUnhealthy, alert.AlertTypeRecovery}, alerts.types())
	}, time.Second, 5*time.Millisecond)
	assert.True(t, p.Health().Healthy())

	cancel()
	require.NoError(t, waitStopped(t, done))
}

type blockSink struct {
	mu   sync.Mutex
	nums []uint32
}

func (s *blockSink) Send(_ context.Context, msg writer.Message) error {
	wb, ok := msg.(writer.WriteBlock)
	if !ok {
		return errors.New("unexpected message")
	}
	s.mu.Lock()
	s.nums = append(s.nums, wb.Block.Number())
	s.mu.Unlock()
	return nil
}

func (s *blockSink) numbers() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint32(nil), s.nums...)
}
