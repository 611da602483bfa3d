package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testStreamName    = "archive:chain=polkadot:boundary=aggregator-writer"
	testCheckpointKey = "stream-checkpoint:namespace=archive:chain=polkadot:session=s1:boundary=aggregator-writer"
)

type blockEvent struct {
	Number      uint32 `json:"number"`
	SpecVersion uint32 `json:"spec_version"`
}

func TestStreamOffsets(t *testing.T) {
	t.Parallel()

	tests := []struct {
		id          string
		offset      int64
		parseErr    bool
		validateErr bool
	}{
		{id: "", offset: 0},
		{id: "0", offset: 0},
		{id: "17-0", offset: 17},
		{id: " 42 ", offset: 42},
		{id: "-5", offset: 0, validateErr: true},
		{id: "17-", offset: 17, validateErr: true},
		{id: "head", parseErr: true, validateErr: true},
	}
	for _, tt := range tests {
		t.Run("id="+tt.id, func(t *testing.T) {
			t.Parallel()

			got, err := parseStreamOffset(tt.id)
			if tt.parseErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.offset, got)
			}

			if tt.validateErr {
				assert.Error(t, validateStreamOffset(tt.id))
			} else {
				assert.NoError(t, validateStreamOffset(tt.id))
			}
		})
	}
}

type hexID string

func (h hexID) String() string { return string(h) }

func TestStreamPayload(t *testing.T) {
	t.Parallel()

	for _, v := range []any{`{"number":1}`, []byte(`{"number":1}`), hexID(`{"number":1}`)} {
		got, err := streamPayload(v)
		require.NoError(t, err)
		assert.JSONEq(t, `{"number":1}`, string(got))
	}

	_, err := streamPayload(uint32(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not supported")
}

func TestInMemoryStream_ConsumerResumesFromCheckpoint(t *testing.T) {
	t.Parallel()

	s := NewInMemoryStream()
	defer s.Close()
	ctx := context.Background()

	for n := uint32(100); n < 103; n++ {
		_, err := s.PublishJSON(ctx, testStreamName, blockEvent{Number: n, SpecVersion: 9000})
		require.NoError(t, err)
	}

	var ev blockEvent
	id, err := s.ReadJSON(ctx, testStreamName, "0", &ev)
	require.NoError(t, err)
	assert.Equal(t, uint32(100), ev.Number)
	assert.Equal(t, "1-0", id)
	require.NoError(t, s.PersistStreamCheckpoint(ctx, testCheckpointKey, id))

	// A restarted consumer picks up after the acknowledged entry.
	from, err := s.LoadStreamCheckpoint(ctx, testCheckpointKey)
	require.NoError(t, err)
	assert.Equal(t, "1-0", from)

	var got []uint32
	for range 2 {
		from, err = s.ReadJSON(ctx, testStreamName, from, &ev)
		require.NoError(t, err)
		got = append(got, ev.Number)
	}
	assert.Equal(t, []uint32{101, 102}, got)
	assert.Equal(t, "3-0", from)
}

func TestInMemoryStream_ReadWaitsForPublish(t *testing.T) {
	t.Parallel()

	s := NewInMemoryStream()
	defer s.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go func() {
		time.Sleep(30 * time.Millisecond)
		_, _ = s.PublishJSON(ctx, testStreamName, blockEvent{Number: 7})
	}()

	var ev blockEvent
	_, err := s.ReadJSON(ctx, testStreamName, "0", &ev)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), ev.Number)
}

func TestInMemoryStream_ReadHonorsContext(t *testing.T) {
	t.Parallel()

	s := NewInMemoryStream()
	defer s.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var ev blockEvent
	_, err := s.ReadJSON(ctx, testStreamName, "0", &ev)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = s.PublishJSON(ctx, testStreamName, blockEvent{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestInMemoryStream_UndecodableEntry(t *testing.T) {
	t.Parallel()

	s := NewInMemoryStream()
	defer s.Close()
	ctx := context.Background()

	_, err := s.PublishJSON(ctx, testStreamName, "not a block")
	require.NoError(t, err)

	var ev blockEvent
	_, err = s.ReadJSON(ctx, testStreamName, "0", &ev)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "message 1: unmarshal")
}

func TestInMemoryStream_Checkpoints(t *testing.T) {
	t.Parallel()

	s := NewInMemoryStream()
	defer s.Close()
	ctx := context.Background()

	id, err := s.LoadStreamCheckpoint(ctx, testCheckpointKey)
	require.NoError(t, err)
	assert.Empty(t, id, "unknown key starts from the stream start")

	require.Error(t, s.PersistStreamCheckpoint(ctx, testCheckpointKey, "latest"))

	// Blank keys are ignored on both sides.
	require.NoError(t, s.PersistStreamCheckpoint(ctx, "  ", "5-0"))
	id, err = s.LoadStreamCheckpoint(ctx, "  ")
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestInMemoryStream_CloseStopsTraffic(t *testing.T) {
	t.Parallel()

	s := NewInMemoryStream()
	ctx := context.Background()
	require.NoError(t, s.PersistStreamCheckpoint(ctx, testCheckpointKey, "1-0"))

	errCh := make(chan error, 1)
	go func() {
		var ev blockEvent
		_, err := s.ReadJSON(ctx, testStreamName, "0", &ev)
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrStreamClosed)
	case <-time.After(time.Second):
		t.Fatal("blocked reader not released by Close")
	}

	_, err := s.PublishJSON(ctx, testStreamName, blockEvent{})
	assert.ErrorIs(t, err, ErrStreamClosed)

	id, err := s.LoadStreamCheckpoint(ctx, testCheckpointKey)
	require.NoError(t, err)
	assert.Empty(t, id, "checkpoints are dropped on close")
}

func TestInMemoryStream_StreamsAreIndependent(t *testing.T) {
	t.Parallel()

	s := NewInMemoryStream()
	defer s.Close()
	ctx := context.Background()

	_, err := s.PublishJSON(ctx, "archive:chain=kusama:boundary=aggregator-writer", blockEvent{Number: 1})
	require.NoError(t, err)
	id, err := s.PublishJSON(ctx, testStreamName, blockEvent{Number: 2})
	require.NoError(t, err)
	assert.Equal(t, "1-0", id)

	var ev blockEvent
	_, err = s.ReadJSON(ctx, testStreamName, "0", &ev)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), ev.Number)
}
