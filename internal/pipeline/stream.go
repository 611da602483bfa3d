package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/Polkawatch/substrate-archive/internal/actor"
	"github.com/Polkawatch/substrate-archive/internal/domain/model"
	"github.com/Polkawatch/substrate-archive/internal/pipeline/aggregator"
	"github.com/Polkawatch/substrate-archive/internal/pipeline/writer"
	redisstream "github.com/Polkawatch/substrate-archive/internal/store/redis"
)

const boundaryAggregatorWriter = "aggregator-writer"

// streamStart is the ID preceding every entry of a stream.
const streamStart = "0"

func (p *Pipeline) streamNamespace() string {
	if ns := strings.TrimSpace(p.cfg.StreamNamespace); ns != "" {
		return ns
	}
	return "archive"
}

func (p *Pipeline) streamSessionID() string {
	if id := strings.TrimSpace(p.cfg.StreamSessionID); id != "" {
		return id
	}
	return "default"
}

func (p *Pipeline) streamName(boundary string) string {
	return fmt.Sprintf("%s:chain=%s:boundary=%s", p.streamNamespace(), p.cfg.Chain, boundary)
}

func (p *Pipeline) streamCheckpointKey(boundary string) string {
	return fmt.Sprintf("stream-checkpoint:namespace=%s:chain=%s:session=%s:boundary=%s",
		p.streamNamespace(), p.cfg.Chain, p.streamSessionID(), boundary)
}

// streamForwarder publishes aggregated blocks instead of handing them to the
// writer pool directly.
func (p *Pipeline) streamForwarder(stream redisstream.MessageTransport, streamName string) aggregator.Forwarder {
	return aggregator.ForwarderFunc(func(ctx context.Context, block model.Block) error {
		if _, err := stream.PublishJSON(ctx, streamName, block); err != nil {
			return fmt.Errorf("stream producer failed: %w", err)
		}
		return nil
	})
}

// runStreamConsumer reads blocks published by streamForwarder and sends them
// to the writers, checkpointing after each accepted entry. Entries left in
// the stream on shutdown are picked up by the next consumer.
func (p *Pipeline) runStreamConsumer(ctx context.Context, stream redisstream.MessageTransport, streamName string, writers actor.Sender[writer.Message]) error {
	lastID := p.loadStreamCheckpoint(ctx, stream, boundaryAggregatorWriter)
	p.logger.Info("stream consumer started", "stream", streamName, "from", lastID)

	for {
		var block model.Block
		nextID, err := stream.ReadJSON(ctx, streamName, lastID, &block)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("stream consumer failed: %w", err)
		}
		if err := writers.Send(ctx, writer.WriteBlock{Block: block}); err != nil {
			return fmt.Errorf("stream consumer forward block %d: %w", block.Number(), err)
		}
		lastID = nextID
		if err := p.storeStreamCheckpoint(ctx, stream, boundaryAggregatorWriter, nextID); err != nil {
			return err
		}
	}
}

func (p *Pipeline) loadStreamCheckpoint(ctx context.Context, stream redisstream.MessageTransport, boundary string) string {
	checkpoints, ok := stream.(redisstream.CheckpointStore)
	if !ok {
		return streamStart
	}
	key := p.streamCheckpointKey(boundary)
	id, err := checkpoints.LoadStreamCheckpoint(ctx, key)
	if err != nil {
		p.logger.Warn("stream checkpoint load failed; bootstrapping from stream start", "boundary", boundary, "checkpoint_key", key, "error", err)
		return streamStart
	}
	if id == "" {
		return streamStart
	}
	return id
}

func (p *Pipeline) storeStreamCheckpoint(ctx context.Context, stream redisstream.MessageTransport, boundary, id string) error {
	checkpoints, ok := stream.(redisstream.CheckpointStore)
	if !ok {
		return nil
	}
	if err := checkpoints.PersistStreamCheckpoint(ctx, p.streamCheckpointKey(boundary), id); err != nil {
		return fmt.Errorf("stream checkpoint persist failed: %w", err)
	}
	return nil
}
