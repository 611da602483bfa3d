package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Polkawatch/substrate-archive/internal/metrics"
	"github.com/redis/go-redis/v9"
)

// payloadField is the stream entry field carrying the JSON body.
const payloadField = "payload"

// readBlock bounds one XREAD round trip so ctx cancellation is noticed.
const readBlock = 2 * time.Second

// MessageTransport carries JSON messages across a process boundary.
// ReadJSON blocks until a message after lastID exists and returns its ID.
type MessageTransport interface {
	PublishJSON(ctx context.Context, stream string, payload any) (string, error)
	ReadJSON(ctx context.Context, stream string, lastID string, dst any) (string, error)
	Close() error
}

// CheckpointStore persists the last consumed stream ID per key.
type CheckpointStore interface {
	LoadStreamCheckpoint(ctx context.Context, key string) (string, error)
	PersistStreamCheckpoint(ctx context.Context, key string, id string) error
}

// Stream is a MessageTransport and CheckpointStore backed by Redis Streams.
type Stream struct {
	client *redis.Client
}

var (
	_ MessageTransport = (*Stream)(nil)
	_ CheckpointStore  = (*Stream)(nil)
)

func NewStream(url string) (*Stream, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Stream{client: client}, nil
}

func (s *Stream) Close() error {
	return s.client.Close()
}

func (s *Stream) Client() *redis.Client {
	return s.client
}

func (s *Stream) PublishJSON(ctx context.Context, stream string, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal stream payload: %w", err)
	}
	id, err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{payloadField: body},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", stream, err)
	}
	metrics.StreamMessagesPublished.WithLabelValues(stream).Inc()
	return id, nil
}

func (s *Stream) ReadJSON(ctx context.Context, stream string, lastID string, dst any) (string, error) {
	if strings.TrimSpace(lastID) == "" {
		lastID = "0"
	}
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		res, err := s.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{stream, lastID},
			Count:   1,
			Block:   readBlock,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			return "", fmt.Errorf("xread %s: %w", stream, err)
		}
		if len(res) == 0 || len(res[0].Messages) == 0 {
			continue
		}

		msg := res[0].Messages[0]
		raw, err := streamPayload(msg.Values[payloadField])
		if err != nil {
			return "", fmt.Errorf("stream %s message %s: %w", stream, msg.ID, err)
		}
		if err := json.Unmarshal(raw, dst); err != nil {
			return "", fmt.Errorf("stream %s message %s: unmarshal: %w", stream, msg.ID, err)
		}
		metrics.StreamMessagesConsumed.WithLabelValues(stream).Inc()
		return msg.ID, nil
	}
}

func (s *Stream) LoadStreamCheckpoint(ctx context.Context, key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", nil
	}
	v, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load checkpoint %s: %w", key, err)
	}
	if err := validateStreamOffset(v); err != nil {
		return "", err
	}
	return strings.TrimSpace(v), nil
}

func (s *Stream) PersistStreamCheckpoint(ctx context.Context, key string, id string) error {
	if strings.TrimSpace(key) == "" {
		return nil
	}
	if err := validateStreamOffset(id); err != nil {
		return err
	}
	if err := s.client.Set(ctx, key, strings.TrimSpace(id), 0).Err(); err != nil {
		return fmt.Errorf("persist checkpoint %s: %w", key, err)
	}
	return nil
}

// streamPayload normalizes a field value returned by the driver.
func streamPayload(v any) ([]byte, error) {
	switch p := v.(type) {
	case string:
		return []byte(p), nil
	case []byte:
		return p, nil
	case fmt.Stringer:
		return []byte(p.String()), nil
	default:
		return nil, fmt.Errorf("payload type %T not supported", v)
	}
}

// parseStreamOffset returns the millisecond part of a stream ID. Negative
// values clamp to zero.
func parseStreamOffset(raw string) (int64, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, nil
	}
	if i := strings.IndexByte(trimmed[1:], '-'); i >= 0 {
		trimmed = trimmed[:i+1]
	}
	v, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse stream offset %q: %w", raw, err)
	}
	if v < 0 {
		return 0, nil
	}
	return v, nil
}

func validateStreamOffset(raw string) error {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || trimmed == "0" {
		return nil
	}

	parts := strings.SplitN(trimmed, "-", 2)
	if len(parts) == 2 {
		if strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
			return fmt.Errorf("invalid stream offset %q: missing components", raw)
		}
		ms, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil || ms < 0 {
			return fmt.Errorf("invalid stream offset %q: malformed id", raw)
		}
		seq, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil || seq < 0 {
			return fmt.Errorf("invalid stream offset %q: malformed id", raw)
		}
		return nil
	}

	ms, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil || ms < 0 {
		return fmt.Errorf("invalid stream offset %q: malformed id", raw)
	}
	return nil
}
