package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/Polkawatch/substrate-archive/internal/metrics"
)

var ErrStreamClosed = errors.New("stream closed")

type memoryMessage struct {
	seq  int64
	body []byte
}

type memoryStream struct {
	messages []memoryMessage
	notify   chan struct{}
}

// InMemoryStream is a process-local MessageTransport with the same ID and
// checkpoint semantics as Stream. IDs are "<seq>-0" with seq starting at 1.
type InMemoryStream struct {
	mu          sync.Mutex
	streams     map[string]*memoryStream
	checkpoints map[string]string
	closed      chan struct{}
	closeOnce   sync.Once
}

var (
	_ MessageTransport = (*InMemoryStream)(nil)
	_ CheckpointStore  = (*InMemoryStream)(nil)
)

func NewInMemoryStream() *InMemoryStream {
	return &InMemoryStream{
		streams:     make(map[string]*memoryStream),
		checkpoints: make(map[string]string),
		closed:      make(chan struct{}),
	}
}

// stream must be called with mu held.
func (s *InMemoryStream) stream(name string) *memoryStream {
	st, ok := s.streams[name]
	if !ok {
		st = &memoryStream{notify: make(chan struct{})}
		s.streams[name] = st
	}
	return st
}

func (s *InMemoryStream) PublishJSON(ctx context.Context, stream string, payload any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal stream payload: %w", err)
	}

	s.mu.Lock()
	select {
	case <-s.closed:
		s.mu.Unlock()
		return "", ErrStreamClosed
	default:
	}
	st := s.stream(stream)
	seq := int64(len(st.messages)) + 1
	st.messages = append(st.messages, memoryMessage{seq: seq, body: body})
	close(st.notify)
	st.notify = make(chan struct{})
	s.mu.Unlock()

	metrics.StreamMessagesPublished.WithLabelValues(stream).Inc()
	return strconv.FormatInt(seq, 10) + "-0", nil
}

func (s *InMemoryStream) ReadJSON(ctx context.Context, stream string, lastID string, dst any) (string, error) {
	offset, err := parseStreamOffset(lastID)
	if err != nil {
		return "", err
	}

	for {
		s.mu.Lock()
		st := s.stream(stream)
		if offset < int64(len(st.messages)) {
			msg := st.messages[offset]
			s.mu.Unlock()
			if err := json.Unmarshal(msg.body, dst); err != nil {
				return "", fmt.Errorf("stream %s message %d: unmarshal: %w", stream, msg.seq, err)
			}
			metrics.StreamMessagesConsumed.WithLabelValues(stream).Inc()
			return strconv.FormatInt(msg.seq, 10) + "-0", nil
		}
		wait := st.notify
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-s.closed:
			return "", ErrStreamClosed
		case <-wait:
		}
	}
}

func (s *InMemoryStream) LoadStreamCheckpoint(ctx context.Context, key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkpoints[key], nil
}

func (s *InMemoryStream) PersistStreamCheckpoint(ctx context.Context, key string, id string) error {
	if strings.TrimSpace(key) == "" {
		return nil
	}
	if err := validateStreamOffset(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[key] = strings.TrimSpace(id)
	return nil
}

// Close wakes blocked readers and drops all messages and checkpoints.
func (s *InMemoryStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams = make(map[string]*memoryStream)
	s.checkpoints = make(map[string]string)
	return nil
}
