// Package actor holds the message-passing primitives the pipeline stages
// are built from: a bounded ordered mailbox and request/reply over it.
package actor

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrStopped is returned when sending to a mailbox whose owner is gone.
	ErrStopped = errors.New("actor: mailbox stopped")
	// ErrMailboxFull is returned by TrySend when no capacity is left.
	ErrMailboxFull = errors.New("actor: mailbox full")
)

// Sender is anything a message can be delivered to.
type Sender[M any] interface {
	Send(ctx context.Context, msg M) error
}

// SenderFunc adapts a function to Sender. It lets a component address an
// actor that is constructed after it.
type SenderFunc[M any] func(ctx context.Context, msg M) error

func (f SenderFunc[M]) Send(ctx context.Context, msg M) error { return f(ctx, msg) }

// Mailbox is a bounded FIFO owned by a single consumer loop. Send blocks
// while the mailbox is full, which is how backpressure reaches producers.
//
// Senders hold mu shared while enqueueing and Stop takes it exclusively, so
// once Stop returns nothing else enters the queue and Drain sees every
// accepted message.
type Mailbox[M any] struct {
	ch       chan M
	mu       sync.RWMutex
	stopping chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

func NewMailbox[M any](capacity int) *Mailbox[M] {
	if capacity < 0 {
		capacity = 0
	}
	return &Mailbox[M]{
		ch:       make(chan M, capacity),
		stopping: make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Send enqueues msg, waiting for capacity.
func (m *Mailbox[M]) Send(ctx context.Context, msg M) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	select {
	case <-m.stopping:
		return ErrStopped
	default:
	}
	select {
	case m.ch <- msg:
		return nil
	case <-m.stopping:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySend enqueues msg only if there is room right now.
func (m *Mailbox[M]) TrySend(msg M) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	select {
	case <-m.stopping:
		return ErrStopped
	default:
	}
	select {
	case m.ch <- msg:
		return nil
	default:
		return ErrMailboxFull
	}
}

// Receive returns the consumer side. Only the owning loop reads from it.
func (m *Mailbox[M]) Receive() <-chan M {
	return m.ch
}

// Stop rejects further sends and waits for sends already in progress to
// settle. Messages already queued stay readable via Drain.
func (m *Mailbox[M]) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopping)
		m.mu.Lock()
		m.mu.Unlock()
		close(m.stopped)
	})
}

// Stopped is closed once Stop has returned.
func (m *Mailbox[M]) Stopped() <-chan struct{} {
	return m.stopped
}

// Drain returns every message queued at the time of the call, in order.
func (m *Mailbox[M]) Drain() []M {
	var out []M
	for {
		select {
		case msg := <-m.ch:
			out = append(out, msg)
		default:
			return out
		}
	}
}

func (m *Mailbox[M]) Len() int { return len(m.ch) }

func (m *Mailbox[M]) Cap() int { return cap(m.ch) }
