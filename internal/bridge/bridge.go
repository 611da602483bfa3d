// Package bridge runs blocking work (node RPC iteration, database
// statements) on a dedicated set of OS threads and hands the result back
// through a Future, so message loops never sit inside a driver call.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/Polkawatch/substrate-archive/internal/metrics"
	"golang.org/x/sync/semaphore"
)

// ErrClosed is delivered by futures submitted after Close.
var ErrClosed = errors.New("bridge: closed")

// PanicError is a panic recovered from a bridged closure.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("bridge: panic in blocking task: %v", e.Value)
}

// Bridge owns a fixed set of worker goroutines, each locked to its own OS
// thread, that do nothing but run submitted closures.
type Bridge struct {
	tasks    chan func()
	admit    *semaphore.Weighted
	workers  int
	inflight atomic.Int64
	wg       sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
	logger   *slog.Logger
}

// New starts workers threads. At most workers+queueSize tasks are admitted
// at once; further submissions wait for a slot.
func New(workers, queueSize int, logger *slog.Logger) *Bridge {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	b := &Bridge{
		tasks:   make(chan func(), queueSize+workers),
		admit:   semaphore.NewWeighted(int64(workers + queueSize)),
		workers: workers,
		logger:  logger.With("component", "bridge"),
	}
	b.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go b.worker()
	}
	return b
}

func (b *Bridge) worker() {
	defer b.wg.Done()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	for task := range b.tasks {
		task()
	}
}

// Close stops admitting work and waits until every admitted task finished.
func (b *Bridge) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.tasks)
	b.mu.Unlock()
	b.wg.Wait()
	b.logger.Info("bridge closed")
}

// Stats is a snapshot of bridge occupancy.
type Stats struct {
	Workers  int `json:"workers"`
	Queued   int `json:"queued"`
	InFlight int `json:"in_flight"`
}

func (b *Bridge) Stats() Stats {
	return Stats{
		Workers:  b.workers,
		Queued:   len(b.tasks),
		InFlight: int(b.inflight.Load()),
	}
}

// Future resolves once its task returns.
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

func (f *Future[T]) resolve(val T, err error) {
	f.val = val
	f.err = err
	close(f.done)
}

// Done is closed when the result is available.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Await waits for the result. Cancelling ctx abandons the wait only; the
// task keeps running and its result is still observable via Done.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Run submits op. ctx bounds only the wait for an admission slot; once
// admitted, op runs to completion regardless of ctx.
func Run[T any](ctx context.Context, b *Bridge, op func() (T, error)) *Future[T] {
	fut := newFuture[T]()
	var zero T

	if err := b.admit.Acquire(ctx, 1); err != nil {
		fut.resolve(zero, err)
		return fut
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		b.admit.Release(1)
		fut.resolve(zero, ErrClosed)
		return fut
	}
	b.tasks <- func() {
		defer b.admit.Release(1)
		val, err := b.execute(func() (any, error) { return op() })
		if v, ok := val.(T); ok {
			fut.resolve(v, err)
			return
		}
		fut.resolve(zero, err)
	}
	return fut
}

func (b *Bridge) execute(op func() (any, error)) (val any, err error) {
	b.inflight.Add(1)
	metrics.BridgeInflight.Inc()
	defer func() {
		b.inflight.Add(-1)
		metrics.BridgeInflight.Dec()
		if r := recover(); r != nil {
			stack := debug.Stack()
			b.logger.Error("blocking task panicked", "panic", r, "stack", string(stack))
			val, err = nil, &PanicError{Value: r, Stack: stack}
		}
		metrics.BridgeTasksTotal.WithLabelValues(taskStatus(err)).Inc()
	}()
	return op()
}

func taskStatus(err error) string {
	var panicErr *PanicError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &panicErr):
		return "panic"
	default:
		return "error"
	}
}

// Do submits op and waits for its result.
func Do[T any](ctx context.Context, b *Bridge, op func() (T, error)) (T, error) {
	return Run(ctx, b, op).Await(ctx)
}

// Exec is Do for operations with no result value.
func Exec(ctx context.Context, b *Bridge, op func() error) error {
	_, err := Do(ctx, b, func() (struct{}, error) { return struct{}{}, op() })
	return err
}
