package actor

import (
	"context"
	"fmt"
)

// Reply is the single-shot answer to a Request.
type Reply[R any] struct {
	Value R
	Err   error
}

// Request carries a query and the channel its answer goes back on.
type Request[Q, R any] struct {
	Query Q
	reply chan Reply[R]
}

func NewRequest[Q, R any](q Q) Request[Q, R] {
	return Request[Q, R]{Query: q, reply: make(chan Reply[R], 1)}
}

// Respond answers the request. Only the first call has an effect.
func (r Request[Q, R]) Respond(value R, err error) {
	select {
	case r.reply <- Reply[R]{Value: value, Err: err}:
	default:
	}
}

// Wait blocks for the answer.
func (r Request[Q, R]) Wait(ctx context.Context) (R, error) {
	select {
	case rep := <-r.reply:
		return rep.Value, rep.Err
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}

// Ask sends wrap(req) to target and waits for the reply.
func Ask[M, Q, R any](ctx context.Context, target Sender[M], q Q, wrap func(Request[Q, R]) M) (R, error) {
	req := NewRequest[Q, R](q)
	if err := target.Send(ctx, wrap(req)); err != nil {
		var zero R
		return zero, fmt.Errorf("ask: %w", err)
	}
	return req.Wait(ctx)
}
