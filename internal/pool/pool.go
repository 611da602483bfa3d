// Package pool puts N homogeneous workers behind one address. Each member
// owns a bounded mailbox and handles one message at a time, so at most Size
// messages are in flight and at most Size*MailboxSize are queued.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strconv"
	"sync/atomic"

	"github.com/Polkawatch/substrate-archive/internal/actor"
	"github.com/Polkawatch/substrate-archive/internal/metrics"
	"golang.org/x/sync/errgroup"
)

// ErrNoMembers means every member exhausted its restarts.
var ErrNoMembers = errors.New("pool: no live members")

// Handler processes one message. Returned errors are logged at debug level
// and are otherwise the handler's to report; only panics affect the
// member's lifecycle.
type Handler[M any] interface {
	Handle(ctx context.Context, msg M) error
}

type HandlerFunc[M any] func(ctx context.Context, msg M) error

func (f HandlerFunc[M]) Handle(ctx context.Context, msg M) error { return f(ctx, msg) }

type Config struct {
	Name        string
	Size        int
	MailboxSize int
	// MaxRestarts is how many panics a member survives before it is
	// removed from rotation.
	MaxRestarts int
	// OnMemberLost is called once per member removed from rotation.
	OnMemberLost func(id int, cause any)
}

type Pool[M any] struct {
	cfg     Config
	factory func(id int) Handler[M]
	members []*member[M]
	next    atomic.Uint64
	alive   atomic.Int32
	logger  *slog.Logger
}

type member[M any] struct {
	id       int
	mailbox  *actor.Mailbox[M]
	handler  Handler[M]
	busy     atomic.Bool
	alive    atomic.Bool
	restarts atomic.Int32
	handled  atomic.Uint64
}

func New[M any](cfg Config, factory func(id int) Handler[M], logger *slog.Logger) *Pool[M] {
	if cfg.Size <= 0 {
		cfg.Size = 1
	}
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = 1
	}
	if cfg.Name == "" {
		cfg.Name = "pool"
	}
	p := &Pool[M]{
		cfg:     cfg,
		factory: factory,
		logger:  logger.With("component", "pool", "pool", cfg.Name),
	}
	p.members = make([]*member[M], cfg.Size)
	for i := range p.members {
		m := &member[M]{
			id:      i,
			mailbox: actor.NewMailbox[M](cfg.MailboxSize),
			handler: factory(i),
		}
		m.alive.Store(true)
		p.members[i] = m
	}
	p.alive.Store(int32(cfg.Size))
	metrics.PoolMembersAlive.WithLabelValues(cfg.Name).Set(float64(cfg.Size))
	return p
}

// Run processes messages until Close has been called and every mailbox is
// drained, ctx is cancelled, or no member is left.
func (p *Pool[M]) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, m := range p.members {
		g.Go(func() error { return p.runMember(gctx, m) })
	}
	return g.Wait()
}

// Close stops accepting messages. Queued messages are still handled.
func (p *Pool[M]) Close() {
	for _, m := range p.members {
		m.mailbox.Stop()
	}
}

func (p *Pool[M]) runMember(ctx context.Context, m *member[M]) error {
	for {
		select {
		case msg := <-m.mailbox.Receive():
			if err := p.dispatch(ctx, m, msg); err != nil {
				return err
			}
			if !m.alive.Load() {
				return nil
			}
		case <-m.mailbox.Stopped():
			for _, msg := range m.mailbox.Drain() {
				if err := p.dispatch(ctx, m, msg); err != nil {
					return err
				}
				if !m.alive.Load() {
					return nil
				}
			}
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// dispatch runs one message and applies the restart policy on panic.
func (p *Pool[M]) dispatch(ctx context.Context, m *member[M], msg M) error {
	panicked, cause := p.handle(ctx, m, msg)
	if !panicked {
		return nil
	}
	restarts := int(m.restarts.Add(1))
	if restarts <= p.cfg.MaxRestarts {
		metrics.PoolMemberRestarts.WithLabelValues(p.cfg.Name).Inc()
		p.logger.Warn("pool member restarted after panic",
			"member", m.id, "restarts", restarts, "max_restarts", p.cfg.MaxRestarts, "panic", cause)
		m.handler = p.factory(m.id)
		return nil
	}
	return p.retire(ctx, m, cause)
}

func (p *Pool[M]) handle(ctx context.Context, m *member[M], msg M) (panicked bool, cause any) {
	m.busy.Store(true)
	defer func() {
		m.busy.Store(false)
		m.handled.Add(1)
		if r := recover(); r != nil {
			p.logger.Error("pool member panicked", "member", m.id, "panic", r, "stack", string(debug.Stack()))
			panicked, cause = true, r
		}
	}()
	if err := m.handler.Handle(ctx, msg); err != nil {
		p.logger.Debug("pool handler returned error", "member", m.id, "error", err)
	}
	return false, nil
}

// retire removes m from rotation and hands its queued messages to the
// remaining members.
func (p *Pool[M]) retire(ctx context.Context, m *member[M], cause any) error {
	m.alive.Store(false)
	m.mailbox.Stop()
	left := p.alive.Add(-1)
	metrics.PoolMembersAlive.WithLabelValues(p.cfg.Name).Set(float64(left))
	p.logger.Error("pool member removed from rotation",
		"member", m.id, "restarts", m.restarts.Load()-1, "members_left", left, "panic", cause)
	if p.cfg.OnMemberLost != nil {
		p.cfg.OnMemberLost(m.id, cause)
	}

	orphans := m.mailbox.Drain()
	if left == 0 {
		if len(orphans) > 0 {
			p.logger.Error("dropping queued messages, no members left", "count", len(orphans))
		}
		return ErrNoMembers
	}
	for _, msg := range orphans {
		if err := p.Send(ctx, msg); err != nil {
			p.logger.Error("re-route queued message failed", "member", m.id, "error", err)
		}
	}
	return nil
}

// Send routes msg to exactly one live member: the first one, starting at
// the round-robin cursor, with spare capacity; otherwise it waits on the
// round-robin member.
func (p *Pool[M]) Send(ctx context.Context, msg M) error {
	for {
		if p.alive.Load() == 0 {
			return ErrNoMembers
		}
		n := len(p.members)
		start := int(p.next.Add(1) % uint64(n))

		var fallback *member[M]
		for i := 0; i < n; i++ {
			m := p.members[(start+i)%n]
			if !m.alive.Load() {
				continue
			}
			if fallback == nil {
				fallback = m
			}
			err := m.mailbox.TrySend(msg)
			if err == nil {
				p.delivered()
				return nil
			}
			if !errors.Is(err, actor.ErrMailboxFull) && !errors.Is(err, actor.ErrStopped) {
				return err
			}
		}
		if fallback == nil {
			return ErrNoMembers
		}

		err := fallback.mailbox.Send(ctx, msg)
		switch {
		case err == nil:
			p.delivered()
			return nil
		case errors.Is(err, actor.ErrStopped):
			if !fallback.alive.Load() {
				continue
			}
			return fmt.Errorf("pool %s: %w", p.cfg.Name, err)
		default:
			return err
		}
	}
}

func (p *Pool[M]) delivered() {
	metrics.PoolMessagesDispatched.WithLabelValues(p.cfg.Name).Inc()
}

// MemberStats is a point-in-time view of one member.
type MemberStats struct {
	ID       string `json:"id"`
	Queued   int    `json:"queued"`
	Busy     bool   `json:"busy"`
	Alive    bool   `json:"alive"`
	Restarts int    `json:"restarts"`
	Handled  uint64 `json:"handled"`
}

type Stats struct {
	Name    string        `json:"name"`
	Alive   int           `json:"alive"`
	Members []MemberStats `json:"members"`
}

func (p *Pool[M]) Stats() Stats {
	s := Stats{Name: p.cfg.Name, Alive: int(p.alive.Load())}
	for _, m := range p.members {
		s.Members = append(s.Members, MemberStats{
			ID:       p.cfg.Name + "-" + strconv.Itoa(m.id),
			Queued:   m.mailbox.Len(),
			Busy:     m.busy.Load(),
			Alive:    m.alive.Load(),
			Restarts: int(m.restarts.Load()),
			Handled:  m.handled.Load(),
		})
	}
	return s
}

// Size is the configured number of members.
func (p *Pool[M]) Size() int { return len(p.members) }
