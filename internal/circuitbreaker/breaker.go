package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// Breaker stops hammering a backend node that keeps failing. After
// FailureThreshold consecutive failures it rejects calls for OpenTimeout,
// then lets calls through half-open until SuccessThreshold of them succeed.
type Breaker struct {
	mu               sync.Mutex
	state            State
	failureCount     int
	successCount     int
	failureThreshold int
	successThreshold int
	openTimeout      time.Duration
	lastFailureAt    time.Time
	onStateChange    func(from, to State)
	isFailure        func(error) bool
	now              func() time.Time
}

type Config struct {
	FailureThreshold int           // default 5
	SuccessThreshold int           // default 2
	OpenTimeout      time.Duration // default 30s
	OnStateChange    func(from, to State)
	// IsFailure decides whether an error returned through Execute counts
	// against the breaker. Defaults to every error except context
	// cancellation.
	IsFailure func(error) bool
}

func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = defaultIsFailure
	}
	return &Breaker{
		state:            StateClosed,
		failureThreshold: cfg.FailureThreshold,
		successThreshold: cfg.SuccessThreshold,
		openTimeout:      cfg.OpenTimeout,
		onStateChange:    cfg.OnStateChange,
		isFailure:        cfg.IsFailure,
		now:              time.Now,
	}
}

func defaultIsFailure(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}

// Execute runs fn if the breaker allows it and records the outcome.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	err := fn()
	if b.isFailure(err) {
		b.RecordFailure()
	} else if err == nil {
		b.RecordSuccess()
	}
	return err
}

// Allow reports whether a call may proceed.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpen()
	if b.state == StateOpen {
		return ErrCircuitOpen
	}
	return nil
}

func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureCount = 0
	if b.state == StateHalfOpen {
		b.successCount++
		if b.successCount >= b.successThreshold {
			b.setState(StateClosed)
		}
	}
}

func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureCount++
	b.successCount = 0
	b.lastFailureAt = b.now()
	switch {
	case b.state == StateHalfOpen:
		b.setState(StateOpen)
	case b.state == StateClosed && b.failureCount >= b.failureThreshold:
		b.setState(StateOpen)
	}
}

func (b *Breaker) GetState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpen()
	return b.state
}

// must hold b.mu
func (b *Breaker) maybeHalfOpen() {
	if b.state == StateOpen && b.now().Sub(b.lastFailureAt) > b.openTimeout {
		b.setState(StateHalfOpen)
	}
}

func (b *Breaker) setState(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.successCount = 0
	if to == StateClosed {
		b.failureCount = 0
	}
	if b.onStateChange != nil {
		b.onStateChange(from, to)
	}
}

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}
