// Package retry decides whether a failed storage or backend call is worth
// repeating.
package retry

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/Polkawatch/substrate-archive/internal/chain/substrate"
	"github.com/Polkawatch/substrate-archive/internal/circuitbreaker"
	"github.com/Polkawatch/substrate-archive/internal/store"
	"github.com/lib/pq"
)

type Class string

const (
	ClassTerminal  Class = "terminal"
	ClassTransient Class = "transient"
)

// Decision is the outcome of Classify. Reason is a stable snake_case label
// used in logs and wrapped errors.
type Decision struct {
	Class  Class
	Reason string
}

func (d Decision) IsTransient() bool { return d.Class == ClassTransient }

func transient(reason string) Decision { return Decision{Class: ClassTransient, Reason: reason} }
func terminal(reason string) Decision  { return Decision{Class: ClassTerminal, Reason: reason} }

// markedError carries a decision made by the code that produced err.
type markedError struct {
	error
	decision Decision
}

func (e *markedError) Unwrap() error { return e.error }

// Transient marks err as retryable regardless of its contents.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &markedError{error: err, decision: transient("explicit_transient")}
}

// Terminal marks err as not retryable regardless of its contents.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &markedError{error: err, decision: terminal("explicit_terminal")}
}

// rules are tried in order; the first that returns ok decides.
var rules = []func(error) (Decision, bool){
	func(err error) (Decision, bool) {
		var m *markedError
		if errors.As(err, &m) {
			return m.decision, true
		}
		return Decision{}, false
	},
	sentinel(context.Canceled, terminal("context_canceled")),
	sentinel(context.DeadlineExceeded, transient("context_deadline_exceeded")),
	sentinel(circuitbreaker.ErrCircuitOpen, transient("circuit_open")),
	sentinel(store.ErrBlockNotFound, transient("block_not_persisted")),
	func(err error) (Decision, bool) {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) {
			return classifyPostgres(pqErr.Code), true
		}
		return Decision{}, false
	},
	func(err error) (Decision, bool) {
		var rpcErr *substrate.RPCError
		if errors.As(err, &rpcErr) {
			return classifyRPC(rpcErr.Code), true
		}
		return Decision{}, false
	},
	func(err error) (Decision, bool) {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return transient("net_timeout"), true
		}
		return Decision{}, false
	},
	messageRule(terminal("message_terminal"),
		"length prefix", "unsupported extrinsic version", "invalid params",
		"method not found", "parse error", "constraint violation"),
	messageRule(transient("message_transient"),
		"timeout", "timed out", "temporar", "unavailable",
		"connection reset", "connection refused", "broken pipe",
		"econnreset", "econnrefused", "too many requests", "rate limit",
		"http status 429", "http status 502", "http status 503", "http status 504",
		"server closed idle connection", "bad connection"),
}

func sentinel(target error, d Decision) func(error) (Decision, bool) {
	return func(err error) (Decision, bool) {
		return d, errors.Is(err, target)
	}
}

func messageRule(d Decision, tokens ...string) func(error) (Decision, bool) {
	return func(err error) (Decision, bool) {
		msg := strings.ToLower(err.Error())
		for _, tok := range tokens {
			if strings.Contains(msg, tok) {
				return d, true
			}
		}
		return Decision{}, false
	}
}

// Classify returns the decision of the first matching rule. Anything
// unrecognized is terminal.
func Classify(err error) Decision {
	if err == nil {
		return terminal("nil_error")
	}
	for _, rule := range rules {
		if d, ok := rule(err); ok {
			return d
		}
	}
	return terminal("unknown_terminal_default")
}

// -32603 (internal error) and -32005 (limit exceeded) are retried along with
// the implementation-defined server error range.
func classifyRPC(code int) Decision {
	switch {
	case code == -32603 || code == -32005:
		return transient("jsonrpc_server_transient")
	case code <= -32000 && code >= -32099:
		return transient("jsonrpc_server_range")
	}
	return terminal("jsonrpc_terminal")
}

var pgCodes = map[pq.ErrorCode]string{
	"40001": "pg_serialization_failure",
	"40P01": "pg_deadlock",
	"57014": "pg_query_canceled",
	"57P01": "pg_shutdown",
	"57P02": "pg_shutdown",
	"57P03": "pg_shutdown",
}

var pgClasses = map[pq.ErrorClass]Decision{
	"08": transient("pg_connection"),
	"53": transient("pg_insufficient_resources"),
	"23": terminal("pg_integrity_violation"),
}

func classifyPostgres(code pq.ErrorCode) Decision {
	if reason, ok := pgCodes[code]; ok {
		return transient(reason)
	}
	if d, ok := pgClasses[code.Class()]; ok {
		return d
	}
	return terminal("pg_" + string(code))
}
