package substrate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/Polkawatch/substrate-archive/internal/chain/ratelimit"
	"github.com/Polkawatch/substrate-archive/internal/circuitbreaker"
	"github.com/Polkawatch/substrate-archive/internal/metrics"
	"github.com/Polkawatch/substrate-archive/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ClientConfig configures the node connection.
type ClientConfig struct {
	URL              string
	Chain            string
	Timeout          time.Duration
	RPS              float64
	Burst            int
	BreakerFailures  int
	BreakerOpenAfter time.Duration
}

// Client is a blocking JSON-RPC client for a Substrate node. Every call
// waits on the shared rate limiter and is gated by the circuit breaker.
type Client struct {
	httpClient *http.Client
	rpcURL     string
	chain      string
	requestID  atomic.Int64
	limiter    *ratelimit.Limiter
	breaker    *circuitbreaker.Breaker
	logger     *slog.Logger
}

func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	log := logger.With("component", "substrate_rpc")
	c := &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		rpcURL:     cfg.URL,
		chain:      cfg.Chain,
		limiter:    ratelimit.NewLimiter(cfg.RPS, cfg.Burst, cfg.Chain),
		logger:     log,
	}
	c.breaker = circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: cfg.BreakerFailures,
		OpenTimeout:      cfg.BreakerOpenAfter,
		IsFailure:        countsAgainstBreaker,
		OnStateChange: func(from, to circuitbreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(cfg.Chain).Set(float64(to))
			log.Warn("backend circuit breaker state change", "from", from.String(), "to", to.String())
		},
	})
	return c
}

func countsAgainstBreaker(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) && rpcErr.IsClientError() {
		return false
	}
	return true
}

// BreakerState exposes the breaker for health reporting.
func (c *Client) BreakerState() circuitbreaker.State {
	return c.breaker.GetState()
}

func (c *Client) call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	ctx, span := tracing.Tracer("substrate").Start(ctx, "rpc."+method,
		trace.WithAttributes(attribute.String("rpc.method", method)),
	)
	defer span.End()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	started := time.Now()
	var result json.RawMessage
	err := c.breaker.Execute(func() error {
		var callErr error
		result, callErr = c.do(ctx, method, params)
		return callErr
	})
	ratelimit.RecordRPCCall(c.chain, method, started, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return result, nil
}

func (c *Client) do(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	if params == nil {
		params = []interface{}{}
	}
	req := Request{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http status %d: %s", resp.StatusCode, truncate(respBody, 256))
	}

	var rpcResp Response
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}
	return rpcResp.Result, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
