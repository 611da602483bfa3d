package admin

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// staleLimiterTTL is how long a client limiter may sit idle before it is
	// dropped.
	staleLimiterTTL = 10 * time.Minute
	sweepInterval   = time.Minute
)

// RateLimitRule limits requests matching Method (empty matches any) and
// path Prefix (empty matches any). Rules are tried in order.
type RateLimitRule struct {
	Method string
	Prefix string
	Limit  rate.Limit
	Burst  int
}

// DefaultRateLimitRules throttles crawl triggers hard and everything else
// loosely.
func DefaultRateLimitRules() []RateLimitRule {
	return []RateLimitRule{
		{Method: http.MethodPost, Prefix: "/admin/v1/crawl", Limit: rate.Every(10 * time.Second), Burst: 2},
		{Limit: 1, Burst: 5},
	}
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimitMiddleware keeps one token bucket per (rule, client IP).
type RateLimitMiddleware struct {
	rules  []RateLimitRule
	logger *slog.Logger

	mu        sync.Mutex
	limiters  map[string]*clientLimiter
	lastSweep time.Time
	nowFunc   func() time.Time
}

// NewRateLimitMiddleware uses DefaultRateLimitRules when no rules are given.
// Idle limiters are swept on access, so there is nothing to stop.
func NewRateLimitMiddleware(logger *slog.Logger, rules ...RateLimitRule) *RateLimitMiddleware {
	if len(rules) == 0 {
		rules = DefaultRateLimitRules()
	}
	return &RateLimitMiddleware{
		rules:    rules,
		logger:   logger.With("component", "admin_ratelimit"),
		limiters: make(map[string]*clientLimiter),
		nowFunc:  time.Now,
	}
}

// LimiterCount reports how many client limiters are live.
func (rl *RateLimitMiddleware) LimiterCount() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

func (rl *RateLimitMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		idx, ok := rl.matchRule(r.Method, r.URL.Path)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		clientIP := extractClientIP(r)
		now := rl.nowFunc()
		limiter := rl.limiterFor(idx, clientIP, now)

		res := limiter.ReserveN(now, 1)
		if delay := res.DelayFrom(now); !res.OK() || delay > 0 {
			res.CancelAt(now)
			retryAfter := int(math.Ceil(delay.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			http.Error(w, `{"error":"rate limit exceeded"}`, http.StatusTooManyRequests)
			rl.logger.Warn("admin API rate limit exceeded",
				"method", r.Method,
				"path", r.URL.Path,
				"client_ip", clientIP,
				"retry_after_sec", retryAfter,
			)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// matchRule returns the index of the first rule covering the request.
func (rl *RateLimitMiddleware) matchRule(method, path string) (int, bool) {
	for i, rule := range rl.rules {
		if rule.Method != "" && !strings.EqualFold(rule.Method, method) {
			continue
		}
		if !strings.HasPrefix(path, rule.Prefix) {
			continue
		}
		return i, true
	}
	return 0, false
}

func (rl *RateLimitMiddleware) limiterFor(rule int, clientIP string, now time.Time) *rate.Limiter {
	key := strconv.Itoa(rule) + "|" + clientIP

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.lastSweep) >= sweepInterval {
		rl.evictStaleLocked(now)
	}
	if cl, ok := rl.limiters[key]; ok {
		cl.lastSeen = now
		return cl.limiter
	}
	r := rl.rules[rule]
	cl := &clientLimiter{limiter: rate.NewLimiter(r.Limit, r.Burst), lastSeen: now}
	rl.limiters[key] = cl
	return cl.limiter
}

func (rl *RateLimitMiddleware) evictStale() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.evictStaleLocked(rl.nowFunc())
}

func (rl *RateLimitMiddleware) evictStaleLocked(now time.Time) {
	rl.lastSweep = now
	for key, cl := range rl.limiters {
		if now.Sub(cl.lastSeen) > staleLimiterTTL {
			delete(rl.limiters, key)
		}
	}
}

// extractClientIP prefers the first X-Forwarded-For hop, then X-Real-IP,
// then the connection address.
func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
