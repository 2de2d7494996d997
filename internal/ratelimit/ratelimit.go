package ratelimit

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	sdkauth "github.com/modelcontextprotocol/go-sdk/auth"
	"golang.org/x/time/rate"
)

// Limiter provides per-key rate limiting. The API client keys by host so
// executions against one deployment share a budget; the MCP server keys by
// bearer token, or remote address when auth is off.
type Limiter struct {
	limiters map[string]*entry
	mu       sync.Mutex
	rate     rate.Limit // requests per second
	burst    int        // max burst size
}

type entry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// New creates a limiter allowing requestsPerSecond with the given burst
func New(requestsPerSecond float64, burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		limiters: make(map[string]*entry),
		rate:     rate.Limit(requestsPerSecond),
		burst:    burst,
	}
}

// Default returns 10 requests/second with burst of 20
func Default() *Limiter {
	return New(10, 20)
}

func (l *Limiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.limiters[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[key] = e
	}
	e.lastUsed = time.Now()
	return e.limiter
}

// Allow reports whether a request for key may proceed now
func (l *Limiter) Allow(key string) bool {
	return l.get(key).Allow()
}

// Wait blocks until a request for key may proceed or ctx ends
func (l *Limiter) Wait(ctx context.Context, key string) error {
	return l.get(key).Wait(ctx)
}

// Cleanup removes limiters unused for longer than maxAge
func (l *Limiter) Cleanup(maxAge time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for key, e := range l.limiters {
		if e.lastUsed.Before(cutoff) {
			delete(l.limiters, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// Middleware rejects requests over the limit with a JSON-RPC style 429
func Middleware(limiter *Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(clientKey(r)) {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]interface{}{
					"jsonrpc": "2.0",
					"error": map[string]interface{}{
						"code":    -32029,
						"message": "Rate limit exceeded. Please slow down.",
					},
					"id": nil,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientKey is the bearer token when one was verified, else the remote host
func clientKey(r *http.Request) string {
	if info := sdkauth.TokenInfoFromContext(r.Context()); info != nil && info.UserID != "" {
		return "token:" + info.UserID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
