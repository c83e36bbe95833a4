package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	limiterSweepInterval = 10 * time.Minute
	limiterIdleTTL       = 30 * time.Minute
)

type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// keyedLimiters holds one token bucket per key. Buckets unused for
// limiterIdleTTL are dropped until ctx ends.
type keyedLimiters[K comparable] struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	entries map[K]*limiterEntry
}

func newKeyedLimiters[K comparable](ctx context.Context, requestsPerSecond float64, burst int) *keyedLimiters[K] {
	k := &keyedLimiters[K]{
		limit:   rate.Limit(requestsPerSecond),
		burst:   burst,
		entries: make(map[K]*limiterEntry),
	}
	go k.sweep(ctx)
	return k
}

func (k *keyedLimiters[K]) sweep(ctx context.Context) {
	ticker := time.NewTicker(limiterSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			k.mu.Lock()
			cutoff := now.Add(-limiterIdleTTL)
			for key, e := range k.entries {
				if e.lastAccess.Before(cutoff) {
					delete(k.entries, key)
				}
			}
			k.mu.Unlock()
		}
	}
}

// allow takes a token for key. When none is available it returns how long
// until one is.
func (k *keyedLimiters[K]) allow(key K) (bool, time.Duration) {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(k.limit, k.burst)}
		k.entries[key] = e
	}
	now := time.Now()
	e.lastAccess = now
	k.mu.Unlock()

	r := e.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, 0
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return false, d
	}
	return true, 0
}

// retryAfter renders a delay as whole seconds, at least one.
func retryAfter(d time.Duration) string {
	return strconv.Itoa(max(1, int(math.Ceil(d.Seconds()))))
}

func tooManyRequests(w http.ResponseWriter, wait time.Duration) {
	w.Header().Set("Retry-After", retryAfter(wait))
	http.Error(w, `{"title":"Too Many Requests","status":429,"detail":"rate limit exceeded"}`, http.StatusTooManyRequests)
}

// RateLimitByIP limits unauthenticated endpoints (the Slack webhooks) per
// client address. Chain it after chi's RealIP.
func RateLimitByIP(ctx context.Context, requestsPerSecond float64, burst int) func(http.Handler) http.Handler {
	limiters := newKeyedLimiters[string](ctx, requestsPerSecond, burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ok, wait := limiters.allow(r.RemoteAddr); !ok {
				tooManyRequests(w, wait)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimit limits API requests per org. Requests without an org pass
// through; RequireOrg rejects them.
func RateLimit(ctx context.Context, requestsPerSecond float64, burst int) func(http.Handler) http.Handler {
	limiters := newKeyedLimiters[uuid.UUID](ctx, requestsPerSecond, burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			orgID, ok := OrgIDFromContext(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			if allowed, wait := limiters.allow(orgID); !allowed {
				tooManyRequests(w, wait)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type commandKey struct {
	userRef   string
	sessionID string
}

// CommandRateLimit is an operation middleware limiting how fast one caller
// submits commands to one session. The session is read from the "id" path
// parameter.
func CommandRateLimit(ctx context.Context, api huma.API, requestsPerSecond float64, burst int) func(huma.Context, func(huma.Context)) {
	limiters := newKeyedLimiters[commandKey](ctx, requestsPerSecond, burst)

	return func(hctx huma.Context, next func(huma.Context)) {
		userRef, _ := UserRefFromContext(hctx.Context())
		key := commandKey{userRef: userRef, sessionID: hctx.Param("id")}

		if ok, wait := limiters.allow(key); !ok {
			hctx.SetHeader("Retry-After", retryAfter(wait))
			_ = huma.WriteErr(api, hctx, http.StatusTooManyRequests, "too many commands for this session, slow down")
			return
		}
		next(hctx)
	}
}
