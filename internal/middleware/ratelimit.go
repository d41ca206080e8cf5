package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"agent-inbox/internal/metrics"
)

// Decision is the outcome of one rate limit check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Counter decides whether the caller identified by key may proceed.
type Counter interface {
	Take(ctx context.Context, key string) (Decision, error)
}

// redisCmdable is the subset of *redis.Client used by RedisCounter.
type redisCmdable interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// RedisCounter is a fixed window counter shared by every instance behind
// the same Redis.
type RedisCounter struct {
	client redisCmdable
	limit  int
	window time.Duration
	now    func() time.Time
}

func NewRedisCounter(client redisCmdable, limit int, window time.Duration) *RedisCounter {
	return &RedisCounter{client: client, limit: limit, window: window, now: time.Now}
}

func (c *RedisCounter) Take(ctx context.Context, key string) (Decision, error) {
	now := c.now()
	bucket := now.Unix() / int64(c.window.Seconds())
	windowKey := fmt.Sprintf("%s:%d", key, bucket)
	resetAt := time.Unix((bucket+1)*int64(c.window.Seconds()), 0)

	count, err := c.client.Incr(ctx, windowKey).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: incr: %w", err)
	}
	if count == 1 {
		if err := c.client.Expire(ctx, windowKey, c.window*2).Err(); err != nil {
			return Decision{}, fmt.Errorf("ratelimit: expire: %w", err)
		}
	}
	return Decision{
		Allowed:   count <= int64(c.limit),
		Limit:     c.limit,
		Remaining: max(c.limit-int(count), 0),
		ResetAt:   resetAt,
	}, nil
}

func (c *RedisCounter) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// LocalLimiter is an in-process token bucket per key, used when no Redis is
// configured.
type LocalLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    int
	every    time.Duration
}

// NewLocalLimiter allows limit requests per window per key, refilled evenly.
func NewLocalLimiter(limit int, window time.Duration) *LocalLimiter {
	return &LocalLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    limit,
		every:    window / time.Duration(limit),
	}
}

func (l *LocalLimiter) Take(_ context.Context, key string) (Decision, error) {
	l.mu.Lock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Every(l.every), l.limit)
		l.limiters[key] = lim
	}
	l.mu.Unlock()

	now := time.Now()
	allowed := lim.AllowN(now, 1)
	remaining := int(lim.TokensAt(now))
	return Decision{
		Allowed:   allowed,
		Limit:     l.limit,
		Remaining: max(remaining, 0),
		ResetAt:   now.Add(l.every),
	}, nil
}

// RateLimit rejects callers over their budget with 429. Authenticated
// callers are keyed by user id, others by client IP. Counter failures let
// the request through.
func RateLimit(counter Counter, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := rateKey(r)
			d, err := counter.Take(r.Context(), key)
			if err != nil {
				logger.Warn().Err(err).Str("key", key).Msg("rate limiter unavailable")
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

			if !d.Allowed {
				retry := max(int(time.Until(d.ResetAt).Seconds()), 1)
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				metrics.RateLimitHits.WithLabelValues(routePattern(r)).Inc()
				logger.Warn().
					Str("event", "rate_limit_exceeded").
					Str("key", key).
					Str("path", r.URL.Path).
					Msg("rate limit exceeded")
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded", "RATE_LIMITED")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func rateKey(r *http.Request) string {
	if userID, ok := UserIDFromContext(r.Context()); ok {
		return "ratelimit:user:" + userID
	}
	return "ratelimit:ip:" + clientIP(r)
}

// clientIP reads RemoteAddr, which chi's RealIP middleware has already
// rewritten from forwarding headers.
func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return ip
}
