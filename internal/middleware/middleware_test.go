package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// ---- fakes ----

type fakeRedis struct {
	counts  map[string]int64
	expires map[string]time.Duration
	incrErr error
	pingErr error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{counts: map[string]int64{}, expires: map[string]time.Duration{}}
}

func (f *fakeRedis) Incr(_ context.Context, key string) *redis.IntCmd {
	if f.incrErr != nil {
		return redis.NewIntResult(0, f.incrErr)
	}
	f.counts[key]++
	return redis.NewIntResult(f.counts[key], nil)
}

func (f *fakeRedis) Expire(_ context.Context, key string, d time.Duration) *redis.BoolCmd {
	f.expires[key] = d
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", f.pingErr)
}

type staticVerifier map[string]string

func (v staticVerifier) Verify(token string) (string, error) {
	id, ok := v[token]
	if !ok {
		return "", errors.New("bad token")
	}
	return id, nil
}

type failingCounter struct{}

func (failingCounter) Take(context.Context, string) (Decision, error) {
	return Decision{}, errors.New("redis down")
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

// ---- rate limiting ----

func TestRedisCounter_FixedWindow(t *testing.T) {
	rdb := newFakeRedis()
	c := NewRedisCounter(rdb, 2, time.Minute)
	c.now = func() time.Time { return time.Unix(600, 0) }

	for i, want := range []bool{true, true, false} {
		d, err := c.Take(context.Background(), "ratelimit:ip:1.2.3.4")
		require.NoError(t, err)
		require.Equal(t, want, d.Allowed, "request %d", i)
	}
	require.Equal(t, int64(3), rdb.counts["ratelimit:ip:1.2.3.4:10"])
	require.Equal(t, 2*time.Minute, rdb.expires["ratelimit:ip:1.2.3.4:10"])

	// Next window starts fresh.
	c.now = func() time.Time { return time.Unix(660, 0) }
	d, err := c.Take(context.Background(), "ratelimit:ip:1.2.3.4")
	require.NoError(t, err)
	require.True(t, d.Allowed)
	require.Equal(t, 1, d.Remaining)
	require.Equal(t, time.Unix(720, 0), d.ResetAt)
}

func TestRedisCounter_Errors(t *testing.T) {
	rdb := newFakeRedis()
	rdb.incrErr = errors.New("connection refused")
	_, err := NewRedisCounter(rdb, 2, time.Minute).Take(context.Background(), "k")
	require.ErrorContains(t, err, "incr")

	rdb.pingErr = errors.New("down")
	require.Error(t, NewRedisCounter(rdb, 2, time.Minute).Ping(context.Background()))
}

func TestLocalLimiter_PerKeyBudget(t *testing.T) {
	l := NewLocalLimiter(2, time.Hour)
	ctx := context.Background()

	for _, want := range []bool{true, true, false} {
		d, err := l.Take(ctx, "a")
		require.NoError(t, err)
		require.Equal(t, want, d.Allowed)
	}
	d, err := l.Take(ctx, "b")
	require.NoError(t, err)
	require.True(t, d.Allowed)
}

func TestRateLimit_RejectsOverBudget(t *testing.T) {
	h := RateLimit(NewLocalLimiter(1, time.Hour), zerolog.Nop())(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/messages", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "1", rec.Header().Get("X-RateLimit-Limit"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.JSONEq(t, `{"ok":false,"error":"rate limit exceeded","code":"RATE_LIMITED"}`, rec.Body.String())
	require.NotEmpty(t, rec.Header().Get("Retry-After"))

	// A different client still has budget.
	other := httptest.NewRequest(http.MethodGet, "/messages", nil)
	other.RemoteAddr = "10.0.0.2:5555"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, other)
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRateLimit_KeysByUserWhenAuthenticated(t *testing.T) {
	rdb := newFakeRedis()
	h := RateLimit(NewRedisCounter(rdb, 5, time.Minute), zerolog.Nop())(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/messages", nil)
	req = req.WithContext(WithUserID(req.Context(), "u1"))
	h.ServeHTTP(httptest.NewRecorder(), req)

	require.Len(t, rdb.counts, 1)
	for k := range rdb.counts {
		require.True(t, strings.HasPrefix(k, "ratelimit:user:u1:"), k)
	}
}

func TestRateLimit_FailsOpen(t *testing.T) {
	h := RateLimit(failingCounter{}, zerolog.Nop())(okHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/messages", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
}

// ---- bearer auth ----

func TestOptionalBearer(t *testing.T) {
	var seen string
	h := OptionalBearer(staticVerifier{"good": "u1"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name     string
		header   string
		wantCode int
		wantUser string
	}{
		{name: "no header", wantCode: http.StatusNoContent},
		{name: "valid", header: "Bearer good", wantCode: http.StatusNoContent, wantUser: "u1"},
		{name: "lowercase scheme", header: "bearer good", wantCode: http.StatusNoContent, wantUser: "u1"},
		{name: "invalid token", header: "Bearer bad", wantCode: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic abc", wantCode: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodGet, "/messages", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			require.Equal(t, tt.wantCode, rec.Code)
			require.Equal(t, tt.wantUser, seen)
		})
	}
}

// ---- misc ----

func TestMaxBodySize(t *testing.T) {
	h := MaxBodySize(8)(okHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/messages/send", strings.NewReader(`{"body":"too long"}`)))
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestLoggerAndMetricsPassThrough(t *testing.T) {
	var buf strings.Builder
	logger := zerolog.New(&buf)
	h := Metrics(Logger(logger)(okHandler()))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Contains(t, buf.String(), `"status":204`)
	require.Contains(t, buf.String(), "request completed")
}
