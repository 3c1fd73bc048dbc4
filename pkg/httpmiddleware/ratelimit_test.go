package httpmiddleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-faster/jx"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func serve(h http.Handler, setup func(r *http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/product/p1/price", nil)
	if setup != nil {
		setup(req)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func fromAddr(addr string) func(*http.Request) {
	return func(r *http.Request) { r.RemoteAddr = addr }
}

func TestRateLimit_UnderLimit(t *testing.T) {
	h := RateLimit(RateLimitConfig{Max: 5, Window: time.Minute})(okHandler())

	for i := range 5 {
		w := serve(h, fromAddr("192.168.1.1:12345"))
		assert.Equal(t, http.StatusOK, w.Code, "request %d should pass", i+1)
		assert.Equal(t, "5", w.Header().Get("X-RateLimit-Limit"))
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
	}
}

func TestRateLimit_OverLimit(t *testing.T) {
	h := RateLimit(RateLimitConfig{Max: 2, Window: time.Minute})(okHandler())

	for range 2 {
		require.Equal(t, http.StatusOK, serve(h, fromAddr("10.0.0.1:9999")).Code)
	}
	w := serve(h, fromAddr("10.0.0.1:9999"))

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	var (
		code int
		msg  string
	)
	err := jx.DecodeBytes(w.Body.Bytes()).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "code":
			code, err = d.Int()
		case "message":
			msg, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 429, code)
	assert.Equal(t, "rate limit exceeded", msg)
}

func TestRateLimit_Keys(t *testing.T) {
	tests := []struct {
		name  string
		first func(*http.Request)
		other func(*http.Request)
		same  bool
	}{
		{
			name:  "different ips",
			first: fromAddr("10.0.0.1:1234"),
			other: fromAddr("10.0.0.2:1234"),
		},
		{
			name:  "same ip different port",
			first: fromAddr("10.0.0.1:1234"),
			other: fromAddr("10.0.0.1:5678"),
			same:  true,
		},
		{
			name: "forwarded for",
			first: func(r *http.Request) {
				r.RemoteAddr = "192.168.1.1:4444"
				r.Header.Set("X-Forwarded-For", "203.0.113.50, 70.41.3.18")
			},
			other: func(r *http.Request) {
				r.RemoteAddr = "192.168.1.2:5555"
				r.Header.Set("X-Forwarded-For", "203.0.113.50")
			},
			same: true,
		},
		{
			name:  "api keys behind one ip",
			first: func(r *http.Request) { r.Header.Set(APIKeyHeader, "key-a") },
			other: func(r *http.Request) { r.Header.Set(APIKeyHeader, "key-b") },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := RateLimit(RateLimitConfig{Max: 1, Window: time.Minute})(okHandler())
			require.Equal(t, http.StatusOK, serve(h, tt.first).Code)

			want := http.StatusOK
			if tt.same {
				want = http.StatusTooManyRequests
			}
			assert.Equal(t, want, serve(h, tt.other).Code)
		})
	}
}

func TestClientKey_HidesAPIKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(APIKeyHeader, "secret-key")
	key := ClientKey(req)
	assert.NotContains(t, key, "secret-key")
	assert.Len(t, key, len("key:")+16)
}

func TestMemoryStore_WindowSlides(t *testing.T) {
	s := newMemoryStore(2, time.Minute)
	ctx := context.Background()
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	for range 2 {
		_, _, ok, err := s.Hit(ctx, "k", start)
		require.NoError(t, err)
		require.True(t, ok)
	}
	_, _, ok, _ := s.Hit(ctx, "k", start.Add(time.Second))
	assert.False(t, ok)

	// Two windows later nothing from the first window counts.
	_, _, ok, _ = s.Hit(ctx, "k", start.Add(2*time.Minute))
	assert.True(t, ok)

	s.evict(start.Add(10 * time.Minute))
	assert.Empty(t, s.windows)
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := &RedisStore{Client: client, Prefix: "test:", Max: 2, Window: time.Minute}
	h := RateLimit(RateLimitConfig{Max: 2, Window: time.Minute, Store: store})(okHandler())

	assert.Equal(t, http.StatusOK, serve(h, fromAddr("10.0.0.9:1")).Code)
	assert.Equal(t, http.StatusOK, serve(h, fromAddr("10.0.0.9:1")).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(h, fromAddr("10.0.0.9:1")).Code)
	assert.True(t, mr.Exists("test:10.0.0.9"))
}

func TestRateLimit_StoreErrorFailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	store := &RedisStore{Client: client, Max: 1, Window: time.Minute}
	h := RateLimit(RateLimitConfig{Max: 1, Window: time.Minute, Store: store})(okHandler())

	assert.Equal(t, http.StatusOK, serve(h, nil).Code)
	assert.Equal(t, http.StatusOK, serve(h, nil).Code)
}
