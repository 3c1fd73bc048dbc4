package httpmiddleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimitConfig configures the sliding window rate limiter.
type RateLimitConfig struct {
	// Max is the number of requests allowed per window.
	Max int
	// Window is the sliding window length.
	Window time.Duration
	// KeyFunc extracts the client key. Defaults to ClientKey.
	KeyFunc func(*http.Request) string
	// Store holds window counters. Defaults to an in-process store.
	Store LimitStore
}

// LimitStore records a hit for key and reports whether it fits the limit.
type LimitStore interface {
	Hit(ctx context.Context, key string, now time.Time) (remaining int, resetAt time.Time, allowed bool, err error)
}

// window is a pair of adjacent fixed windows approximating a sliding one.
type window struct {
	prev, curr     float64
	prevAt, currAt time.Time
}

// memoryStore keeps counters in process memory.
type memoryStore struct {
	max    int
	length time.Duration

	mu      sync.Mutex
	windows map[string]*window
}

func newMemoryStore(max int, length time.Duration) *memoryStore {
	return &memoryStore{max: max, length: length, windows: make(map[string]*window)}
}

func (s *memoryStore) Hit(_ context.Context, key string, now time.Time) (int, time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok {
		w = &window{currAt: now}
		s.windows[key] = w
	}
	if now.Sub(w.currAt) >= s.length {
		w.prev, w.prevAt = w.curr, w.currAt
		w.curr, w.currAt = 0, now.Truncate(s.length)
		if now.Sub(w.prevAt) >= 2*s.length {
			w.prev = 0
		}
	}

	// Weight the previous window by its overlap with the sliding window.
	overlap := max(0, 1-now.Sub(w.currAt).Seconds()/s.length.Seconds())
	count := w.prev*overlap + w.curr
	resetAt := w.currAt.Add(s.length)
	if count >= float64(s.max) {
		return 0, resetAt, false, nil
	}
	w.curr++
	return max(0, int(float64(s.max)-count-1)), resetAt, true, nil
}

// evict drops windows idle for two full lengths.
func (s *memoryStore) evict(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, w := range s.windows {
		if now.Sub(w.currAt) >= 2*s.length {
			delete(s.windows, key)
		}
	}
}

// RedisStore shares sliding window counters between replicas using sorted
// sets, one member per request.
type RedisStore struct {
	Client *redis.Client
	Prefix string
	Max    int
	Window time.Duration
}

// Hit implements LimitStore.
func (s *RedisStore) Hit(ctx context.Context, key string, now time.Time) (int, time.Time, bool, error) {
	resetAt := now.Add(s.Window)
	redisKey := s.Prefix + key
	cutoff := strconv.FormatInt(now.Add(-s.Window).UnixNano(), 10)

	pipe := s.Client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "-inf", cutoff)
	pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(now.UnixNano()), Member: uuid.NewString()})
	card := pipe.ZCard(ctx, redisKey)
	pipe.Expire(ctx, redisKey, s.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, resetAt, false, fmt.Errorf("rate limit %q: %w", key, err)
	}

	n := int(card.Val())
	return max(0, s.Max-n), resetAt, n <= s.Max, nil
}

// RateLimit returns a middleware enforcing a per-key sliding window limit.
// Exceeding it yields 429 with a JSON body. Store errors fail open.
func RateLimit(cfg RateLimitConfig) Middleware {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = ClientKey
	}
	if cfg.Store == nil {
		cfg.Store = newMemoryStore(cfg.Max, cfg.Window)
	}
	return rateLimit(cfg)
}

// RateLimitWithCleanup is RateLimit with an in-process store whose idle
// windows are evicted until ctx is cancelled.
func RateLimitWithCleanup(ctx context.Context, cfg RateLimitConfig) Middleware {
	store := newMemoryStore(cfg.Max, cfg.Window)
	go func() {
		ticker := time.NewTicker(2 * cfg.Window)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				store.evict(now)
			}
		}
	}()
	cfg.Store = store
	return RateLimit(cfg)
}

func rateLimit(cfg RateLimitConfig) Middleware {
	limit := strconv.Itoa(cfg.Max)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			remaining, resetAt, allowed, err := cfg.Store.Hit(r.Context(), cfg.KeyFunc(r), time.Now())
			if err != nil {
				zctx.From(r.Context()).Warn("Rate limiter unavailable", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
			if allowed {
				next.ServeHTTP(w, r)
				return
			}

			retry := max(0, time.Until(resetAt))
			h.Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
			WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
		})
	}
}

// WriteError writes the {"code":...,"message":...} error body.
func WriteError(w http.ResponseWriter, status int, msg string) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	e.Obj(func(e *jx.Encoder) {
		e.Field("code", func(e *jx.Encoder) { e.Int(status) })
		e.Field("message", func(e *jx.Encoder) { e.Str(msg) })
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// ClientKey returns the API key header when present, otherwise the client IP
// taken from X-Forwarded-For, X-Real-IP or RemoteAddr.
func ClientKey(r *http.Request) string {
	if key := r.Header.Get(APIKeyHeader); key != "" {
		sum := sha256.Sum256([]byte(key))
		return "key:" + hex.EncodeToString(sum[:8])
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
