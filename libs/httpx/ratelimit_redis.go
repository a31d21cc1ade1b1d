package httpx

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRateLimiter is a fixed-window rate limiter backed by Redis, for replicas that must share
// one budget per tool token.
type RedisRateLimiter struct {
	rdb      redis.Scripter
	limit    int64
	window   time.Duration
	prefix   string
	key      KeyFunc
	failOpen bool
	logger   *slog.Logger
}

// Returns {count, pttl} for the current window.
var fixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {current, redis.call("PTTL", KEYS[1])}
`)

type RedisRateLimiterOptions struct {
	Limit  int
	Window time.Duration
	Prefix string
	Key    KeyFunc
	// FailOpen lets requests through when Redis is unreachable.
	FailOpen bool
	Logger   *slog.Logger
}

func NewRedisRateLimiter(rdb redis.Scripter, opts RedisRateLimiterOptions) *RedisRateLimiter {
	if opts.Limit <= 0 {
		opts.Limit = 60
	}
	if opts.Window <= 0 {
		opts.Window = time.Minute
	}
	opts.Prefix = strings.TrimSpace(opts.Prefix)
	if opts.Prefix == "" {
		opts.Prefix = "rl"
	}
	if opts.Key == nil {
		opts.Key = ClientIPKey
	}
	return &RedisRateLimiter{
		rdb:      rdb,
		limit:    int64(opts.Limit),
		window:   opts.Window,
		prefix:   opts.Prefix,
		key:      opts.Key,
		failOpen: opts.FailOpen,
		logger:   opts.Logger,
	}
}

func (rl *RedisRateLimiter) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			count, ttl, err := rl.incr(r.Context(), rl.prefix+":"+rl.key(r))
			if err != nil {
				if rl.logger != nil {
					rl.logger.Warn("redis rate limiter error", "err", err, "fail_open", rl.failOpen)
				}
				if rl.failOpen {
					next.ServeHTTP(w, r)
					return
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"error":"busy","message":"rate limiter unavailable"}`))
				return
			}
			if count > rl.limit {
				writeRateLimited(w, ttl)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RedisRateLimiter) incr(ctx context.Context, key string) (int64, time.Duration, error) {
	res, err := fixedWindowScript.Run(ctx, rl.rdb, []string{key}, rl.window.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, 0, err
	}
	if len(res) != 2 {
		return 0, 0, fmt.Errorf("unexpected rate limit script result %v", res)
	}
	return res[0], time.Duration(res[1]) * time.Millisecond, nil
}
