package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strconv"
	"time"

	"github.com/zyxnine9/xiaohongshu-mcp/internal/pkg/metrics"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

var ErrRateLimitTimeout = errors.New("rate limit wait timeout")

const tokenBucketLua = `
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local requested = tonumber(ARGV[4])

if rate <= 0 or burst <= 0 then
  return {1, 0, burst}
end

local data = redis.call("HMGET", key, "tokens", "ts")
local tokens = tonumber(data[1])
local ts = tonumber(data[2])
if tokens == nil then
  tokens = burst
end
if ts == nil then
  ts = now
end

local delta = math.max(0, now - ts)
local refill = (delta * rate) / 1000.0
tokens = math.min(burst, tokens + refill)

local allowed = tokens >= requested
local wait_ms = 0
if allowed then
  tokens = tokens - requested
else
  wait_ms = math.ceil((requested - tokens) * 1000.0 / rate)
end

redis.call("HMSET", key, "tokens", tokens, "ts", now)
redis.call("PEXPIRE", key, math.ceil((burst / rate) * 1000.0 * 2))

return {allowed and 1 or 0, wait_ms, tokens}
`

// RateLimiter 跨节点共享的令牌桶，限制对站点的导航频率。
//
// 令牌桶状态保存在 Redis 中；Redis 不可用（或未配置）时退化为进程内的 rate.Limiter。
type RateLimiter struct {
	rdb    *redis.Client
	key    string
	rate   float64
	burst  float64
	logger *slog.Logger
	script *redis.Script
	local  *rate.Limiter
}

// NewRedisRateLimiter 创建基于 Redis 的限流器，rdb 为 nil 时等价于 NewLocalRateLimiter。
func NewRedisRateLimiter(rdb *redis.Client, logger *slog.Logger, key string, r float64, burst float64) *RateLimiter {
	if key == "" {
		key = "xhs:ratelimit:default"
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &RateLimiter{
		rdb:    rdb,
		key:    key,
		rate:   r,
		burst:  burst,
		logger: logger,
		script: redis.NewScript(tokenBucketLua),
		local:  newLocalLimiter(r, burst),
	}
}

// NewLocalRateLimiter 创建仅在进程内生效的限流器。
func NewLocalRateLimiter(r float64, burst float64) *RateLimiter {
	return NewRedisRateLimiter(nil, nil, "", r, burst)
}

func newLocalLimiter(r float64, burst float64) *rate.Limiter {
	b := int(burst)
	if b < 1 {
		b = 1
	}
	return rate.NewLimiter(rate.Limit(r), b)
}

// Acquire 阻塞直到拿到一个令牌，ctx 结束时返回 ErrRateLimitTimeout。
func (r *RateLimiter) Acquire(ctx context.Context) error {
	if r == nil || r.rate <= 0 || r.burst <= 0 {
		return nil
	}
	if r.rdb == nil {
		return r.acquireLocal(ctx, time.Now())
	}

	const jitterMax = 10 * time.Millisecond
	start := time.Now()
	for {
		allowed, waitMs, err := r.tryAcquire(ctx)
		if err != nil {
			if ctx.Err() != nil {
				metrics.RateLimitWaitDuration.Observe(time.Since(start).Seconds())
				return ErrRateLimitTimeout
			}
			// Redis 故障时降级到进程内限流，避免阻塞抓取
			r.logger.Warn("rate limit degraded to local limiter", slog.String("error", err.Error()))
			return r.acquireLocal(ctx, start)
		}
		if allowed {
			metrics.RateLimitWaitDuration.Observe(time.Since(start).Seconds())
			return nil
		}

		wait := time.Duration(waitMs) * time.Millisecond
		if wait <= 0 {
			wait = 50 * time.Millisecond
		}
		if jitterMax > 0 {
			wait += time.Duration(rand.Int63n(int64(jitterMax)))
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			metrics.RateLimitWaitDuration.Observe(time.Since(start).Seconds())
			return ErrRateLimitTimeout
		case <-timer.C:
		}
	}
}

func (r *RateLimiter) acquireLocal(ctx context.Context, start time.Time) error {
	err := r.local.Wait(ctx)
	metrics.RateLimitWaitDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return ErrRateLimitTimeout
	}
	return nil
}

func (r *RateLimiter) tryAcquire(ctx context.Context) (bool, int64, error) {
	now := time.Now().UnixMilli()
	res, err := r.script.Run(ctx, r.rdb, []string{r.key}, r.rate, r.burst, now, 1).Result()
	if err != nil {
		return false, 0, fmt.Errorf("ratelimit eval: %w", err)
	}

	values, ok := res.([]interface{})
	if !ok || len(values) < 2 {
		return false, 0, fmt.Errorf("ratelimit invalid result")
	}

	allowed := toInt64(values[0]) == 1
	waitMs := toInt64(values[1])
	return allowed, waitMs, nil
}

func toInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		if t == "" {
			return 0
		}
		if parsed, err := strconv.ParseInt(t, 10, 64); err == nil {
			return parsed
		}
	}
	return 0
}
