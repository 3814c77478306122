package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// slidingWindow атомарно чистит окно, считает запросы и, если лимит не
// исчерпан, добавляет текущий. Возвращает {allowed, remaining, retry_after_ms}.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local counter_key = KEYS[2]
local now = tonumber(ARGV[1])
local window_start = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local window_ms = tonumber(ARGV[4])

redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)

local count = redis.call('ZCARD', key)

if count < limit then
	local seq = redis.call('INCR', counter_key)
	redis.call('ZADD', key, now, now .. ':' .. seq)
	redis.call('PEXPIRE', key, window_ms)
	redis.call('PEXPIRE', counter_key, window_ms)
	return {1, limit - count - 1, 0}
end

local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local retry_after = window_ms
if #oldest >= 2 then
	retry_after = tonumber(oldest[2]) + window_ms - now
end
return {0, 0, retry_after}
`)

// Redis — лимитер со скользящим окном в Redis, общий для всех реплик.
type Redis struct {
	rdb    *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedis создаёт клиент Redis из URL (например, redis://:pass@host:6379/0).
// Если prefix пустой — используется "cinelog:rl:".
func NewRedis(ctx context.Context, redisURL, prefix string) (*Redis, error) {
	const op = "ratelimit.redis.NewRedis"

	if prefix == "" {
		prefix = "cinelog:rl:"
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	rdb := redis.NewClient(opt)

	// Fail-fast на старте.
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Redis{rdb: rdb, prefix: prefix, now: time.Now}, nil
}

func (r *Redis) key(key string, limit int, window time.Duration) string {
	return fmt.Sprintf("%s%s:%d:%d", r.prefix, key, limit, window.Milliseconds())
}

// Allow учитывает запрос в окне key. Ошибка Redis возвращается вызывающему.
func (r *Redis) Allow(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	const op = "ratelimit.redis.Allow"

	if err := validate(limit, window); err != nil {
		return Result{}, fmt.Errorf("%s: %w", op, err)
	}

	now := r.now()
	k := r.key(key, limit, window)

	res, err := slidingWindow.Run(ctx, r.rdb, []string{k, k + ":seq"},
		now.UnixMilli(),
		now.Add(-window).UnixMilli(),
		limit,
		window.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", op, err)
	}

	if len(res) != 3 {
		return Result{}, fmt.Errorf("%s: unexpected script result length %d", op, len(res))
	}

	out := Result{
		Allowed:   res[0] == 1,
		Limit:     limit,
		Remaining: int(res[1]),
	}

	if !out.Allowed {
		out.RetryAfter = time.Duration(res[2]) * time.Millisecond
		if out.RetryAfter < time.Second {
			out.RetryAfter = time.Second
		}
	}

	return out, nil
}

// Ping проверяет доступность Redis (readiness).
func (r *Redis) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

// Close закрывает клиент Redis.
func (r *Redis) Close() error { return r.rdb.Close() }

var _ Limiter = (*Redis)(nil)
