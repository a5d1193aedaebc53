package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/google/uuid"
)

// slidingLog trims every window's sorted set and, only when all of them
// have room, adds the hit to each. KEYS are one set per window; ARGV is now,
// the member, then limit and window milliseconds per key. Returns 1 when the
// hit was recorded.
var slidingLog = redis.NewScript(-1, `
local now = tonumber(ARGV[1])
local member = ARGV[2]
for i, key in ipairs(KEYS) do
  local window = tonumber(ARGV[2 + i * 2])
  redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
end
for i, key in ipairs(KEYS) do
  local limit = tonumber(ARGV[1 + i * 2])
  if redis.call('ZCARD', key) >= limit then
    return 0
  end
end
for i, key in ipairs(KEYS) do
  local window = tonumber(ARGV[2 + i * 2])
  redis.call('ZADD', key, now, member)
  redis.call('PEXPIRE', key, window)
end
return 1
`)

type RedisBackend struct {
	pool   *redis.Pool
	prefix string
	now    func() time.Time
}

func NewRedisPool(url string) *redis.Pool {
	return &redis.Pool{
		MaxIdle:     8,
		IdleTimeout: 4 * time.Minute,
		Dial: func() (redis.Conn, error) {
			return redis.DialURL(url)
		},
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if time.Since(t) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}
}

func NewRedisBackend(pool *redis.Pool) *RedisBackend {
	return &RedisBackend{pool: pool, prefix: "ratelimit:", now: time.Now}
}

func (r *RedisBackend) Take(ctx context.Context, key string, windows []Window) (bool, error) {
	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return false, fmt.Errorf("redis connect: %w", err)
	}
	defer conn.Close()

	now := r.now().UnixMilli()
	args := make([]any, 0, 3+len(windows)*3)
	args = append(args, len(windows))
	for _, w := range windows {
		args = append(args, r.prefix+key+":"+w.Name)
	}
	args = append(args, now, fmt.Sprintf("%d-%s", now, uuid.NewString()))
	for _, w := range windows {
		args = append(args, w.Limit, w.Period.Milliseconds())
	}
	ok, err := redis.Int(slidingLog.Do(conn, args...))
	if err != nil {
		return false, fmt.Errorf("redis sliding log: %w", err)
	}
	return ok == 1, nil
}

// Ping checks connectivity at startup.
func (r *RedisBackend) Ping(ctx context.Context) error {
	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	_, err = conn.Do("PING")
	return err
}
