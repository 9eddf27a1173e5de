package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/SandraRGdev/wp-api-codeia-sub001/clock"
)

// checkScript runs the window state machine atomically on a hash with
// fields start, count, denials and ban_until (all in milliseconds).
//
// KEYS[1] window key
// ARGV    now_ms, limit, window_ms, ban_threshold, ban_ms
// returns {allowed, remaining, retry_after_ms, banned}
const checkScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
local size = tonumber(ARGV[3])
local threshold = tonumber(ARGV[4])
local ban = tonumber(ARGV[5])

local state = redis.call("HMGET", key, "start", "count", "denials", "ban_until")
local start = tonumber(state[1])
local count = tonumber(state[2]) or 0
local denials = tonumber(state[3]) or 0
local ban_until = tonumber(state[4]) or 0

if ban_until > now then
  return {0, 0, ban_until - now, 1}
end

if not start or now >= start + size then
  start = now
  count = 0
  denials = 0
end
count = count + 1

local allowed = 1
local retry = 0
local banned = 0
if count > limit then
  allowed = 0
  retry = start + size - now
  denials = denials + 1
  if threshold > 0 and ban > 0 and denials >= threshold then
    ban_until = now + ban
    denials = 0
    retry = ban
    banned = 1
  end
end

redis.call("HSET", key, "start", start, "count", count, "denials", denials, "ban_until", ban_until)
local expire_at = start + size
if ban_until > expire_at then
  expire_at = ban_until
end
local ttl = expire_at - now
if ttl < 1 then
  ttl = 1
end
redis.call("PEXPIRE", key, ttl)

local remaining = limit - count
if remaining < 0 then
  remaining = 0
end
return {allowed, remaining, retry, banned}
`

var checkLua = redis.NewScript(checkScript)

// RedisConfig configures a RedisLimiter.
type RedisConfig struct {
	// Prefix namespaces window keys.
	// Default: "rl"
	Prefix string

	Ban   BanPolicy
	Clock clock.Clock
}

// RedisLimiter shares windows across processes through Redis.
type RedisLimiter struct {
	client redis.UniversalClient
	config RedisConfig
	clock  clock.Clock
}

// NewRedisLimiter creates a Redis-backed limiter.
func NewRedisLimiter(client redis.UniversalClient, config RedisConfig) *RedisLimiter {
	if config.Prefix == "" {
		config.Prefix = "rl"
	}
	return &RedisLimiter{client: client, config: config, clock: clock.OrSystem(config.Clock)}
}

// CheckAndIncrement counts one request for subject.
func (l *RedisLimiter) CheckAndIncrement(ctx context.Context, subject string, limit int, size time.Duration) (Decision, error) {
	ban := l.config.Ban
	if !ban.enabled() {
		ban = BanPolicy{}
	}
	res, err := checkLua.Run(ctx, l.client, []string{l.config.Prefix + ":" + subject},
		l.clock.Now().UnixMilli(), limit, size.Milliseconds(), ban.Threshold, ban.Duration.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(res) != 4 {
		return Decision{}, fmt.Errorf("%w: unexpected script reply %v", ErrUnavailable, res)
	}
	return Decision{
		Allowed:    res[0] == 1,
		Remaining:  int(res[1]),
		RetryAfter: time.Duration(res[2]) * time.Millisecond,
		Banned:     res[3] == 1,
	}, nil
}

// Ensure RedisLimiter implements Limiter
var _ Limiter = (*RedisLimiter)(nil)
