package circuitbreaker

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/felipepmaragno/sqlassist/internal/domain"
	"github.com/felipepmaragno/sqlassist/internal/metrics"
)

// All breaker state lives in one hash: state, failures, successes, last_failure.
// Scripts take the hash key as KEYS[1] and read the clock from Redis so every
// instance agrees on the cool-down.

var allowScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state') or 'closed'
if state ~= 'open' then
    return state
end
local last = tonumber(redis.call('HGET', KEYS[1], 'last_failure') or '0')
local now = tonumber(redis.call('TIME')[1])
if now - last < tonumber(ARGV[1]) then
    return 'open'
end
redis.call('HSET', KEYS[1], 'state', 'half-open', 'successes', 0)
return 'half-open'
`)

var successScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state') or 'closed'
if state == 'half-open' then
    if redis.call('HINCRBY', KEYS[1], 'successes', 1) >= tonumber(ARGV[1]) then
        redis.call('HSET', KEYS[1], 'state', 'closed', 'failures', 0, 'successes', 0)
        return 'closed'
    end
elseif state == 'closed' then
    redis.call('HSET', KEYS[1], 'failures', 0)
end
return state
`)

var failureScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state') or 'closed'
redis.call('HSET', KEYS[1], 'last_failure', redis.call('TIME')[1])
if state == 'half-open' then
    redis.call('HSET', KEYS[1], 'state', 'open', 'successes', 0)
    return 'open'
end
if state == 'closed' and redis.call('HINCRBY', KEYS[1], 'failures', 1) >= tonumber(ARGV[1]) then
    redis.call('HSET', KEYS[1], 'state', 'open')
    return 'open'
end
return state
`)

type RedisCircuitBreaker struct {
	client *redis.Client
	name   string
	key    string
	config Config
}

func NewRedis(client *redis.Client, name string, cfg Config) *RedisCircuitBreaker {
	return &RedisCircuitBreaker{
		client: client,
		name:   name,
		key:    "sqlassist:breaker:" + name,
		config: cfg,
	}
}

// Allow fails open when Redis itself is unreachable.
func (cb *RedisCircuitBreaker) Allow(ctx context.Context) error {
	state, err := allowScript.Run(ctx, cb.client, []string{cb.key}, int(cb.config.Timeout.Seconds())).Text()
	if err != nil {
		slog.Warn("circuit breaker unavailable, allowing call", "breaker", cb.name, "error", err)
		return nil
	}
	cb.observe(state)
	if state == "open" {
		return domain.ErrProviderUnavailable
	}
	return nil
}

func (cb *RedisCircuitBreaker) RecordSuccess(ctx context.Context) {
	cb.run(ctx, successScript, cb.config.SuccessThreshold)
}

func (cb *RedisCircuitBreaker) RecordFailure(ctx context.Context) {
	cb.run(ctx, failureScript, cb.config.FailureThreshold)
}

func (cb *RedisCircuitBreaker) run(ctx context.Context, script *redis.Script, threshold int) {
	state, err := script.Run(ctx, cb.client, []string{cb.key}, threshold).Text()
	if err != nil {
		slog.Warn("circuit breaker update failed", "breaker", cb.name, "error", err)
		return
	}
	cb.observe(state)
}

func (cb *RedisCircuitBreaker) State(ctx context.Context) State {
	s, err := cb.client.HGet(ctx, cb.key, "state").Result()
	if err != nil {
		return StateClosed
	}
	return parseState(s)
}

// Reset closes the circuit and clears its counters.
func (cb *RedisCircuitBreaker) Reset(ctx context.Context) error {
	return cb.client.Del(ctx, cb.key).Err()
}

func (cb *RedisCircuitBreaker) observe(state string) {
	metrics.RecordBreakerState(cb.name, int(parseState(state)))
}
