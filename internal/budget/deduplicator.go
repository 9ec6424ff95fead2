package budget

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// AlertDeduplicator keeps a session from being alerted twice for the same
// budget level, also across service instances.
type AlertDeduplicator interface {
	// ShouldAlert reports whether the alert is new and should be dispatched.
	ShouldAlert(ctx context.Context, sessionID string, level AlertLevel) bool

	// ClearAlert forgets every level sent for the session.
	ClearAlert(ctx context.Context, sessionID string)
}

type InMemoryDeduplicator struct {
	mu   sync.Mutex
	sent map[string]map[AlertLevel]bool
}

func NewInMemoryDeduplicator() *InMemoryDeduplicator {
	return &InMemoryDeduplicator{
		sent: make(map[string]map[AlertLevel]bool),
	}
}

func (d *InMemoryDeduplicator) ShouldAlert(ctx context.Context, sessionID string, level AlertLevel) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	levels, ok := d.sent[sessionID]
	if !ok {
		levels = make(map[AlertLevel]bool)
		d.sent[sessionID] = levels
	}
	if levels[level] {
		return false
	}

	levels[level] = true
	return true
}

func (d *InMemoryDeduplicator) ClearAlert(ctx context.Context, sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.sent, sessionID)
}

// RedisDeduplicator shares alert state between instances through Redis keys
// that expire after lockTTL.
type RedisDeduplicator struct {
	client  *redis.Client
	lockTTL time.Duration
}

func NewRedisDeduplicator(redisURL string, lockTTL time.Duration) (*RedisDeduplicator, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &RedisDeduplicator{
		client:  client,
		lockTTL: lockTTL,
	}, nil
}

func NewRedisDeduplicatorWithClient(client *redis.Client, lockTTL time.Duration) *RedisDeduplicator {
	return &RedisDeduplicator{
		client:  client,
		lockTTL: lockTTL,
	}
}

func (d *RedisDeduplicator) alertKey(sessionID string, level AlertLevel) string {
	return fmt.Sprintf("sqlassist:budget:alert:%s:%s", sessionID, level)
}

// ShouldAlert relies on SETNX so only one instance wins the alert.
func (d *RedisDeduplicator) ShouldAlert(ctx context.Context, sessionID string, level AlertLevel) bool {
	key := d.alertKey(sessionID, level)

	acquired, err := d.client.SetNX(ctx, key, time.Now().Unix(), d.lockTTL).Result()
	if err != nil {
		slog.Warn("alert deduplication unavailable", "error", err)
		return true
	}

	return acquired
}

func (d *RedisDeduplicator) ClearAlert(ctx context.Context, sessionID string) {
	err := d.client.Del(ctx,
		d.alertKey(sessionID, AlertLevelWarning),
		d.alertKey(sessionID, AlertLevelExceeded),
	).Err()
	if err != nil {
		slog.Warn("failed to clear budget alerts", "session_id", sessionID, "error", err)
	}
}

func (d *RedisDeduplicator) Close() error {
	return d.client.Close()
}
