package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/creact-labs/creact-sub004/pkg/state"
)

// RedisBackend keeps deployment state in Redis: one string key per stack
// for state, a list per stack for audit entries, and SET NX EX keys for
// advisory locks.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend wraps an existing client.
func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

// ConnectRedis opens a client from an address and verifies connectivity.
func ConnectRedis(ctx context.Context, addr, password string, db int) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return &RedisBackend{client: client}, nil
}

// Close releases the client.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}

func stateKey(stack string) string { return "creact:state:" + stack }
func auditKey(stack string) string { return "creact:audit:" + stack }
func lockKey(stack string) string  { return "creact:lock:" + stack }

// GetState loads the stack's persisted state, nil when absent.
func (b *RedisBackend) GetState(ctx context.Context, stack string) (*state.DeploymentState, error) {
	data, err := b.client.Get(ctx, stateKey(stack)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get state for %s: %w", stack, err)
	}
	return state.UnmarshalState(data)
}

// SaveState stores the stack's state.
func (b *RedisBackend) SaveState(ctx context.Context, stack string, s *state.DeploymentState) error {
	data, err := state.MarshalState(s)
	if err != nil {
		return err
	}
	if err := b.client.Set(ctx, stateKey(stack), data, 0).Err(); err != nil {
		return fmt.Errorf("save state for %s: %w", stack, err)
	}
	return nil
}

// AppendAuditLog pushes one entry onto the stack's audit list.
func (b *RedisBackend) AppendAuditLog(ctx context.Context, stack string, entry state.AuditEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if err := b.client.RPush(ctx, auditKey(stack), data).Err(); err != nil {
		return fmt.Errorf("append audit for %s: %w", stack, err)
	}
	return nil
}

// GetAuditLog returns the newest entries, oldest first.
func (b *RedisBackend) GetAuditLog(ctx context.Context, stack string, limit int) ([]state.AuditEntry, error) {
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	raw, err := b.client.LRange(ctx, auditKey(stack), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("get audit for %s: %w", stack, err)
	}
	entries := make([]state.AuditEntry, 0, len(raw))
	for _, item := range raw {
		var e state.AuditEntry
		if json.Unmarshal([]byte(item), &e) == nil {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// AcquireLock takes the lock with SET NX EX semantics.
func (b *RedisBackend) AcquireLock(ctx context.Context, stack, holder string, ttl time.Duration) (bool, error) {
	ok, err := b.client.SetNX(ctx, lockKey(stack), holder, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock for %s: %w", stack, err)
	}
	if ok {
		return true, nil
	}
	// Refresh when we already hold it.
	current, err := b.client.Get(ctx, lockKey(stack)).Result()
	if err == nil && current == holder {
		if err := b.client.Expire(ctx, lockKey(stack), ttl).Err(); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// ReleaseLock deletes the lock key.
func (b *RedisBackend) ReleaseLock(ctx context.Context, stack string) error {
	return b.client.Del(ctx, lockKey(stack)).Err()
}
