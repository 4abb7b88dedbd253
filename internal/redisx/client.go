package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

// Cache wraps the keys this service owns. A nil *Cache or a nil client turns
// every call into a miss, so Redis stays optional.
type Cache struct {
	rdb *redis.Client
}

func NewCache(rdb *redis.Client) *Cache { return &Cache{rdb: rdb} }

func (c *Cache) enabled() bool { return c != nil && c.rdb != nil }

// idemPending marks an idempotency key whose create is still in flight.
const idemPending = "-"

// ClaimIdempotency reserves key for one create. It reports false when another
// request already claimed or completed it.
func (c *Cache) ClaimIdempotency(ctx context.Context, key string) (bool, error) {
	if !c.enabled() || key == "" {
		return true, nil
	}
	return c.rdb.SetNX(ctx, fmt.Sprintf(KeyIdemPreorderCreate, key), idemPending, TTLIdempotency).Result()
}

// ReleaseIdempotency drops a claim whose create failed, so the client may retry.
func (c *Cache) ReleaseIdempotency(ctx context.Context, key string) error {
	if !c.enabled() || key == "" {
		return nil
	}
	return c.rdb.Del(ctx, fmt.Sprintf(KeyIdemPreorderCreate, key)).Err()
}

// IdempotentPreorder returns the preorder id recorded for key, or "" on a
// miss or while the create is still in flight.
func (c *Cache) IdempotentPreorder(ctx context.Context, key string) (string, error) {
	if !c.enabled() || key == "" {
		return "", nil
	}
	id, err := c.rdb.Get(ctx, fmt.Sprintf(KeyIdemPreorderCreate, key)).Result()
	if errors.Is(err, redis.Nil) || id == idemPending {
		return "", nil
	}
	return id, err
}

func (c *Cache) RememberPreorder(ctx context.Context, key, preorderID string) error {
	if !c.enabled() || key == "" {
		return nil
	}
	return c.rdb.Set(ctx, fmt.Sprintf(KeyIdemPreorderCreate, key), preorderID, TTLIdempotency).Err()
}

// Status decodes the cached status entry for id into out. It reports false on
// a miss.
func (c *Cache) Status(ctx context.Context, id string, out any) (bool, error) {
	if !c.enabled() {
		return false, nil
	}
	b, err := c.rdb.Get(ctx, fmt.Sprintf(KeyPreorderStatus, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(b, out); err != nil {
		return false, fmt.Errorf("decode status cache: %w", err)
	}
	return true, nil
}

func (c *Cache) SetStatus(ctx context.Context, id string, v any) error {
	if !c.enabled() {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, fmt.Sprintf(KeyPreorderStatus, id), b, TTLStatusCache).Err()
}

func (c *Cache) DeleteStatus(ctx context.Context, id string) error {
	if !c.enabled() {
		return nil
	}
	return c.rdb.Del(ctx, fmt.Sprintf(KeyPreorderStatus, id)).Err()
}

// MarkDeleted evicts the status entry and leaves a tombstone, so events that
// arrive after the delete cannot bring the entry back.
func (c *Cache) MarkDeleted(ctx context.Context, id string) error {
	if !c.enabled() {
		return nil
	}
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, fmt.Sprintf(KeyPreorderStatus, id))
		pipe.Set(ctx, fmt.Sprintf(KeyPreorderDeleted, id), "1", TTLTombstone)
		return nil
	})
	return err
}

func (c *Cache) Deleted(ctx context.Context, id string) (bool, error) {
	if !c.enabled() {
		return false, nil
	}
	n, err := c.rdb.Exists(ctx, fmt.Sprintf(KeyPreorderDeleted, id)).Result()
	return n > 0, err
}

// Seen reports whether eventID was already processed by service.
func (c *Cache) Seen(ctx context.Context, service, eventID string) (bool, error) {
	if !c.enabled() {
		return false, nil
	}
	n, err := c.rdb.Exists(ctx, fmt.Sprintf(KeyDedup, service, eventID)).Result()
	return n > 0, err
}

// MarkSeen records eventID for service once its effect has been applied.
func (c *Cache) MarkSeen(ctx context.Context, service, eventID string) error {
	if !c.enabled() {
		return nil
	}
	return c.rdb.Set(ctx, fmt.Sprintf(KeyDedup, service, eventID), "1", TTLDedup).Err()
}
