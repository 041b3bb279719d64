package redis

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"streamgate/internal/domain"
)

const defaultKeyPrefix = "streamgate:snapshot:"

// SnapshotCache keeps the last progress snapshot per hash as JSON with a TTL,
// so state survives a restart for clients polling /state.
type SnapshotCache struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

func NewSnapshotCache(client redis.Cmdable, prefix string, ttl time.Duration) *SnapshotCache {
	if strings.TrimSpace(prefix) == "" {
		prefix = defaultKeyPrefix
	}
	return &SnapshotCache{client: client, prefix: prefix, ttl: ttl}
}

// Connect parses a redis:// URL and verifies the server answers.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(strings.TrimSpace(url))
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func (c *SnapshotCache) key(hash domain.ContentHash) string {
	return c.prefix + hash.String()
}

func (c *SnapshotCache) Put(ctx context.Context, snap domain.ProgressSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(snap.Hash), data, c.ttl).Err()
}

func (c *SnapshotCache) Get(ctx context.Context, hash domain.ContentHash) (domain.ProgressSnapshot, bool, error) {
	data, err := c.client.Get(ctx, c.key(hash)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.ProgressSnapshot{}, false, nil
		}
		return domain.ProgressSnapshot{}, false, err
	}
	var snap domain.ProgressSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.ProgressSnapshot{}, false, err
	}
	return snap, true, nil
}

func (c *SnapshotCache) Delete(ctx context.Context, hash domain.ContentHash) error {
	return c.client.Del(ctx, c.key(hash)).Err()
}
