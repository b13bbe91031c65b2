package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces the registry keys
const DefaultKeyPrefix = "postscraper:categories"

// Redis keeps the registry in a sorted set so several API processes share it.
// Scores come from a counter so List preserves insertion order.
type Redis struct {
	client *redis.Client
	key    string
	seqKey string
}

var _ Registry = (*Redis)(nil)

// NewRedis creates a Redis-backed registry and seeds it when the set does not exist yet
func NewRedis(ctx context.Context, client *redis.Client, prefix string, seed []string) (*Redis, error) {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	r := &Redis{client: client, key: prefix, seqKey: prefix + ":seq"}

	exists, err := client.Exists(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to check registry key: %w", err)
	}
	if exists == 0 {
		for _, name := range seed {
			if _, err := r.Add(ctx, name); err != nil {
				return nil, fmt.Errorf("failed to seed category %q: %w", name, err)
			}
		}
	}
	return r, nil
}

// List returns names ordered by insertion
func (r *Redis) List(ctx context.Context) ([]string, error) {
	names, err := r.client.ZRange(ctx, r.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	return names, nil
}

// Add registers name; adding an existing name is a no-op
func (r *Redis) Add(ctx context.Context, name string) (bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return false, ErrEmptyName
	}
	seq, err := r.client.Incr(ctx, r.seqKey).Result()
	if err != nil {
		return false, fmt.Errorf("failed to allocate category order: %w", err)
	}
	added, err := r.client.ZAddNX(ctx, r.key, redis.Z{Score: float64(seq), Member: name}).Result()
	if err != nil {
		return false, fmt.Errorf("failed to add category: %w", err)
	}
	return added == 1, nil
}

// Remove drops name; removing an absent name is a no-op
func (r *Redis) Remove(ctx context.Context, name string) (bool, error) {
	removed, err := r.client.ZRem(ctx, r.key, name).Result()
	if err != nil {
		return false, fmt.Errorf("failed to remove category: %w", err)
	}
	return removed == 1, nil
}

// Contains reports whether name is registered
func (r *Redis) Contains(ctx context.Context, name string) (bool, error) {
	err := r.client.ZScore(ctx, r.key, name).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check category: %w", err)
	}
	return true, nil
}
