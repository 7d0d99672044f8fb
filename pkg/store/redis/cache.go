package redis

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// GraphSource loads encoded graphs.
type GraphSource interface {
	GetNetworkGraph(ctx context.Context, cityID int64) ([]byte, error)
}

// GraphCache serves encoded graphs from Redis, falling back to the backend
// on a miss or when Redis is unavailable. Graphs are cached as the same
// bytes the backend returns, so every query still decodes its own copy.
type GraphCache struct {
	client  *redis.Client
	backend GraphSource
	ttl     time.Duration
}

func NewGraphCache(client *redis.Client, backend GraphSource, ttl time.Duration) *GraphCache {
	return &GraphCache{client: client, backend: backend, ttl: ttl}
}

func (c *GraphCache) makeKey(cityID int64) string {
	return fmt.Sprintf("walkfilter:graph:%d", cityID)
}

func (c *GraphCache) GetNetworkGraph(ctx context.Context, cityID int64) ([]byte, error) {
	key := c.makeKey(cityID)

	data, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, redis.Nil) {
		log.Printf("Graph cache read failed for city %d: %v", cityID, err)
	}

	data, err = c.backend.GetNetworkGraph(ctx, cityID)
	if err != nil {
		return nil, err
	}

	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		log.Printf("Graph cache write failed for city %d: %v", cityID, err)
	}
	return data, nil
}

type graphWriter interface {
	PutNetworkGraph(ctx context.Context, cityID int64, data []byte) error
}

// PutNetworkGraph stores data in the backend, then drops the cached copy so
// readers sharing this Redis load the new graph on their next query.
func (c *GraphCache) PutNetworkGraph(ctx context.Context, cityID int64, data []byte) error {
	w, ok := c.backend.(graphWriter)
	if !ok {
		return fmt.Errorf("graph backend %T is read-only", c.backend)
	}
	if err := w.PutNetworkGraph(ctx, cityID, data); err != nil {
		return err
	}
	return c.Invalidate(ctx, cityID)
}

// Invalidate drops the cached graph of a city.
func (c *GraphCache) Invalidate(ctx context.Context, cityID int64) error {
	if err := c.client.Del(ctx, c.makeKey(cityID)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate graph cache: %w", err)
	}
	return nil
}
