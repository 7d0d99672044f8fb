package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"walkfilter/pkg/store"
)

type countingSource struct {
	graphs map[int64][]byte
	calls  int
}

func (s *countingSource) GetNetworkGraph(_ context.Context, cityID int64) ([]byte, error) {
	s.calls++
	data, ok := s.graphs[cityID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return data, nil
}

func (s *countingSource) PutNetworkGraph(_ context.Context, cityID int64, data []byte) error {
	s.graphs[cityID] = data
	return nil
}

// readOnlySource hides PutNetworkGraph.
type readOnlySource struct{ GraphSource }

func setup(t *testing.T) (*miniredis.Miniredis, *redis.Client, *countingSource) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("could not start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return mr, client, &countingSource{graphs: map[int64][]byte{1: []byte(`{"nodes":[]}`)}}
}

func TestGraphCacheMissThenHit(t *testing.T) {
	ctx := context.Background()
	mr, client, src := setup(t)
	cache := NewGraphCache(client, src, time.Minute)

	for i := 0; i < 3; i++ {
		data, err := cache.GetNetworkGraph(ctx, 1)
		if err != nil {
			t.Fatalf("GetNetworkGraph: %v", err)
		}
		if string(data) != `{"nodes":[]}` {
			t.Errorf("data = %s", data)
		}
	}
	if src.calls != 1 {
		t.Errorf("backend calls = %d, want 1", src.calls)
	}
	if !mr.Exists("walkfilter:graph:1") {
		t.Error("expected key to be cached")
	}
	if ttl := mr.TTL("walkfilter:graph:1"); ttl != time.Minute {
		t.Errorf("TTL = %v, want 1m", ttl)
	}

	mr.FastForward(2 * time.Minute)
	if _, err := cache.GetNetworkGraph(ctx, 1); err != nil {
		t.Fatalf("GetNetworkGraph: %v", err)
	}
	if src.calls != 2 {
		t.Errorf("backend calls after expiry = %d, want 2", src.calls)
	}
}

func TestGraphCacheNotFoundNotCached(t *testing.T) {
	ctx := context.Background()
	mr, client, src := setup(t)
	cache := NewGraphCache(client, src, time.Minute)

	_, err := cache.GetNetworkGraph(ctx, 42)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if mr.Exists("walkfilter:graph:42") {
		t.Error("missing graph should not be cached")
	}
}

func TestGraphCacheRedisDown(t *testing.T) {
	ctx := context.Background()
	mr, client, src := setup(t)
	cache := NewGraphCache(client, src, time.Minute)

	mr.Close()
	data, err := cache.GetNetworkGraph(ctx, 1)
	if err != nil {
		t.Fatalf("GetNetworkGraph with redis down: %v", err)
	}
	if len(data) == 0 || src.calls != 1 {
		t.Errorf("expected backend fallback, calls = %d", src.calls)
	}
}

func TestGraphCacheInvalidate(t *testing.T) {
	ctx := context.Background()
	mr, client, src := setup(t)
	cache := NewGraphCache(client, src, time.Minute)

	if _, err := cache.GetNetworkGraph(ctx, 1); err != nil {
		t.Fatalf("GetNetworkGraph: %v", err)
	}
	if err := cache.Invalidate(ctx, 1); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if mr.Exists("walkfilter:graph:1") {
		t.Error("key still cached after Invalidate")
	}
}

func TestGraphCacheReseed(t *testing.T) {
	ctx := context.Background()
	mr, client, src := setup(t)
	src.graphs[1] = []byte("old")
	cache := NewGraphCache(client, src, time.Hour)

	data, err := cache.GetNetworkGraph(ctx, 1)
	if err != nil || string(data) != "old" {
		t.Fatalf("GetNetworkGraph = %q, %v", data, err)
	}

	if err := cache.PutNetworkGraph(ctx, 1, []byte("new")); err != nil {
		t.Fatalf("PutNetworkGraph: %v", err)
	}
	if mr.Exists("walkfilter:graph:1") {
		t.Error("stale graph still cached after reseed")
	}
	data, err = cache.GetNetworkGraph(ctx, 1)
	if err != nil || string(data) != "new" {
		t.Errorf("after reseed GetNetworkGraph = %q, %v, want new", data, err)
	}
}

func TestGraphCacheReadOnlyBackend(t *testing.T) {
	_, client, src := setup(t)
	cache := NewGraphCache(client, readOnlySource{src}, time.Minute)
	if err := cache.PutNetworkGraph(context.Background(), 1, []byte("x")); err == nil {
		t.Error("expected error for read-only backend")
	}
	if string(src.graphs[1]) != `{"nodes":[]}` {
		t.Errorf("backend modified: %s", src.graphs[1])
	}
}
