//go:build integration

package client

import (
	"context"
	"testing"
	"time"

	"coursecache/internal/testutil"
	"coursecache/pkg/cache"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedisContainer creates a Redis container for integration testing.
func setupRedisContainer(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := redisContainer.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := redisContainer.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		redisClient.Close()
		redisContainer.Terminate(ctx)
	}

	return redisClient, cleanup
}

// TestIntegration_ResponseMemoization verifies the full memoization
// flow: first request hits the API and populates Redis, the second is
// served from Redis without touching the API.
func TestIntegration_ResponseMemoization(t *testing.T) {
	redisClient, cleanup := setupRedisContainer(t)
	defer cleanup()

	api := testutil.NewMockAPI()
	defer api.Close()
	api.SetResponse("/v1/courses", testutil.NewOKResponse(testutil.CoursesPage(
		map[string]any{"id": 1, "name": "Go", "published": true},
	)))

	cfg := DefaultConfig(api.URL(), "test-key")
	cfg.Cache = cache.NewManager(redisClient, 5*time.Minute)

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := context.Background()

	first, err := c.GetJSON(ctx, "/v1/courses", nil)
	if err != nil {
		t.Fatalf("first GetJSON: %v", err)
	}
	if api.GetRequestCount() != 1 {
		t.Fatalf("got %d API requests, want 1", api.GetRequestCount())
	}

	second, err := c.GetJSON(ctx, "/v1/courses", nil)
	if err != nil {
		t.Fatalf("second GetJSON: %v", err)
	}
	if api.GetRequestCount() != 1 {
		t.Errorf("second request hit the API (%d requests)", api.GetRequestCount())
	}
	if string(first) != string(second) {
		t.Error("cached body differs from original")
	}
}

// TestIntegration_MemoizationKeyIncludesParams verifies that requests
// with different query parameters do not share a cache entry.
func TestIntegration_MemoizationKeyIncludesParams(t *testing.T) {
	redisClient, cleanup := setupRedisContainer(t)
	defer cleanup()

	api := testutil.NewMockAPI()
	defer api.Close()
	api.SetResponse("/v1/courses", testutil.NewOKResponse(testutil.CoursesPage(
		map[string]any{"id": 1, "name": "Go", "published": true},
	)))

	cfg := DefaultConfig(api.URL(), "test-key")
	cfg.Cache = cache.NewManager(redisClient, 5*time.Minute)

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := context.Background()

	if _, _, err := c.FetchPage(ctx, "/v1/courses", nil, []string{"courses"}, 1); err != nil {
		t.Fatalf("page 1: %v", err)
	}
	if _, _, err := c.FetchPage(ctx, "/v1/courses", nil, []string{"courses"}, 2); err != nil {
		t.Fatalf("page 2: %v", err)
	}

	if api.GetRequestCount() != 2 {
		t.Errorf("got %d API requests, want 2 (distinct pages are distinct cache keys)", api.GetRequestCount())
	}
}
