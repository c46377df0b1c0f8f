//go:build integration

package redisstore

import (
	"context"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	rediscontainer "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/halvorsen/reqcache/test"
)

const redisImage = "redis:7-alpine"

var sharedEndpoint string

func TestMain(m *testing.M) {
	ctx := context.Background()

	container, err := rediscontainer.Run(ctx, redisImage)
	if err != nil {
		panic("failed to start Redis container: " + err.Error())
	}

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		_ = testcontainers.TerminateContainer(container)
		panic("failed to get Redis endpoint: " + err.Error())
	}
	sharedEndpoint = endpoint

	code := m.Run()

	if err := testcontainers.TerminateContainer(container); err != nil {
		panic("failed to terminate Redis container: " + err.Error())
	}
	os.Exit(code)
}

func setupStore(t *testing.T) *Store {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: sharedEndpoint})
	if err := client.FlushAll(context.Background()).Err(); err != nil {
		client.Close() //nolint:errcheck
		t.Fatalf("flush redis: %v", err)
	}
	return NewWithClient(client, "integration", "responses")
}

func TestStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	store := setupStore(t)
	defer store.Close()

	test.Storage(t, store)
}
