//go:build integration

package mongostore

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go/modules/mongodb"

	"github.com/halvorsen/reqcache/test"
)

func setupMongoContainer(t *testing.T) (string, func()) {
	t.Helper()
	ctx := context.Background()

	container, err := mongodb.Run(ctx, "mongo:8")
	if err != nil {
		t.Fatalf("failed to start MongoDB container: %v", err)
	}

	uri, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}

	cleanup := func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate MongoDB container: %v", err)
		}
	}
	return uri, cleanup
}

func TestStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	uri, cleanup := setupMongoContainer(t)
	defer cleanup()

	ctx := context.Background()
	store, err := New(ctx, Config{
		URI:        uri,
		Database:   "reqcache_test",
		Collection: "responses",
		Timeout:    10 * time.Second,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer store.Close()

	test.Storage(t, store)
}

func TestStoreIntegrationGridFSSpill(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	uri, cleanup := setupMongoContainer(t)
	defer cleanup()

	ctx := context.Background()
	store, err := New(ctx, Config{
		URI:             uri,
		Database:        "reqcache_test",
		Collection:      "gridfs_spill",
		Timeout:         10 * time.Second,
		GridFSThreshold: 16,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer store.Close()

	big := make([]byte, 1024)
	for i := range big {
		big[i] = byte(i % 256)
	}

	if err := store.Write(ctx, "big", big); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, ok, err := store.Read(ctx, "big")
	if err != nil || !ok {
		t.Fatalf("Read: ok=%v err=%v", ok, err)
	}
	if string(got) != string(big) {
		t.Fatal("gridfs round trip mismatch")
	}

	// Overwriting with a small value must release the old gridfs file.
	if err := store.Write(ctx, "big", []byte("small")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, ok, err = store.Read(ctx, "big")
	if err != nil || !ok || string(got) != "small" {
		t.Fatalf("overwrite read mismatch: %q ok=%v err=%v", got, ok, err)
	}

	if err := store.Delete(ctx, "big"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
}
