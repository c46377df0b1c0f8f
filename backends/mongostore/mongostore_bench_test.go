package mongostore

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"
)

func setupBenchmarkStore(b *testing.B) (*Store, func()) {
	b.Helper()

	uri := os.Getenv("MONGODB_TEST_URI")
	if uri == "" {
		uri = "mongodb://localhost:27017"
	}

	ctx := context.Background()
	store, err := New(ctx, Config{
		URI:        uri,
		Database:   "reqcache_bench",
		Collection: "responses_bench",
		Timeout:    10 * time.Second,
	})
	if err != nil {
		b.Skipf("MongoDB unavailable: %v", err)
	}

	cleanup := func() {
		if err := store.Close(); err != nil {
			b.Logf("failed to close store: %v", err)
		}
	}
	return store, cleanup
}

func BenchmarkStoreWrite(b *testing.B) {
	store, cleanup := setupBenchmarkStore(b)
	defer cleanup()
	ctx := context.Background()
	data := []byte("benchmark data for write operation")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = store.Write(ctx, fmt.Sprintf("bench-write-%d", i), data)
	}
}

func BenchmarkStoreRead(b *testing.B) {
	store, cleanup := setupBenchmarkStore(b)
	defer cleanup()
	ctx := context.Background()
	data := []byte("benchmark data for read operation")
	for i := 0; i < 100; i++ {
		_ = store.Write(ctx, fmt.Sprintf("bench-read-%d", i), data)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = store.Read(ctx, fmt.Sprintf("bench-read-%d", i%100))
	}
}

func BenchmarkStoreReadMiss(b *testing.B) {
	store, cleanup := setupBenchmarkStore(b)
	defer cleanup()
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = store.Read(ctx, fmt.Sprintf("bench-miss-%d", i))
	}
}

func BenchmarkStoreWriteParallel(b *testing.B) {
	store, cleanup := setupBenchmarkStore(b)
	defer cleanup()
	ctx := context.Background()
	data := []byte("benchmark data for parallel write")

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			_ = store.Write(ctx, fmt.Sprintf("bench-parallel-write-%d", i), data)
			i++
		}
	})
}

func BenchmarkStoreLargeValue(b *testing.B) {
	store, cleanup := setupBenchmarkStore(b)
	defer cleanup()
	ctx := context.Background()

	data := make([]byte, 10*1024)
	for i := range data {
		data[i] = byte(i % 256)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = store.Write(ctx, fmt.Sprintf("bench-large-%d", i), data)
	}
}
