package multistore

import (
	"context"
	"testing"

	"github.com/halvorsen/reqcache/backends/memory"
)

func BenchmarkStoreWrite(b *testing.B) {
	store, _ := New(memory.New(), memory.New(), memory.New())
	ctx := context.Background()
	value := []byte("benchmark-value")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = store.Write(ctx, "key", value)
	}
}

func BenchmarkStoreReadPromoted(b *testing.B) {
	store, _ := New(memory.New(), memory.New(), memory.New())
	ctx := context.Background()
	_ = store.Write(ctx, "key", []byte("benchmark-value"))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = store.Read(ctx, "key")
	}
}
