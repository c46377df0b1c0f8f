package freecachestore

import (
	"context"
	"fmt"
	"testing"
)

func BenchmarkStoreWrite(b *testing.B) {
	store := New(100 * 1024 * 1024)
	ctx := context.Background()
	value := []byte("benchmark-value")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		key := fmt.Sprintf("key-%d", i)
		if err := store.Write(ctx, key, value); err != nil {
			b.Fatalf("write failed: %v", err)
		}
	}
}

func BenchmarkStoreRead(b *testing.B) {
	store := New(100 * 1024 * 1024)
	ctx := context.Background()
	value := []byte("benchmark-value")
	if err := store.Write(ctx, "key", value); err != nil {
		b.Fatalf("write failed: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, _, err := store.Read(ctx, "key"); err != nil {
			b.Fatalf("read failed: %v", err)
		}
	}
}
