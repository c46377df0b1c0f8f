// Package test provides a reusable conformance suite for reqcache.Storage
// implementations, exercised by every backend package's own tests.
package test

import (
	"bytes"
	"context"
	"testing"

	"github.com/halvorsen/reqcache"
)

// Storage exercises a reqcache.Storage implementation against the full
// contract: basic CRUD, idempotent delete, bulk delete, contains,
// iteration, and size.
func Storage(t *testing.T, storage reqcache.Storage) {
	t.Helper()
	ctx := context.Background()
	key := "testKey"

	_, ok, err := storage.Read(ctx, key)
	if err != nil {
		t.Fatalf("error reading key: %v", err)
	}
	if ok {
		t.Fatal("retrieved key before adding it")
	}

	val := []byte("some bytes")
	if err := storage.Write(ctx, key, val); err != nil {
		t.Fatalf("error writing key: %v", err)
	}

	retVal, ok, err := storage.Read(ctx, key)
	if err != nil {
		t.Fatalf("error reading key: %v", err)
	}
	if !ok {
		t.Fatal("could not retrieve an element we just added")
	}
	if !bytes.Equal(retVal, val) {
		t.Fatal("retrieved a different value than what we put in")
	}

	if has, err := storage.Contains(ctx, key); err != nil || !has {
		t.Fatalf("Contains(%q) = %v, %v; want true, nil", key, has, err)
	}

	if err := storage.Write(ctx, key, []byte("overwritten")); err != nil {
		t.Fatalf("error overwriting key: %v", err)
	}
	retVal, _, _ = storage.Read(ctx, key)
	if string(retVal) != "overwritten" {
		t.Fatalf("Write did not overwrite existing value, got %q", retVal)
	}

	if err := storage.Delete(ctx, key); err != nil {
		t.Fatalf("error deleting key: %v", err)
	}

	_, ok, err = storage.Read(ctx, key)
	if err != nil {
		t.Fatalf("error reading key: %v", err)
	}
	if ok {
		t.Fatal("deleted key still present")
	}

	// Idempotent delete: deleting an absent key must not error.
	if err := storage.Delete(ctx, key); err != nil {
		t.Fatalf("delete of absent key returned error: %v", err)
	}

	seedAndVerifyIteration(t, storage)
}

func seedAndVerifyIteration(t *testing.T, storage reqcache.Storage) {
	t.Helper()
	ctx := context.Background()
	want := map[string][]byte{
		"a": []byte("1"),
		"b": []byte("2"),
		"c": []byte("3"),
	}
	for k, v := range want {
		if err := storage.Write(ctx, k, v); err != nil {
			t.Fatalf("seed write %s: %v", k, err)
		}
	}

	n, err := storage.Size(ctx)
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if n < len(want) {
		t.Fatalf("Size = %d, want at least %d", n, len(want))
	}

	seen := map[string]bool{}
	if err := storage.Keys(ctx, func(k string) error {
			seen[k] = true
			return nil
	}); err != nil {
		t.Fatalf("Keys: %v", err)
	}
	for k := range want {
		if !seen[k] {
			t.Fatalf("Keys() did not yield seeded key %q", k)
		}
	}

	removed, err := storage.BulkDelete(ctx, []string{"a", "b", "nonexistent"})
	if err != nil {
		t.Fatalf("BulkDelete: %v", err)
	}
	if removed < 1 {
		t.Fatalf("BulkDelete removed = %d, want at least 1", removed)
	}
	for _, k := range []string{"a", "b"} {
		if has, _ := storage.Contains(ctx, k); has {
			t.Fatalf("key %q still present after BulkDelete", k)
		}
	}

	if err := storage.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	n, err = storage.Size(ctx)
	if err != nil {
		t.Fatalf("Size after Clear: %v", err)
	}
	if n != 0 {
		t.Fatalf("Size after Clear = %d, want 0", n)
	}
}
