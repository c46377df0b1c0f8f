package multistore

import (
	"bytes"
	"context"
	"testing"

	"github.com/halvorsen/reqcache/backends/memory"
	"github.com/halvorsen/reqcache/test"
)

func TestNewRequiresTiers(t *testing.T) {
	if _, err := New(); err == nil {
		t.Fatal("expected error with no tiers")
	}
}

func TestNewRejectsNilTier(t *testing.T) {
	if _, err := New(memory.New(), nil); err == nil {
		t.Fatal("expected error with nil tier")
	}
}

func TestNewRejectsDuplicateTier(t *testing.T) {
	tier := memory.New()
	if _, err := New(tier, tier); err == nil {
		t.Fatal("expected error with duplicate tier")
	}
}

func TestStore(t *testing.T) {
	store, err := New(memory.New(), memory.New(), memory.New())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	test.Storage(t, store)
}

func TestReadPromotesToFasterTiers(t *testing.T) {
	ctx := context.Background()
	fast := memory.New()
	slow := memory.New()

	store, err := New(fast, slow)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	value := []byte("value")
	if err := slow.Write(ctx, "key", value); err != nil {
		t.Fatalf("slow.Write() failed: %v", err)
	}

	retrieved, ok, err := store.Read(ctx, "key")
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	if !ok || !bytes.Equal(retrieved, value) {
		t.Fatal("expected to find value via slow tier")
	}

	promoted, ok, err := fast.Read(ctx, "key")
	if err != nil {
		t.Fatalf("fast.Read() failed: %v", err)
	}
	if !ok || !bytes.Equal(promoted, value) {
		t.Error("expected value to be promoted to fast tier")
	}
}

func TestWriteFansOutToAllTiers(t *testing.T) {
	ctx := context.Background()
	tier1 := memory.New()
	tier2 := memory.New()

	store, err := New(tier1, tier2)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	if err := store.Write(ctx, "key", []byte("value")); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}

	for i, tier := range []*memory.Store{tier1, tier2} {
		_, ok, err := tier.Read(ctx, "key")
		if err != nil {
			t.Fatalf("tier %d Read() failed: %v", i, err)
		}
		if !ok {
			t.Errorf("expected tier %d to have the value", i)
		}
	}
}
