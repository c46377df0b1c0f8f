// Package multistore implements reqcache.Storage as a multi-tiered cache
// that cascades through several backends with automatic fallback and
// promotion. Tiers are ordered from fastest/smallest (first) to
// slowest/largest (last); reads search each tier in order and promote
// hits back up to every faster tier, while writes and deletes fan out to
// all tiers so every tier stays consistent.
package multistore

import (
	"context"
	"fmt"

	"github.com/halvorsen/reqcache"
)

// Store cascades reads/writes through an ordered list of tiers.
type Store struct {
	tiers []reqcache.Storage
}

// New creates a Store with the given tiers, ordered fastest/smallest to
// slowest/largest. Returns an error if no tiers are given, any tier is
// nil, or a tier is repeated.
func New(tiers ...reqcache.Storage) (*Store, error) {
	if len(tiers) == 0 {
		return nil, fmt.Errorf("multistore: at least one tier is required")
	}

	seen := make(map[reqcache.Storage]bool, len(tiers))
	for _, tier := range tiers {
		if tier == nil {
			return nil, fmt.Errorf("multistore: tier cannot be nil")
		}
		if seen[tier] {
			return nil, fmt.Errorf("multistore: duplicate tier")
		}
		seen[tier] = true
	}

	return &Store{tiers: tiers}, nil
}

// Read searches each tier in order. A hit in a slower tier is promoted
// (written back) to every faster tier ahead of it; promotion failures are
// logged, not returned, since the read itself already succeeded.
func (s *Store) Read(ctx context.Context, key string) ([]byte, bool, error) {
	for i, tier := range s.tiers {
		value, ok, err := tier.Read(ctx, key)
		if err != nil {
			return nil, false, fmt.Errorf("multistore read %q (tier %d): %w", key, i, err)
		}
		if ok {
			s.promote(ctx, key, value, i)
			return value, true, nil
		}
	}
	return nil, false, nil
}

func (s *Store) promote(ctx context.Context, key string, value []byte, foundAtTier int) {
	for i := 0; i < foundAtTier; i++ {
		if err := s.tiers[i].Write(ctx, key, value); err != nil {
			reqcache.GetLogger().Warn("multistore: tier promotion failed",
				"key", key, "tier", i, "error", err)
		}
	}
}

func (s *Store) Write(ctx context.Context, key string, value []byte) error {
	for i, tier := range s.tiers {
		if err := tier.Write(ctx, key, value); err != nil {
			return fmt.Errorf("multistore write %q (tier %d): %w", key, i, err)
		}
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	for i, tier := range s.tiers {
		if err := tier.Delete(ctx, key); err != nil {
			return fmt.Errorf("multistore delete %q (tier %d): %w", key, i, err)
		}
	}
	return nil
}

// BulkDelete deletes from every tier and reports the count the slowest
// (most authoritative) tier actually removed.
func (s *Store) BulkDelete(ctx context.Context, keys []string) (int, error) {
	n := 0
	for i, tier := range s.tiers {
		count, err := tier.BulkDelete(ctx, keys)
		if err != nil {
			return n, fmt.Errorf("multistore bulk delete (tier %d): %w", i, err)
		}
		if i == len(s.tiers)-1 {
			n = count
		}
	}
	return n, nil
}

// Contains checks each tier in order without promoting.
func (s *Store) Contains(ctx context.Context, key string) (bool, error) {
	for i, tier := range s.tiers {
		ok, err := tier.Contains(ctx, key)
		if err != nil {
			return false, fmt.Errorf("multistore contains %q (tier %d): %w", key, i, err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// lastTier is the slowest, most persistent tier and is treated as the
// authoritative key set for iteration and sizing.
func (s *Store) lastTier() reqcache.Storage {
	return s.tiers[len(s.tiers)-1]
}

func (s *Store) Keys(ctx context.Context, fn func(string) error) error {
	return s.lastTier().Keys(ctx, fn)
}

func (s *Store) Values(ctx context.Context, fn func([]byte) error) error {
	return s.lastTier().Values(ctx, fn)
}

func (s *Store) Size(ctx context.Context) (int, error) {
	return s.lastTier().Size(ctx)
}

func (s *Store) Clear(ctx context.Context) error {
	for i, tier := range s.tiers {
		if err := tier.Clear(ctx); err != nil {
			return fmt.Errorf("multistore clear (tier %d): %w", i, err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	var firstErr error
	for i, tier := range s.tiers {
		if err := tier.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("multistore close (tier %d): %w", i, err)
		}
	}
	return firstErr
}

var _ reqcache.Storage = (*Store)(nil)
