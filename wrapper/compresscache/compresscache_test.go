package compresscache

import (
	"bytes"
	"compress/gzip"
	"context"
	"strings"
	"testing"

	"github.com/halvorsen/reqcache/backends/memory"
	"github.com/halvorsen/reqcache/test"
)

func TestNewGzip(t *testing.T) {
	tests := []struct {
		name    string
		config  GzipConfig
		wantErr bool
	}{
		{name: "valid config with default level", config: GzipConfig{Store: memory.New()}},
		{name: "valid config with custom level", config: GzipConfig{Store: memory.New(), Level: gzip.BestCompression}},
		{name: "nil store", config: GzipConfig{Store: nil}, wantErr: true},
		{name: "invalid level too high", config: GzipConfig{Store: memory.New(), Level: 100}, wantErr: true},
		{name: "invalid level too low", config: GzipConfig{Store: memory.New(), Level: -10}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := NewGzip(tt.config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewGzip() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && store.algorithm != Gzip {
				t.Errorf("algorithm = %v, want Gzip", store.algorithm)
			}
		})
	}
}

func TestNewBrotli(t *testing.T) {
	tests := []struct {
		name    string
		config  BrotliConfig
		wantErr bool
	}{
		{name: "valid config with default level", config: BrotliConfig{Store: memory.New()}},
		{name: "valid config with custom level", config: BrotliConfig{Store: memory.New(), Level: 11}},
		{name: "nil store", config: BrotliConfig{Store: nil}, wantErr: true},
		{name: "invalid level", config: BrotliConfig{Store: memory.New(), Level: 20}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := NewBrotli(tt.config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewBrotli() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && store.algorithm != Brotli {
				t.Errorf("algorithm = %v, want Brotli", store.algorithm)
			}
		})
	}
}

func TestNewSnappy(t *testing.T) {
	tests := []struct {
		name    string
		config  SnappyConfig
		wantErr bool
	}{
		{name: "valid config", config: SnappyConfig{Store: memory.New()}},
		{name: "nil store", config: SnappyConfig{Store: nil}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := NewSnappy(tt.config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewSnappy() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && store.algorithm != Snappy {
				t.Errorf("algorithm = %v, want Snappy", store.algorithm)
			}
		})
	}
}

func TestGzipStorage(t *testing.T) {
	store, err := NewGzip(GzipConfig{Store: memory.New()})
	if err != nil {
		t.Fatalf("NewGzip() failed: %v", err)
	}
	test.Storage(t, store)
}

func TestBrotliStorage(t *testing.T) {
	store, err := NewBrotli(BrotliConfig{Store: memory.New()})
	if err != nil {
		t.Fatalf("NewBrotli() failed: %v", err)
	}
	test.Storage(t, store)
}

func TestSnappyStorage(t *testing.T) {
	store, err := NewSnappy(SnappyConfig{Store: memory.New()})
	if err != nil {
		t.Fatalf("NewSnappy() failed: %v", err)
	}
	test.Storage(t, store)
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	store, err := NewGzip(GzipConfig{Store: memory.New(), Level: gzip.BestCompression})
	if err != nil {
		t.Fatalf("NewGzip() failed: %v", err)
	}

	for i := 0; i < 5; i++ {
		data := []byte(strings.Repeat("Data entry ", 20))
		if err := store.Write(ctx, string(rune('a'+i)), data); err != nil {
			t.Fatalf("Write() failed: %v", err)
		}
	}

	stats := store.Stats()
	if stats.CompressedCount != 5 {
		t.Errorf("expected 5 compressed entries, got %d", stats.CompressedCount)
	}
	if stats.CompressedBytes >= stats.UncompressedBytes {
		t.Errorf("CompressedBytes (%d) should be less than UncompressedBytes (%d)", stats.CompressedBytes, stats.UncompressedBytes)
	}
	if stats.CompressionRatio >= 1.0 {
		t.Errorf("CompressionRatio should be < 1.0, got %.2f", stats.CompressionRatio)
	}
}

func TestMixedAlgorithms(t *testing.T) {
	ctx := context.Background()
	backing := memory.New()

	gzipStore, _ := NewGzip(GzipConfig{Store: backing})
	gzipData := []byte(strings.Repeat("Gzip data ", 10))
	_ = gzipStore.Write(ctx, "gzip-key", gzipData)

	brotliStore, _ := NewBrotli(BrotliConfig{Store: backing})
	brotliData := []byte(strings.Repeat("Brotli data ", 10))
	_ = brotliStore.Write(ctx, "brotli-key", brotliData)

	snappyStore, _ := NewSnappy(SnappyConfig{Store: backing})
	snappyData := []byte(strings.Repeat("Snappy data ", 10))
	_ = snappyStore.Write(ctx, "snappy-key", snappyData)

	// Each store can read data written by a different algorithm, because
	// the marker byte records which algorithm compressed it.
	retrieved, ok, _ := brotliStore.Read(ctx, "gzip-key")
	if !ok || !bytes.Equal(retrieved, gzipData) {
		t.Error("brotli store failed to read gzip-compressed data")
	}

	retrieved, ok, _ = snappyStore.Read(ctx, "brotli-key")
	if !ok || !bytes.Equal(retrieved, brotliData) {
		t.Error("snappy store failed to read brotli-compressed data")
	}

	retrieved, ok, _ = gzipStore.Read(ctx, "snappy-key")
	if !ok || !bytes.Equal(retrieved, snappyData) {
		t.Error("gzip store failed to read snappy-compressed data")
	}
}

func TestAlgorithmString(t *testing.T) {
	tests := []struct {
		algo Algorithm
		want string
	}{
		{Gzip, "gzip"},
		{Brotli, "brotli"},
		{Snappy, "snappy"},
		{Algorithm(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.algo.String(); got != tt.want {
				t.Errorf("String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCorruptedData(t *testing.T) {
	ctx := context.Background()
	backing := memory.New()
	store, _ := NewGzip(GzipConfig{Store: backing})

	_ = backing.Write(ctx, "corrupted", []byte{byte(Gzip + 1), 0xFF, 0xFF, 0xFF})

	if _, ok, err := store.Read(ctx, "corrupted"); ok || err == nil {
		t.Error("Read() should fail for corrupted data")
	}
}

func TestUncompressedMarker(t *testing.T) {
	ctx := context.Background()
	backing := memory.New()
	store, _ := NewGzip(GzipConfig{Store: backing})

	testData := []byte("uncompressed test data")
	data := make([]byte, len(testData)+1)
	copy(data[1:], testData)
	_ = backing.Write(ctx, "uncompressed", data)

	retrieved, ok, err := store.Read(ctx, "uncompressed")
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	if !ok {
		t.Fatal("Read() should return true for marker-0 data")
	}
	if !bytes.Equal(retrieved, testData) {
		t.Error("retrieved uncompressed data doesn't match original")
	}
}
