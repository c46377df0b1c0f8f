package leveldbstore

import (
	"os"
	"testing"

	"github.com/halvorsen/reqcache/test"
)

func TestStore(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "reqcache-leveldb")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	defer os.RemoveAll(tempDir)

	store, err := New(tempDir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer store.Close()

	test.Storage(t, store)
}
