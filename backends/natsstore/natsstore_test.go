package natsstore

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/halvorsen/reqcache/test"
)

func startNATSServer(t *testing.T) *server.Server {
	t.Helper()
	opts := &server.Options{JetStream: true, Port: -1, Host: "127.0.0.1"}

	ns, err := server.NewServer(opts)
	if err != nil {
		t.Fatalf("failed to create NATS server: %v", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(4 * time.Second) {
		t.Fatal("NATS server did not start in time")
	}
	return ns
}

func setupStore(t *testing.T) (*Store, func()) {
	t.Helper()
	ns := startNATSServer(t)

	nc, err := nats.Connect(ns.ClientURL())
	if err != nil {
		ns.Shutdown()
		t.Fatalf("failed to connect to NATS: %v", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		ns.Shutdown()
		t.Fatalf("failed to create JetStream context: %v", err)
	}

	kv, err := js.CreateKeyValue(context.Background(), jetstream.KeyValueConfig{Bucket: "reqcache-test"})
	if err != nil {
		nc.Close()
		ns.Shutdown()
		t.Fatalf("failed to create K/V bucket: %v", err)
	}

	cleanup := func() {
		nc.Close()
		ns.Shutdown()
	}
	return NewWithKeyValue(kv), cleanup
}

func TestStore(t *testing.T) {
	store, cleanup := setupStore(t)
	defer cleanup()

	test.Storage(t, store)
}

func TestNewRequiresBucket(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatal("expected error with empty bucket name")
	}
}
