//go:build integration

package hazelcaststore

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/hazelcast/hazelcast-go-client"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/halvorsen/reqcache/test"
)

const hazelcastImage = "hazelcast/hazelcast:5.6"

var sharedEndpoint string

func TestMain(m *testing.M) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        hazelcastImage,
		ExposedPorts: []string{"5701/tcp"},
		Env:          map[string]string{"HZ_NETWORK_PUBLICADDRESS": "127.0.0.1:5701"},
		WaitingFor:   wait.ForLog("is STARTED").WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		panic("failed to start Hazelcast container: " + err.Error())
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = testcontainers.TerminateContainer(container)
		panic("failed to get Hazelcast host: " + err.Error())
	}
	port, err := container.MappedPort(ctx, "5701")
	if err != nil {
		_ = testcontainers.TerminateContainer(container)
		panic("failed to get Hazelcast port: " + err.Error())
	}
	sharedEndpoint = fmt.Sprintf("%s:%s", host, port.Port())
	time.Sleep(5 * time.Second)

	code := m.Run()

	if err := testcontainers.TerminateContainer(container); err != nil {
		panic("failed to terminate Hazelcast container: " + err.Error())
	}
	os.Exit(code)
}

func setupStore(t *testing.T) (*Store, func()) {
	t.Helper()
	ctx := context.Background()

	config := hazelcast.Config{}
	config.Cluster.Network.SetAddresses(sharedEndpoint)
	config.Cluster.Unisocket = true

	client, err := hazelcast.StartNewClientWithConfig(ctx, config)
	if err != nil {
		t.Fatalf("failed to connect to Hazelcast: %v", err)
	}

	m, err := client.GetMap(ctx, "reqcache-test")
	if err != nil {
		t.Fatalf("failed to get Hazelcast map: %v", err)
	}
	if err := m.Clear(ctx); err != nil {
		t.Fatalf("failed to clear Hazelcast map: %v", err)
	}

	cleanup := func() {
		clearCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = m.Clear(clearCtx)
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = client.Shutdown(shutdownCtx)
		shutdownCancel()
	}

	return NewWithMap(m), cleanup
}

func TestStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	store, cleanup := setupStore(t)
	defer cleanup()

	test.Storage(t, store)
}
