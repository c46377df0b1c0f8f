//go:build integration

package dynamostore

import (
	"context"
	"fmt"
	"testing"
	"time"

	awssdk "github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/halvorsen/reqcache/test"
)

// setupDynamoDBLocal starts amazon/dynamodb-local, the same in-memory
// emulator AWS ships for CI, and returns a *Store backed by a freshly
// created table.
func setupDynamoDBLocal(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "amazon/dynamodb-local:2.5.2",
		ExposedPorts: []string{"8000/tcp"},
		WaitingFor:   wait.ForListeningPort("8000/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("failed to start DynamoDB Local container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate DynamoDB Local container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "8000/tcp")
	if err != nil {
		t.Fatalf("mapped port: %v", err)
	}
	endpoint := fmt.Sprintf("http://%s:%s", host, port.Port())

	sess, err := session.NewSession(awssdk.NewConfig().
		WithRegion("us-east-1").
		WithEndpoint(endpoint).
		WithCredentials(credentials.NewStaticCredentials("local", "local", "")))
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	svc := dynamodb.New(sess)

	tableName := "reqcache-integration"
	_, err = svc.CreateTableWithContext(ctx, &dynamodb.CreateTableInput{
		TableName: awssdk.String(tableName),
		AttributeDefinitions: []*dynamodb.AttributeDefinition{
			{AttributeName: awssdk.String(partitionKeyAttr), AttributeType: awssdk.String("S")},
		},
		KeySchema: []*dynamodb.KeySchemaElement{
			{AttributeName: awssdk.String(partitionKeyAttr), KeyType: awssdk.String("HASH")},
		},
		BillingMode: awssdk.String("PAY_PER_REQUEST"),
	})
	if err != nil {
		t.Fatalf("create table: %v", err)
	}

	return NewWithClient(svc, tableName)
}

func TestStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	store := setupDynamoDBLocal(t)
	test.Storage(t, store)
}
