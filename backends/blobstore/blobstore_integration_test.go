//go:build integration

package blobstore

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	_ "gocloud.dev/blob/s3blob"

	"github.com/halvorsen/reqcache/test"
)

const (
	minioImage      = "minio/minio:latest"
	minioAccessKey  = "minioadmin"
	minioSecretKey  = "minioadmin"
	minioBucketName = "test-cache"
	minioRegion     = "us-east-1"
)

func setupMinIOContainer(ctx context.Context, t *testing.T) string {
	t.Helper()

	req := testcontainers.ContainerRequest{
		Image:        minioImage,
		ExposedPorts: []string{"9000/tcp"},
		Env: map[string]string{
			"MINIO_ROOT_USER":     minioAccessKey,
			"MINIO_ROOT_PASSWORD": minioSecretKey,
		},
		Cmd: []string{"server", "/data", "--console-address", ":9001"},
		WaitingFor: wait.ForHTTP("/minio/health/live").
			WithPort("9000/tcp").
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Fatalf("failed to start MinIO container: %v", err)
	}
	t.Cleanup(func() {
		_ = testcontainers.TerminateContainer(container)
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "9000")
	if err != nil {
		t.Fatalf("failed to get container port: %v", err)
	}

	endpoint := fmt.Sprintf("%s:%s", host, port.Port())
	time.Sleep(2 * time.Second)
	return endpoint
}

func createS3Bucket(ctx context.Context, t *testing.T, endpoint, bucketName string) {
	t.Helper()

	sess, err := session.NewSession(&aws.Config{
		Credentials:      credentials.NewStaticCredentials(minioAccessKey, minioSecretKey, ""),
		Endpoint:         aws.String(endpoint),
		Region:           aws.String(minioRegion),
		DisableSSL:       aws.Bool(true),
		S3ForcePathStyle: aws.Bool(true),
	})
	if err != nil {
		t.Fatalf("failed to create AWS session: %v", err)
	}

	client := s3.New(sess)
	if _, err := client.CreateBucketWithContext(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucketName)}); err != nil {
		t.Fatalf("failed to create bucket: %v", err)
	}
	if err := client.WaitUntilBucketExistsWithContext(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucketName)}); err != nil {
		t.Fatalf("bucket not available: %v", err)
	}
}

func TestStoreIntegrationMinIO(t *testing.T) {
	ctx := context.Background()

	endpoint := setupMinIOContainer(ctx, t)
	createS3Bucket(ctx, t, endpoint, minioBucketName)

	os.Setenv("AWS_ACCESS_KEY_ID", minioAccessKey)
	os.Setenv("AWS_SECRET_ACCESS_KEY", minioSecretKey)
	defer os.Unsetenv("AWS_ACCESS_KEY_ID")
	defer os.Unsetenv("AWS_SECRET_ACCESS_KEY")

	bucketURL := fmt.Sprintf("s3://%s?endpoint=http://%s&s3ForcePathStyle=true&region=%s", minioBucketName, endpoint, minioRegion)

	store, err := New(ctx, Config{BucketURL: bucketURL, KeyPrefix: "integration-test/", Timeout: 10 * time.Second})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer store.Close()

	test.Storage(t, store)
}
