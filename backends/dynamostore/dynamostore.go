// Package dynamostore implements reqcache.Storage on aws-sdk-go's DynamoDB
// client. cache_name becomes the table name. DynamoDB caps item size
// at 400KB; items that would exceed that cap are skipped with
// reqcache.ErrOversizedItem rather than failing the write.
package dynamostore

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"

	"github.com/halvorsen/reqcache"
)

// maxItemBytes leaves headroom under DynamoDB's 400KB item limit for the
// partition key attribute and protocol overhead.
const maxItemBytes = 390 * 1024

const partitionKeyAttr = "cache_key"
const valueAttr = "value"

// Config configures a Store's DynamoDB session.
type Config struct {
	// Region is the AWS region to connect to. Required unless Endpoint
	// is set to a local/test endpoint that doesn't need one.
	Region string

	// TableName is the DynamoDB table used for cache entries. Required.
	// The table's partition key must be a string attribute named
	// "cache_key".
	TableName string

	// Endpoint overrides the DynamoDB endpoint, for local testing
	// (e.g. DynamoDB Local or a testcontainers instance).
	Endpoint string
}

// Store is a reqcache.Storage backed by a single DynamoDB table.
type Store struct {
	svc *dynamodb.DynamoDB
	tableName string
}

type item struct {
	Key string `dynamodbav:"cache_key"`
	Value []byte `dynamodbav:"value"`
}

// New creates a Store, establishing an AWS session per cfg.
func New(cfg Config) (*Store, error) {
	if cfg.TableName == "" {
		return nil, fmt.Errorf("dynamostore: table name is required")
	}

	awsCfg := aws.NewConfig()
	if cfg.Region != "" {
		awsCfg = awsCfg.WithRegion(cfg.Region)
	}
	if cfg.Endpoint != "" {
		awsCfg = awsCfg.WithEndpoint(cfg.Endpoint)
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("dynamostore: session: %w", err)
	}

	return NewWithClient(dynamodb.New(sess), cfg.TableName), nil
}

// NewWithClient wraps an already-configured *dynamodb.DynamoDB.
func NewWithClient(svc *dynamodb.DynamoDB, tableName string) *Store {
	return &Store{svc: svc, tableName: tableName}
}

func (s *Store) Read(ctx context.Context, key string) ([]byte, bool, error) {
	out, err := s.svc.GetItemWithContext(ctx, &dynamodb.GetItemInput{
			TableName: aws.String(s.tableName),
			Key: map[string]*dynamodb.AttributeValue{
				partitionKeyAttr: {S: aws.String(key)},
			},
	})
	if err != nil {
		return nil, false, fmt.Errorf("dynamostore read %s: %w", key, err)
	}
	if out.Item == nil {
		return nil, false, nil
	}

	var it item
	if err := dynamodbattribute.UnmarshalMap(out.Item, &it); err != nil {
		return nil, false, fmt.Errorf("dynamostore read %s: unmarshal: %w", key, err)
	}
	return it.Value, true, nil
}

// Write stores value under key. Values that would push the item past
// DynamoDB's 400KB limit are skipped (not an error) and reported via
// reqcache.ErrOversizedItem, per /.
func (s *Store) Write(ctx context.Context, key string, value []byte) error {
	if len(key)+len(value) > maxItemBytes {
		reqcache.GetLogger().Warn("dynamostore: skipping oversized item", "key", key, "size", len(value))
		return reqcache.ErrOversizedItem
	}

	av, err := dynamodbattribute.MarshalMap(item{Key: key, Value: value})
	if err != nil {
		return fmt.Errorf("dynamostore write %s: marshal: %w", key, err)
	}
	_, err = s.svc.PutItemWithContext(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(s.tableName),
			Item: av,
	})
	if err != nil {
		return fmt.Errorf("dynamostore write %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.svc.DeleteItemWithContext(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(s.tableName),
			Key: map[string]*dynamodb.AttributeValue{
				partitionKeyAttr: {S: aws.String(key)},
			},
	})
	if err != nil {
		return fmt.Errorf("dynamostore delete %s: %w", key, err)
	}
	return nil
}

// BulkDelete deletes keys in DynamoDB BatchWriteItem batches of 25, the
// service's per-request limit. The returned count is the number of delete
// requests DynamoDB processed; it includes keys that were not present.
func (s *Store) BulkDelete(ctx context.Context, keys []string) (int, error) {
	const batchSize = 25
	deleted := 0
	for i := 0; i < len(keys); i += batchSize {
		end := i + batchSize
		if end > len(keys) {
			end = len(keys)
		}
		batch := keys[i:end]

		reqs := make([]*dynamodb.WriteRequest, len(batch))
		for j, k := range batch {
			reqs[j] = &dynamodb.WriteRequest{
				DeleteRequest: &dynamodb.DeleteRequest{
					Key: map[string]*dynamodb.AttributeValue{
						partitionKeyAttr: {S: aws.String(k)},
					},
				},
			}
		}

		out, err := s.svc.BatchWriteItemWithContext(ctx, &dynamodb.BatchWriteItemInput{
				RequestItems: map[string][]*dynamodb.WriteRequest{s.tableName: reqs},
		})
		if err != nil {
			return deleted, fmt.Errorf("dynamostore bulk delete: %w", err)
		}
		deleted += len(batch) - len(out.UnprocessedItems[s.tableName])
	}
	return deleted, nil
}

func (s *Store) Contains(ctx context.Context, key string) (bool, error) {
	out, err := s.svc.GetItemWithContext(ctx, &dynamodb.GetItemInput{
			TableName: aws.String(s.tableName),
			Key: map[string]*dynamodb.AttributeValue{partitionKeyAttr: {S: aws.String(key)}},
			ProjectionExpression: aws.String(partitionKeyAttr),
	})
	if err != nil {
		return false, fmt.Errorf("dynamostore contains %s: %w", key, err)
	}
	return out.Item != nil, nil
}

func (s *Store) scan(ctx context.Context, projection string, fn func(map[string]*dynamodb.AttributeValue) error) error {
	input := &dynamodb.ScanInput{TableName: aws.String(s.tableName)}
	if projection != "" {
		input.ProjectionExpression = aws.String(projection)
	}
	for {
		out, err := s.svc.ScanWithContext(ctx, input)
		if err != nil {
			return fmt.Errorf("dynamostore scan: %w", err)
		}
		for _, it := range out.Items {
			if err := fn(it); err != nil {
				return err
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			return nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func (s *Store) Keys(ctx context.Context, fn func(string) error) error {
	return s.scan(ctx, partitionKeyAttr, func(av map[string]*dynamodb.AttributeValue) error {
			if av[partitionKeyAttr] == nil || av[partitionKeyAttr].S == nil {
				return nil
			}
			return fn(*av[partitionKeyAttr].S)
	})
}

func (s *Store) Values(ctx context.Context, fn func([]byte) error) error {
	return s.scan(ctx, "", func(av map[string]*dynamodb.AttributeValue) error {
			var it item
			if err := dynamodbattribute.UnmarshalMap(av, &it); err != nil {
				return fmt.Errorf("dynamostore values: unmarshal: %w", err)
			}
			return fn(it.Value)
	})
}

func (s *Store) Size(ctx context.Context) (int, error) {
	n := 0
	err := s.scan(ctx, partitionKeyAttr, func(map[string]*dynamodb.AttributeValue) error { n++; return nil })
	return n, err
}

func (s *Store) Clear(ctx context.Context) error {
	var keys []string
	if err := s.Keys(ctx, func(k string) error { keys = append(keys, k); return nil }); err != nil {
		return err
	}
	_, err := s.BulkDelete(ctx, keys)
	return err
}

func (s *Store) Close() error {
	return nil
}

var _ reqcache.Storage = (*Store)(nil)
