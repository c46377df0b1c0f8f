// Package mongostore implements reqcache.Storage on go.mongodb.org/mongo-driver.
// Values are stored inline on the cache document; values larger than
// GridFSThreshold (MongoDB's BSON document limit is 16MB) are instead
// streamed through a GridFS bucket and the document carries a reference.
package mongostore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/halvorsen/reqcache"
)

// gridFSThresholdDefault sits comfortably under Mongo's 16MB document
// limit to leave room for BSON overhead and the rest of cacheEntry.
const gridFSThresholdDefault = 15 * 1024 * 1024

// Config holds the configuration for creating a Store.
type Config struct {
	// URI is the MongoDB connection URI (e.g., "mongodb://localhost:27017").
	// Required field.
	URI string

	// Database is the name of the database to use for caching.
	// Required field.
	Database string

	// Collection is the name of the collection to use for caching.
	// Optional - defaults to "reqcache".
	Collection string

	// KeyPrefix is a prefix to add to all cache keys.
	// Optional - defaults to "cache:".
	KeyPrefix string

	// Timeout is the timeout for database operations.
	// Optional - defaults to 5 seconds.
	Timeout time.Duration

	// TTL is the time-to-live for cache entries.
	// Optional - if set, creates a TTL index on the createdAt field.
	TTL time.Duration

	// GridFSThreshold is the value size above which Write spills to
	// GridFS instead of embedding the value in the document.
	// Optional - defaults to gridFSThresholdDefault.
	GridFSThreshold int

	// ClientOptions are additional options to pass to mongo.Connect.
	// Optional.
	ClientOptions *options.ClientOptions
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Collection: "reqcache",
		KeyPrefix: "cache:",
		Timeout: 5 * time.Second,
		GridFSThreshold: gridFSThresholdDefault,
	}
}

// cacheEntry represents a cache entry in MongoDB. Data and GridFSID are
// mutually exclusive: small values live inline in Data, oversized values
// live in the GridFS bucket referenced by GridFSID.
type cacheEntry struct {
	Key string `bson:"_id"`
	Data []byte `bson:"data,omitempty"`
	GridFSID *primitive.ObjectID `bson:"gridfs_id,omitempty"`
	CreatedAt time.Time `bson:"createdAt"`
}

// Store is a reqcache.Storage backed by a MongoDB collection, with a
// companion GridFS bucket for oversized values.
type Store struct {
	client *mongo.Client
	collection *mongo.Collection
	bucket *gridfs.Bucket
	keyPrefix string
	timeout time.Duration
	threshold int
}

func (s *Store) cacheKey(key string) string {
	return s.keyPrefix + key
}

// New connects to MongoDB per cfg and creates the necessary indexes. The
// caller should call Close() when done to release the connection.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("mongostore: URI is required")
	}
	if cfg.Database == "" {
		return nil, fmt.Errorf("mongostore: database name is required")
	}
	cfg = withDefaults(cfg)

	clientOpts := options.Client().ApplyURI(cfg.URI)
	if cfg.ClientOptions != nil {
		clientOpts = cfg.ClientOptions.ApplyURI(cfg.URI)
	}

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("mongostore: connect: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		if derr := client.Disconnect(ctx); derr != nil {
			reqcache.GetLogger().Warn("failed to disconnect client after ping error", "error", derr)
		}
		return nil, fmt.Errorf("mongostore: ping: %w", err)
	}

	db := client.Database(cfg.Database)
	store, err := newStore(client, db, cfg)
	if err != nil {
		if derr := client.Disconnect(ctx); derr != nil {
			reqcache.GetLogger().Warn("failed to disconnect client after setup error", "error", derr)
		}
		return nil, err
	}

	if cfg.TTL > 0 {
		if err := store.createTTLIndex(ctx, cfg.TTL); err != nil {
			if derr := client.Disconnect(ctx); derr != nil {
				reqcache.GetLogger().Warn("failed to disconnect client after TTL index error", "error", derr)
			}
			return nil, fmt.Errorf("mongostore: TTL index: %w", err)
		}
	}

	return store, nil
}

// NewWithClient wraps an already-connected *mongo.Client. The returned
// Store does not own the client and will not disconnect it on Close.
func NewWithClient(client *mongo.Client, database, collection string, cfg Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("mongostore: client is required")
	}
	if database == "" {
		return nil, fmt.Errorf("mongostore: database name is required")
	}
	if collection != "" {
		cfg.Collection = collection
	}
	cfg = withDefaults(cfg)

	db := client.Database(database)
	store, err := newStore(nil, db, cfg)
	if err != nil {
		return nil, err
	}
	return store, nil
}

func withDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.Collection == "" {
		cfg.Collection = def.Collection
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = def.KeyPrefix
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.GridFSThreshold == 0 {
		cfg.GridFSThreshold = def.GridFSThreshold
	}
	return cfg
}

func newStore(client *mongo.Client, db *mongo.Database, cfg Config) (*Store, error) {
	bucket, err := gridfs.NewBucket(db, options.GridFSBucket().SetName(cfg.Collection+"_fs"))
	if err != nil {
		return nil, fmt.Errorf("mongostore: gridfs bucket: %w", err)
	}
	return &Store{
		client: client,
		collection: db.Collection(cfg.Collection),
		bucket: bucket,
		keyPrefix: cfg.KeyPrefix,
		timeout: cfg.Timeout,
		threshold: cfg.GridFSThreshold,
	}, nil
}

func (s *Store) createTTLIndex(ctx context.Context, ttl time.Duration) error {
	indexModel := mongo.IndexModel{
		Keys: bson.D{{Key: "createdAt", Value: 1}},
		Options: options.Index().
		SetExpireAfterSeconds(int32(ttl.Seconds())).
		SetName("reqcache_ttl"),
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	_, err := s.collection.Indexes().CreateOne(ctx, indexModel)
	return err
}

func (s *Store) Read(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var entry cacheEntry
	err := s.collection.FindOne(ctx, bson.M{"_id": s.cacheKey(key)}).Decode(&entry)
	if err == mongo.ErrNoDocuments {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("mongostore read %s: %w", key, err)
	}

	if entry.GridFSID == nil {
		return entry.Data, true, nil
	}

	var buf []byte
	stream, err := s.bucket.OpenDownloadStream(*entry.GridFSID)
	if err != nil {
		return nil, false, fmt.Errorf("mongostore read %s: gridfs open: %w", key, err)
	}
	defer stream.Close()
	buf, err = io.ReadAll(stream)
	if err != nil {
		return nil, false, fmt.Errorf("mongostore read %s: gridfs download: %w", key, err)
	}
	return buf, true, nil
}

func (s *Store) Write(ctx context.Context, key string, value []byte) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	docKey := s.cacheKey(key)
	prevGridFSID := s.previousGridFSID(ctx, docKey)

	entry := cacheEntry{Key: docKey, CreatedAt: time.Now()}
	if len(value) > s.threshold {
		id, err := s.bucket.UploadFromStream(docKey, bytes.NewReader(value))
		if err != nil {
			return fmt.Errorf("mongostore write %s: gridfs upload: %w", key, err)
		}
		entry.GridFSID = &id
	} else {
		entry.Data = value
	}

	opts := options.Replace().SetUpsert(true)
	if _, err := s.collection.ReplaceOne(ctx, bson.M{"_id": docKey}, entry, opts); err != nil {
		if entry.GridFSID != nil {
			_ = s.bucket.Delete(*entry.GridFSID)
		}
		return fmt.Errorf("mongostore write %s: %w", key, err)
	}

	if prevGridFSID != nil && (entry.GridFSID == nil || *prevGridFSID != *entry.GridFSID) {
		if err := s.bucket.Delete(*prevGridFSID); err != nil {
			reqcache.GetLogger().Warn("failed to delete orphaned gridfs file", "key", key, "error", err)
		}
	}
	return nil
}

func (s *Store) previousGridFSID(ctx context.Context, docKey string) *primitive.ObjectID {
	var prev cacheEntry
	if err := s.collection.FindOne(ctx, bson.M{"_id": docKey}).Decode(&prev); err != nil {
		return nil
	}
	return prev.GridFSID
}

func (s *Store) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	docKey := s.cacheKey(key)
	if gridID := s.previousGridFSID(ctx, docKey); gridID != nil {
		if err := s.bucket.Delete(*gridID); err != nil {
			reqcache.GetLogger().Warn("failed to delete gridfs file", "key", key, "error", err)
		}
	}
	_, err := s.collection.DeleteOne(ctx, bson.M{"_id": docKey})
	if err != nil {
		return fmt.Errorf("mongostore delete %s: %w", key, err)
	}
	return nil
}

func (s *Store) BulkDelete(ctx context.Context, keys []string) (int, error) {
	n := 0
	for _, k := range keys {
		before, _ := s.Contains(ctx, k)
		if err := s.Delete(ctx, k); err != nil {
			return n, err
		}
		if before {
			n++
		}
	}
	return n, nil
}

func (s *Store) Contains(ctx context.Context, key string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	count, err := s.collection.CountDocuments(ctx, bson.M{"_id": s.cacheKey(key)})
	if err != nil {
		return false, fmt.Errorf("mongostore contains %s: %w", key, err)
	}
	return count > 0, nil
}

func (s *Store) Keys(ctx context.Context, fn func(string) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	cur, err := s.collection.Find(ctx, bson.M{}, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return fmt.Errorf("mongostore keys: %w", err)
	}
	defer cur.Close(ctx)
	for cur.Next(ctx) {
		var doc struct {
			ID string `bson:"_id"`
		}
		if err := cur.Decode(&doc); err != nil {
			return fmt.Errorf("mongostore keys: decode: %w", err)
		}
		if err := fn(doc.ID[len(s.keyPrefix):]); err != nil {
			return err
		}
	}
	return cur.Err()
}

func (s *Store) Values(ctx context.Context, fn func([]byte) error) error {
	var keys []string
	if err := s.Keys(ctx, func(k string) error { keys = append(keys, k); return nil }); err != nil {
		return err
	}
	for _, k := range keys {
		val, ok, err := s.Read(ctx, k)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := fn(val); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Size(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	count, err := s.collection.CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("mongostore size: %w", err)
	}
	return int(count), nil
}

func (s *Store) Clear(ctx context.Context) error {
	var keys []string
	if err := s.Keys(ctx, func(k string) error { keys = append(keys, k); return nil }); err != nil {
		return err
	}
	for _, k := range keys {
		if err := s.Delete(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

// Close disconnects the MongoDB client if this Store owns it (i.e. it was
// created via New rather than NewWithClient).
func (s *Store) Close() error {
	if s.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}

var _ reqcache.Storage = (*Store)(nil)
