package ratelimiter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// mongoRecord is the document layout of a bucket record. The owner id is
// the document _id, so uniqueness comes from the collection's primary index.
type mongoRecord struct {
	OwnerID    string    `bson:"_id"`
	Tokens     int       `bson:"tokens"`
	Capacity   int       `bson:"capacity"`
	LastRefill time.Time `bson:"last_refill"`
	Version    int64     `bson:"version"`
}

// MongoStore implements Store on a MongoDB collection with document-level
// optimistic concurrency via a version field.
type MongoStore struct {
	col *mongo.Collection
}

// MongoStoreOption configures a MongoStore.
type MongoStoreOption func(*mongoStoreOptions)

type mongoStoreOptions struct {
	collection string
}

// WithMongoCollection overrides the collection name
// (default "rate_limit_buckets").
func WithMongoCollection(name string) MongoStoreOption {
	return func(o *mongoStoreOptions) {
		if name != "" {
			o.collection = name
		}
	}
}

// NewMongoStore creates a MongoDB-backed store using an established
// database handle.
func NewMongoStore(db *mongo.Database, opts ...MongoStoreOption) (*MongoStore, error) {
	if db == nil {
		return nil, fmt.Errorf("%w: mongo database is required", ErrInvalidConfig)
	}

	o := &mongoStoreOptions{collection: "rate_limit_buckets"}
	for _, opt := range opts {
		opt(o)
	}

	return &MongoStore{col: db.Collection(o.collection)}, nil
}

// GetByOwner returns the owner's record or ErrRecordNotFound.
func (ms *MongoStore) GetByOwner(ctx context.Context, ownerID string) (Record, error) {
	var doc mongoRecord
	err := ms.col.FindOne(ctx, bson.M{"_id": ownerID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Record{}, ErrRecordNotFound
		}
		return Record{}, fmt.Errorf("mongo find: %w", err)
	}

	return Record{
		OwnerID:    doc.OwnerID,
		Tokens:     doc.Tokens,
		Capacity:   doc.Capacity,
		LastRefill: doc.LastRefill,
		Version:    doc.Version,
	}, nil
}

// Insert persists a new record; the _id primary index turns a concurrent
// first-request race into ErrRecordConflict.
func (ms *MongoStore) Insert(ctx context.Context, rec Record) (Record, error) {
	rec.Version = 1

	_, err := ms.col.InsertOne(ctx, mongoRecord{
		OwnerID:    rec.OwnerID,
		Tokens:     rec.Tokens,
		Capacity:   rec.Capacity,
		LastRefill: rec.LastRefill,
		Version:    rec.Version,
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return Record{}, ErrRecordConflict
		}
		return Record{}, fmt.Errorf("mongo insert: %w", err)
	}

	return rec, nil
}

// Update overwrites the mutable fields only when the stored version still
// matches the caller's read.
func (ms *MongoStore) Update(ctx context.Context, ownerID string, tokens int, lastRefill time.Time, expectedVersion int64) error {
	res, err := ms.col.UpdateOne(ctx,
		bson.M{"_id": ownerID, "version": expectedVersion},
		bson.M{
			"$set": bson.M{"tokens": tokens, "last_refill": lastRefill},
			"$inc": bson.M{"version": int64(1)},
		})
	if err != nil {
		return fmt.Errorf("mongo update: %w", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}

	// No match means either a concurrent modification or a missing
	// document; disambiguate so the caller can re-run get-or-create.
	count, err := ms.col.CountDocuments(ctx, bson.M{"_id": ownerID})
	if err != nil {
		return fmt.Errorf("mongo update existence check: %w", err)
	}
	if count == 0 {
		return ErrRecordNotFound
	}

	return ErrRecordConflict
}

// UpsertFull creates or overwrites the owner's record at full capacity,
// bumping the version so concurrent conditional updates lose to the reset.
func (ms *MongoStore) UpsertFull(ctx context.Context, ownerID string, capacity int, now time.Time) (Record, error) {
	_, err := ms.col.UpdateOne(ctx,
		bson.M{"_id": ownerID},
		bson.M{
			"$set": bson.M{"tokens": capacity, "capacity": capacity, "last_refill": now},
			"$inc": bson.M{"version": int64(1)},
		},
		options.UpdateOne().SetUpsert(true))
	if err != nil {
		return Record{}, fmt.Errorf("mongo upsert: %w", err)
	}

	return ms.GetByOwner(ctx, ownerID)
}

// Healthcheck verifies MongoDB connectivity with a ping.
func (ms *MongoStore) Healthcheck(ctx context.Context) error {
	if err := ms.col.Database().Client().Ping(ctx, nil); err != nil {
		return fmt.Errorf("mongo healthcheck: %w", err)
	}
	return nil
}

var _ Store = (*MongoStore)(nil)
