// Package mongo persists the bandwidth ledger and exposes the user count
// maintained by the command surface.
package mongo

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

const (
	bandwidthCollection = "bandwidth"
	usersCollection     = "users"
)

// Store wraps the document database used for persistent counters.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	log    *zap.Logger
}

// Connect establishes the database connection and pings it.
func Connect(ctx context.Context, uri, dbName string, log *zap.Logger) (*Store, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(err, "connect")
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, errors.Wrap(err, "ping")
	}

	return &Store{
		client: client,
		db:     client.Database(dbName),
		log:    log.Named("mongo"),
	}, nil
}

// Close disconnects from the database.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Add increments the byte counter for a month, creating the record on first
// use. Implements domain.LedgerStore.
func (s *Store) Add(ctx context.Context, month string, bytes int64) error {
	now := time.Now().UTC()
	_, err := s.db.Collection(bandwidthCollection).UpdateOne(ctx,
		bson.M{"_id": month},
		bson.M{
			"$inc":         bson.M{"bytes_used": bytes},
			"$set":         bson.M{"last_updated": now},
			"$setOnInsert": bson.M{"created_at": now},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return errors.Wrapf(err, "add bandwidth for %s", month)
	}
	return nil
}

// Get returns the byte counter for a month, 0 when absent. Implements
// domain.LedgerStore.
func (s *Store) Get(ctx context.Context, month string) (int64, error) {
	var record struct {
		BytesUsed int64 `bson:"bytes_used"`
	}
	err := s.db.Collection(bandwidthCollection).
		FindOne(ctx, bson.M{"_id": month}).
		Decode(&record)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrapf(err, "get bandwidth for %s", month)
	}
	return record.BytesUsed, nil
}

// DeleteBefore removes month records older than cutoff, never the current
// month. Implements domain.LedgerStore.
func (s *Store) DeleteBefore(ctx context.Context, cutoff, current string) (int64, error) {
	res, err := s.db.Collection(bandwidthCollection).DeleteMany(ctx, bson.M{
		"_id": bson.M{"$lt": cutoff, "$ne": current},
	})
	if err != nil {
		return 0, errors.Wrap(err, "delete old bandwidth records")
	}
	return res.DeletedCount, nil
}

// Count returns the number of registered users. Implements domain.UserStore.
func (s *Store) Count(ctx context.Context) (int64, error) {
	n, err := s.db.Collection(usersCollection).CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, errors.Wrap(err, "count users")
	}
	return n, nil
}
