package dataaccess

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Jacobbrewer1/warden/pkg/dataaccess/monitoring"
	"github.com/Jacobbrewer1/warden/pkg/logging"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	mongoDalName = "mongo_dal"

	// DefaultMongoDatabase is the database used when none is configured.
	DefaultMongoDatabase = "warden"

	collectionCounters = "counters"
)

type mongoStore struct {
	// l is the logger.
	l *slog.Logger

	// client is the database.
	client *mongo.Client

	// db is the database holding the collections.
	db *mongo.Database

	// now is the clock.
	now func() time.Time
}

// NewMongoStore creates a store over a MongoDB deployment and creates the indexes it relies on.
// Writes use multi document transactions, so the deployment must be a replica set.
func NewMongoStore(ctx context.Context, l *slog.Logger, client *mongo.Client, database string, opts ...Option) (Store, error) {
	if client == nil {
		return nil, errors.New("mongo client is nil")
	}
	if database == "" {
		database = DefaultMongoDatabase
	}

	o := newStoreOptions(opts)

	s := &mongoStore{
		l:      l.With(slog.String(logging.KeyDal, mongoDalName), slog.String("database", database)),
		client: client,
		db:     client.Database(database),
		now:    o.now,
	}

	if err := s.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *mongoStore) ensureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		tableSanctions: {
			{Keys: bson.D{{Key: "guild_id", Value: 1}, {Key: "record_id", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "active", Value: 1}, {Key: "expires_at", Value: 1}}},
			{Keys: bson.D{{Key: "guild_id", Value: 1}, {Key: "subject_id", Value: 1}}},
		},
		tableTickets: {
			{Keys: bson.D{{Key: "guild_id", Value: 1}, {Key: "ticket_id", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "state", Value: 1}, {Key: "end_at", Value: 1}}},
			{
				Keys: bson.D{{Key: "guild_id", Value: 1}, {Key: "subject_id", Value: 1}},
				Options: options.Index().
					SetName("tickets_one_open_per_subject").
					SetUnique(true).
					SetPartialFilterExpression(bson.M{"open": true}),
			},
		},
		tableGuilds: {
			{Keys: bson.D{{Key: "id", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
	}

	for coll, models := range indexes {
		if _, err := s.db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return storageErr("ensure_indexes", fmt.Errorf("error creating %s indexes: %w", coll, err))
		}
	}
	return nil
}

func (s *mongoStore) Ping(ctx context.Context) error {
	done := monitoring.Track("mongo", "ping", "-")
	defer done()

	if err := s.client.Ping(ctx, nil); err != nil {
		monitoring.Failed("mongo", "ping", "-")
		return storageErr("ping", err)
	}
	return nil
}

func (s *mongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// inTx runs fn in a transaction. The driver retries fn on transient transaction errors.
func (s *mongoStore) inTx(ctx context.Context, op string, fn func(sc mongo.SessionContext) error) error {
	session, err := s.client.StartSession()
	if err != nil {
		return storageErr(op, fmt.Errorf("error starting session: %w", err))
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		return nil, fn(sc)
	})
	return err
}

// nextID increments and returns the per guild sequence of the collection.
func (s *mongoStore) nextID(ctx context.Context, coll, guildID string) (int64, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}

	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	err := s.db.Collection(collectionCounters).FindOneAndUpdate(ctx,
		bson.M{"_id": coll + "/" + guildID},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		opts,
	).Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("error incrementing %s counter: %w", coll, err)
	}
	return counter.Seq, nil
}

func (s *mongoStore) track(query, table string, errp *error) func() {
	done := monitoring.Track("mongo", query, table)
	return func() {
		done()
		if errp != nil && IsStorageError(*errp) {
			monitoring.Failed("mongo", query, table)
		}
	}
}
