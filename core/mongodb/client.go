package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"economy-store/core/document"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// ErrNoDocument is returned by FindOne when no document matches the filter.
var ErrNoDocument = errors.New("mongodb: no matching document")

// Client defines the interface for document store operations. It exists so
// the repository layer can be tested against a mock instead of a live store.
type Client interface {
	// Ping runs a lightweight liveness probe.
	Ping(ctx context.Context) error
	// Disconnect releases the underlying handle.
	Disconnect(ctx context.Context) error
	// Collection returns a handle to a named collection.
	Collection(name string) Collection
}

// Collection is the narrow set of per-collection operations the repository
// layer uses.
type Collection interface {
	// FindOne returns the single document matching filter, or ErrNoDocument.
	FindOne(ctx context.Context, filter bson.M) (document.Document, error)
	// Find returns documents matching filter, optionally sorted and limited.
	Find(ctx context.Context, filter bson.M, sort bson.D, limit int64) ([]document.Document, error)
	// UpdateOne applies update to the document matching filter, upserting
	// when requested. It reports how many documents matched and how many
	// were freshly inserted by the upsert.
	UpdateOne(ctx context.Context, filter bson.M, update bson.M, upsert bool) (matched, upserted int64, err error)
	// InsertOne stores doc.
	InsertOne(ctx context.Context, doc document.Document) error
	// DeleteMany removes all documents matching filter and reports the count.
	DeleteMany(ctx context.Context, filter bson.M) (int64, error)
	// Count returns the number of documents matching filter.
	Count(ctx context.Context, filter bson.M) (int64, error)
}

// Dial establishes a mongo client per cfg and verifies it with a ping. It is
// the production dialer behind Manager; tests substitute their own.
func Dial(ctx context.Context, cfg Config) (Client, error) {
	opts := options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(time.Duration(cfg.ConnectTimeoutMS) * time.Millisecond).
		SetSocketTimeout(time.Duration(cfg.SocketTimeoutMS) * time.Millisecond).
		SetServerSelectionTimeout(time.Duration(cfg.MaxWaitMS) * time.Millisecond)
	if cfg.PoolSize > 0 {
		opts.SetMaxPoolSize(uint64(cfg.PoolSize))
	}

	cli, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", maskURI(cfg.URI), err)
	}

	return &mongoClient{cli: cli, db: cfg.Name}, nil
}

type mongoClient struct {
	cli *mongo.Client
	db  string
}

func (c *mongoClient) Ping(ctx context.Context) error {
	return c.cli.Ping(ctx, readpref.Primary())
}

func (c *mongoClient) Disconnect(ctx context.Context) error {
	return c.cli.Disconnect(ctx)
}

func (c *mongoClient) Collection(name string) Collection {
	return &mongoCollection{col: c.cli.Database(c.db).Collection(name)}
}

type mongoCollection struct {
	col *mongo.Collection
}

func (m *mongoCollection) FindOne(ctx context.Context, filter bson.M) (document.Document, error) {
	var raw bson.M
	err := m.col.FindOne(ctx, filter).Decode(&raw)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNoDocument
		}
		return nil, err
	}
	return document.Document(raw), nil
}

func (m *mongoCollection) Find(ctx context.Context, filter bson.M, sort bson.D, limit int64) ([]document.Document, error) {
	opts := options.Find()
	if len(sort) > 0 {
		opts.SetSort(sort)
	}
	if limit > 0 {
		opts.SetLimit(limit)
	}

	cursor, err := m.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []document.Document
	for cursor.Next(ctx) {
		var raw bson.M
		if err := cursor.Decode(&raw); err != nil {
			return nil, err
		}
		docs = append(docs, document.Document(raw))
	}
	return docs, cursor.Err()
}

func (m *mongoCollection) UpdateOne(ctx context.Context, filter bson.M, update bson.M, upsert bool) (int64, int64, error) {
	res, err := m.col.UpdateOne(ctx, filter, update, options.Update().SetUpsert(upsert))
	if err != nil {
		return 0, 0, err
	}
	return res.MatchedCount, res.UpsertedCount, nil
}

func (m *mongoCollection) InsertOne(ctx context.Context, doc document.Document) error {
	_, err := m.col.InsertOne(ctx, bson.M(doc))
	return err
}

func (m *mongoCollection) DeleteMany(ctx context.Context, filter bson.M) (int64, error) {
	res, err := m.col.DeleteMany(ctx, filter)
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (m *mongoCollection) Count(ctx context.Context, filter bson.M) (int64, error) {
	return m.col.CountDocuments(ctx, filter)
}
