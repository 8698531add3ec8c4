package mocks

import (
	"context"

	"economy-store/core/document"
	"economy-store/core/mongodb"

	"github.com/stretchr/testify/mock"
	"go.mongodb.org/mongo-driver/bson"
)

// Client is a mock implementation of mongodb.Client
type Client struct {
	mock.Mock
}

func (m *Client) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *Client) Disconnect(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *Client) Collection(name string) mongodb.Collection {
	args := m.Called(name)
	if col, ok := args.Get(0).(mongodb.Collection); ok {
		return col
	}
	return nil
}

// Collection is a mock implementation of mongodb.Collection
type Collection struct {
	mock.Mock
}

func (m *Collection) FindOne(ctx context.Context, filter bson.M) (document.Document, error) {
	args := m.Called(ctx, filter)
	if doc, ok := args.Get(0).(document.Document); ok {
		return doc, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *Collection) Find(ctx context.Context, filter bson.M, sort bson.D, limit int64) ([]document.Document, error) {
	args := m.Called(ctx, filter, sort, limit)
	if docs, ok := args.Get(0).([]document.Document); ok {
		return docs, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *Collection) UpdateOne(ctx context.Context, filter bson.M, update bson.M, upsert bool) (int64, int64, error) {
	args := m.Called(ctx, filter, update, upsert)
	return args.Get(0).(int64), args.Get(1).(int64), args.Error(2)
}

func (m *Collection) InsertOne(ctx context.Context, doc document.Document) error {
	args := m.Called(ctx, doc)
	return args.Error(0)
}

func (m *Collection) DeleteMany(ctx context.Context, filter bson.M) (int64, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).(int64), args.Error(1)
}

func (m *Collection) Count(ctx context.Context, filter bson.M) (int64, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).(int64), args.Error(1)
}
