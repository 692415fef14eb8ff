package repo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Mongo is a Collection backed by a MongoDB collection.
type Mongo[T any] struct {
	coll *mongo.Collection
}

// NewMongo wraps coll.
func NewMongo[T any](coll *mongo.Collection) *Mongo[T] {
	return &Mongo[T]{coll: coll}
}

var _ Collection[struct{}] = (*Mongo[struct{}])(nil)

// Name returns the underlying collection name.
func (m *Mongo[T]) Name() string { return m.coll.Name() }

func (m *Mongo[T]) FindOne(ctx context.Context, filter Filter) (T, error) {
	var doc T
	err := m.coll.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return doc, ErrNotFound
	}
	if err != nil {
		return doc, fmt.Errorf("repo: %s: find one: %w", m.coll.Name(), err)
	}
	return doc, nil
}

func (m *Mongo[T]) Find(ctx context.Context, filter Filter) ([]T, error) {
	if filter == nil {
		filter = Filter{}
	}
	cur, err := m.coll.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("repo: %s: find: %w", m.coll.Name(), err)
	}
	var docs []T
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("repo: %s: decode: %w", m.coll.Name(), err)
	}
	return docs, nil
}

func (m *Mongo[T]) Exists(ctx context.Context, filter Filter) (bool, error) {
	n, err := m.coll.CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("repo: %s: count: %w", m.coll.Name(), err)
	}
	return n > 0, nil
}

func (m *Mongo[T]) InsertOne(ctx context.Context, doc T) error {
	if _, err := m.coll.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("repo: %s: insert: %w", m.coll.Name(), err)
	}
	return nil
}

func (m *Mongo[T]) InsertMany(ctx context.Context, docs []T) error {
	if len(docs) == 0 {
		return nil
	}
	batch := make([]any, len(docs))
	for i, d := range docs {
		batch[i] = d
	}
	if _, err := m.coll.InsertMany(ctx, batch); err != nil {
		return fmt.Errorf("repo: %s: insert many: %w", m.coll.Name(), err)
	}
	return nil
}

func (m *Mongo[T]) UpdateOne(ctx context.Context, filter Filter, update Update) error {
	if _, err := m.coll.UpdateOne(ctx, filter, update.Doc()); err != nil {
		return fmt.Errorf("repo: %s: update: %w", m.coll.Name(), err)
	}
	return nil
}

func (m *Mongo[T]) BulkUpsert(ctx context.Context, ops []UpsertOp) (BulkResult, error) {
	if len(ops) == 0 {
		return BulkResult{}, nil
	}
	models := make([]mongo.WriteModel, len(ops))
	for i, op := range ops {
		models[i] = mongo.NewUpdateOneModel().
			SetFilter(op.Filter).
			SetUpdate(op.Update.Doc()).
			SetUpsert(true)
	}
	res, err := m.coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return BulkResult{}, fmt.Errorf("repo: %s: bulk write: %w", m.coll.Name(), err)
	}
	return BulkResult{
		Matched:  res.MatchedCount,
		Modified: res.ModifiedCount,
		Upserted: res.UpsertedCount,
	}, nil
}
