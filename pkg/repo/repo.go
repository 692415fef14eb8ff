// Package repo defines a generic typed document collection with a MongoDB
// implementation and an in-memory one that follows the same filter and update
// semantics.
package repo

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
)

// ErrNotFound is returned by FindOne when no document matches.
var ErrNotFound = errors.New("repo: not found")

// Filter is an equality filter. Keys may be dotted paths into sub-documents.
type Filter = bson.M

// Update holds the two operators the ingestion code uses. Fields in Set are
// written on every match; fields in SetOnInsert only when the upsert creates
// the document.
type Update struct {
	Set         bson.M
	SetOnInsert bson.M
}

// Doc renders the update as a driver update document.
func (u Update) Doc() bson.M {
	doc := bson.M{}
	if len(u.Set) > 0 {
		doc["$set"] = u.Set
	}
	if len(u.SetOnInsert) > 0 {
		doc["$setOnInsert"] = u.SetOnInsert
	}
	return doc
}

// UpsertOp is one element of a bulk upsert: update the document matching
// Filter or create it.
type UpsertOp struct {
	Filter Filter
	Update Update
}

// BulkResult summarises a BulkUpsert call.
type BulkResult struct {
	Matched  int64
	Modified int64
	Upserted int64
}

// Collection is the persistence surface used by the crawler and the sync
// pipeline. Every dedup decision is one of these calls.
type Collection[T any] interface {
	FindOne(ctx context.Context, filter Filter) (T, error)
	Find(ctx context.Context, filter Filter) ([]T, error)
	Exists(ctx context.Context, filter Filter) (bool, error)
	InsertOne(ctx context.Context, doc T) error
	InsertMany(ctx context.Context, docs []T) error
	UpdateOne(ctx context.Context, filter Filter, update Update) error
	BulkUpsert(ctx context.Context, ops []UpsertOp) (BulkResult, error)
}
