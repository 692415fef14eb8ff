package store

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// IndexSpec is the index set for one collection.
type IndexSpec struct {
	Collection string
	Models     []mongo.IndexModel
}

// Indexes returns the natural-key indexes. The unique ones back the dedup
// rules; the chunk index serves the already-embedded check.
func Indexes(names Names) []IndexSpec {
	names = names.withDefaults()
	unique := options.Index().SetUnique(true)
	return []IndexSpec{
		{names.Stories, []mongo.IndexModel{
			{Keys: bson.D{{Key: "title", Value: 1}}, Options: unique},
		}},
		{names.Chapters, []mongo.IndexModel{
			{Keys: bson.D{{Key: "url", Value: 1}}, Options: unique},
			{Keys: bson.D{{Key: "story_id", Value: 1}}},
		}},
		{names.Comments, []mongo.IndexModel{
			{Keys: bson.D{{Key: "chapter_id", Value: 1}, {Key: "user", Value: 1}, {Key: "comment_date", Value: 1}}, Options: unique},
		}},
		{names.Reviews, []mongo.IndexModel{
			{Keys: bson.D{{Key: "story_id", Value: 1}, {Key: "reviewer", Value: 1}}, Options: unique},
		}},
		{names.Chunks, []mongo.IndexModel{
			{Keys: bson.D{{Key: "source_id", Value: 1}, {Key: "data_type", Value: 1}}},
			{Keys: bson.D{{Key: "story_id", Value: 1}}},
		}},
	}
}

// EnsureIndexes creates every index in Indexes. Existing identical indexes
// are a no-op on the server.
func EnsureIndexes(ctx context.Context, db *mongo.Database, names Names) ([]string, error) {
	var created []string
	for _, spec := range Indexes(names) {
		got, err := db.Collection(spec.Collection).Indexes().CreateMany(ctx, spec.Models)
		if err != nil {
			return created, fmt.Errorf("store: ensure indexes on %s: %w", spec.Collection, err)
		}
		for _, name := range got {
			created = append(created, spec.Collection+"."+name)
		}
	}
	return created, nil
}
