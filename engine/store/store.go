// Package store groups the typed collections the crawler and the sync
// pipeline share, together with their natural-key filters.
package store

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/storyrag/storyrag/engine/domain"
	"github.com/storyrag/storyrag/pkg/repo"
)

// Collection names used when none are configured.
const (
	DefaultStories  = "stories"
	DefaultChapters = "chapters"
	DefaultComments = "comments"
	DefaultReviews  = "reviews"
	DefaultChunks   = "story_chunks"
)

// Names maps each record type to a collection name.
type Names struct {
	Stories  string `yaml:"stories"`
	Chapters string `yaml:"chapters"`
	Comments string `yaml:"comments"`
	Reviews  string `yaml:"reviews"`
	Chunks   string `yaml:"chunks"`
}

// DefaultNames returns the standard collection names.
func DefaultNames() Names {
	return Names{
		Stories:  DefaultStories,
		Chapters: DefaultChapters,
		Comments: DefaultComments,
		Reviews:  DefaultReviews,
		Chunks:   DefaultChunks,
	}
}

func (n Names) withDefaults() Names {
	d := DefaultNames()
	if n.Stories == "" {
		n.Stories = d.Stories
	}
	if n.Chapters == "" {
		n.Chapters = d.Chapters
	}
	if n.Comments == "" {
		n.Comments = d.Comments
	}
	if n.Reviews == "" {
		n.Reviews = d.Reviews
	}
	if n.Chunks == "" {
		n.Chunks = d.Chunks
	}
	return n
}

// Store is the set of collections. Fields are interfaces so engine code can
// run against repo.Memory in tests.
type Store struct {
	Stories  repo.Collection[domain.Story]
	Chapters repo.Collection[domain.Chapter]
	Comments repo.Collection[domain.Comment]
	Reviews  repo.Collection[domain.Review]
	Chunks   repo.Collection[domain.EmbeddedChunk]
}

// NewMongo binds a Store to collections of db.
func NewMongo(db *mongo.Database, names Names) *Store {
	names = names.withDefaults()
	return &Store{
		Stories:  repo.NewMongo[domain.Story](db.Collection(names.Stories)),
		Chapters: repo.NewMongo[domain.Chapter](db.Collection(names.Chapters)),
		Comments: repo.NewMongo[domain.Comment](db.Collection(names.Comments)),
		Reviews:  repo.NewMongo[domain.Review](db.Collection(names.Reviews)),
		Chunks:   repo.NewMongo[domain.EmbeddedChunk](db.Collection(names.Chunks)),
	}
}

// Memory is a Store with its in-memory collections exposed for assertions.
type Memory struct {
	*Store
	StoryDocs   *repo.Memory[domain.Story]
	ChapterDocs *repo.Memory[domain.Chapter]
	CommentDocs *repo.Memory[domain.Comment]
	ReviewDocs  *repo.Memory[domain.Review]
	ChunkDocs   *repo.Memory[domain.EmbeddedChunk]
}

// NewMemory returns a Store backed by fresh in-memory collections.
func NewMemory() *Memory {
	m := &Memory{
		StoryDocs:   repo.NewMemory[domain.Story](),
		ChapterDocs: repo.NewMemory[domain.Chapter](),
		CommentDocs: repo.NewMemory[domain.Comment](),
		ReviewDocs:  repo.NewMemory[domain.Review](),
		ChunkDocs:   repo.NewMemory[domain.EmbeddedChunk](),
	}
	m.Store = &Store{
		Stories:  m.StoryDocs,
		Chapters: m.ChapterDocs,
		Comments: m.CommentDocs,
		Reviews:  m.ReviewDocs,
		Chunks:   m.ChunkDocs,
	}
	return m
}

// StoryByTitle is the natural key of a story.
func StoryByTitle(title string) repo.Filter {
	return repo.Filter{"title": title}
}

// ChapterByURL is the natural key of a chapter.
func ChapterByURL(url string) repo.Filter {
	return repo.Filter{"url": url}
}

// CommentKey is the natural key of a chapter comment.
func CommentKey(chapterID primitive.ObjectID, user string, date time.Time) repo.Filter {
	return repo.Filter{"chapter_id": chapterID, "user": user, "comment_date": primitive.NewDateTimeFromTime(date)}
}

// ReviewKey is the natural key of a story review.
func ReviewKey(storyID primitive.ObjectID, reviewer string) repo.Filter {
	return repo.Filter{"story_id": storyID, "reviewer": reviewer}
}

// ChunkBySource matches chunks derived from one source record.
func ChunkBySource(sourceID primitive.ObjectID, dt domain.DataType) repo.Filter {
	return repo.Filter{"source_id": sourceID, "data_type": string(dt)}
}

// ChunkByChapter matches any chunk of a chapter.
func ChunkByChapter(chapterID primitive.ObjectID) repo.Filter {
	return repo.Filter{"source_id": chapterID}
}
