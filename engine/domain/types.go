// Package domain defines the typed records stored by the crawler and the
// embedding pipeline, plus the per-unit outcome types both halves report.
package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// SourceRoyalRoad tags every record harvested from the remote site.
const SourceRoyalRoad = "RoyalRoad"

// Story is a serialized fiction. Title is its natural key.
type Story struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Title       string             `bson:"title" json:"title"`
	Author      string             `bson:"author" json:"author"`
	Genres      []string           `bson:"genres" json:"genres"`
	Description string             `bson:"description,omitempty" json:"description,omitempty"`
	URL         string             `bson:"url" json:"url"`
	Source      string             `bson:"source" json:"source"`
	Statistics  Statistics         `bson:"statistics" json:"statistics"`
	CreatedAt   time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time          `bson:"updated_at,omitempty" json:"updated_at,omitempty"`
}

// Statistics is the snapshot shown on a story's landing page.
type Statistics struct {
	TotalViews     int     `bson:"total_views" json:"total_views"`
	Followers      int     `bson:"followers" json:"followers"`
	Favorites      int     `bson:"favorites" json:"favorites"`
	RatingCount    int     `bson:"rating_count" json:"rating_count"`
	OverallScore   float64 `bson:"overall_score" json:"overall_score"`
	StyleScore     float64 `bson:"style_score" json:"style_score"`
	StoryScore     float64 `bson:"story_score" json:"story_score"`
	GrammarScore   float64 `bson:"grammar_score" json:"grammar_score"`
	CharacterScore float64 `bson:"character_score" json:"character_score"`
}

// Chapter is created once per URL and never modified afterwards.
type Chapter struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	StoryID   primitive.ObjectID `bson:"story_id" json:"story_id"`
	Title     string             `bson:"chapter_title" json:"chapter_title"`
	Content   string             `bson:"content" json:"content"`
	URL       string             `bson:"url" json:"url"`
	Source    string             `bson:"source" json:"source"`
	CrawledAt time.Time          `bson:"crawled_at" json:"crawled_at"`
}

// Comment is keyed by (chapter, user, comment date). Latest harvest wins.
type Comment struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	StoryID     primitive.ObjectID `bson:"story_id" json:"story_id"`
	ChapterID   primitive.ObjectID `bson:"chapter_id" json:"chapter_id"`
	User        string             `bson:"user" json:"user"`
	Content     string             `bson:"content" json:"content"`
	CommentDate time.Time          `bson:"comment_date" json:"comment_date"`
	SourceURL   string             `bson:"source_url" json:"source_url"`
	Type        string             `bson:"type" json:"type"`
	CrawledAt   time.Time          `bson:"crawled_at" json:"crawled_at"`
	CreatedAt   time.Time          `bson:"created_at" json:"created_at"`
}

// Review is keyed by (story, reviewer). Latest harvest wins.
type Review struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	StoryID   primitive.ObjectID `bson:"story_id" json:"story_id"`
	Reviewer  string             `bson:"reviewer" json:"reviewer"`
	Text      string             `bson:"comment_text" json:"comment_text"`
	Rating    *float64           `bson:"rating,omitempty" json:"rating,omitempty"`
	SourceURL string             `bson:"source_url,omitempty" json:"source_url,omitempty"`
	Type      string             `bson:"type" json:"type"`
	CrawledAt time.Time          `bson:"crawled_at,omitempty" json:"crawled_at,omitempty"`
	CreatedAt time.Time          `bson:"created_at,omitempty" json:"created_at,omitempty"`
}

// Record type tags written by the harvester.
const (
	TypeChapterComment = "ChapterComment"
	TypeStoryReview    = "StoryReview"
)

// DataType tags what an EmbeddedChunk was derived from.
type DataType string

const (
	DataSummary        DataType = "summary"
	DataChapterContent DataType = "chapter_content"
	DataReview         DataType = "review"
)

// EmbeddedChunk is an append-only (text, vector) pair with provenance.
type EmbeddedChunk struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	StoryID      primitive.ObjectID `bson:"story_id" json:"story_id"`
	SourceID     primitive.ObjectID `bson:"source_id" json:"source_id"`
	StoryTitle   string             `bson:"story_title" json:"story_title"`
	DataType     DataType           `bson:"data_type" json:"data_type"`
	Content      string             `bson:"content" json:"content"`
	EmbeddedText string             `bson:"embedded_text" json:"embedded_text"`
	ChunkIndex   int                `bson:"chunk_index" json:"chunk_index"`
	ChunkCount   int                `bson:"chunk_count" json:"chunk_count"`
	Reviewer     string             `bson:"reviewer,omitempty" json:"reviewer,omitempty"`
	Embedding    []float32          `bson:"embedding" json:"embedding"`
	CreatedAt    time.Time          `bson:"created_at" json:"created_at"`
}
