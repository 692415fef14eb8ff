package harvest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/storyrag/storyrag/engine/domain"
	"github.com/storyrag/storyrag/engine/extract"
	"github.com/storyrag/storyrag/engine/store"
	"github.com/storyrag/storyrag/pkg/repo"
)

// ErrNoChapterID means a chapter URL carries no numeric id, so its comment
// listing cannot be addressed.
var ErrNoChapterID = errors.New("harvest: chapter url has no numeric id")

// Listing settings shared by both sub-resources.
type Listing struct {
	Target int
	Delay  time.Duration
}

// Comments harvests the comment listing of chapters.
type Comments struct {
	Source  Source
	Coll    repo.Collection[domain.Comment]
	BaseURL string
	Listing Listing
	Now     func() time.Time
	Logger  *slog.Logger
}

// Harvest upserts up to Listing.Target comments of ch.
func (c *Comments) Harvest(ctx context.Context, ch domain.Chapter) (Result, error) {
	naturalID, ok := extract.ChapterNaturalID(ch.URL)
	if !ok {
		return Result{Err: ErrNoChapterID}, nil
	}
	now := clock(c.Now)
	p := Paginator[extract.CommentItem]{
		Name:    "comments",
		URL:     func(page int) string { return CommentsURL(c.BaseURL, naturalID, page) },
		Source:  c.Source,
		Extract: extract.ParseComments,
		Op: func(item extract.CommentItem) repo.UpsertOp {
			at := now()
			return repo.UpsertOp{
				Filter: store.CommentKey(ch.ID, item.User, item.Date),
				Update: repo.Update{
					Set: bson.M{
						"story_id":     ch.StoryID,
						"chapter_id":   ch.ID,
						"user":         item.User,
						"content":      item.Content,
						"comment_date": item.Date,
						"source_url":   ch.URL,
						"type":         domain.TypeChapterComment,
						"crawled_at":   at,
					},
					SetOnInsert: bson.M{"created_at": at},
				},
			}
		},
		Write:  c.Coll.BulkUpsert,
		Target: c.Listing.Target,
		Delay:  c.Listing.Delay,
		Logger: c.Logger,
	}
	return p.Harvest(ctx)
}

// Reviews harvests the review listing of stories.
type Reviews struct {
	Source  Source
	Coll    repo.Collection[domain.Review]
	Listing Listing
	Now     func() time.Time
	Logger  *slog.Logger
}

// Harvest upserts up to Listing.Target reviews of story.
func (r *Reviews) Harvest(ctx context.Context, story domain.Story) (Result, error) {
	now := clock(r.Now)
	p := Paginator[extract.ReviewItem]{
		Name:   "reviews",
		URL:    func(page int) string { return ReviewsURL(story.URL, page) },
		Source: r.Source,
		Extract: func(src string, _ int) (extract.Page[extract.ReviewItem], error) {
			return extract.ParseReviews(src)
		},
		Op: func(item extract.ReviewItem) repo.UpsertOp {
			at := now()
			set := bson.M{
				"story_id":     story.ID,
				"reviewer":     item.Reviewer,
				"comment_text": item.Text,
				"source_url":   story.URL,
				"type":         domain.TypeStoryReview,
				"crawled_at":   at,
			}
			if item.Rating != nil {
				set["rating"] = *item.Rating
			}
			return repo.UpsertOp{
				Filter: store.ReviewKey(story.ID, item.Reviewer),
				Update: repo.Update{Set: set, SetOnInsert: bson.M{"created_at": at}},
			}
		},
		Write:  r.Coll.BulkUpsert,
		Target: r.Listing.Target,
		Delay:  r.Listing.Delay,
		Logger: r.Logger,
	}
	return p.Harvest(ctx)
}

func clock(now func() time.Time) func() time.Time {
	if now != nil {
		return now
	}
	return func() time.Time { return time.Now().UTC() }
}
