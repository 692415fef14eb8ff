package harvest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/storyrag/storyrag/engine/domain"
	"github.com/storyrag/storyrag/engine/extract"
	"github.com/storyrag/storyrag/engine/store"
	"github.com/storyrag/storyrag/pkg/fn"
	"github.com/storyrag/storyrag/pkg/metrics"
	"github.com/storyrag/storyrag/pkg/repo"
)

// ErrNoChapters is returned when a table of contents lists no chapters,
// usually because the URL is not a story page.
var ErrNoChapters = errors.New("harvest: no chapters found")

// Defaults for Options.
const (
	DefaultBaseURL       = "https://www.royalroad.com"
	DefaultConcurrency   = 3
	DefaultReviewTarget  = 50
	DefaultCommentTarget = 7
	DefaultReviewDelay   = time.Second
	DefaultCommentDelay  = 500 * time.Millisecond
)

// Catalog receives each harvested story. engine/graph implements it.
type Catalog interface {
	SaveStory(ctx context.Context, s domain.Story) error
}

// Events announces finished harvests. *natsutil.Events implements it.
type Events interface {
	Emit(ctx context.Context, name string, v any) error
}

// Options configures a Crawler. Zero targets and concurrency take the
// defaults above; delays are used as given.
type Options struct {
	BaseURL     string
	Concurrency int
	Reviews     Listing
	Comments    Listing
	Catalog     Catalog
	Events      Events
	Metrics     *metrics.Registry
	Progress    io.Writer
	Logger      *slog.Logger
	Now         func() time.Time
}

func (o Options) withDefaults() Options {
	if o.BaseURL == "" {
		o.BaseURL = DefaultBaseURL
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.Reviews.Target <= 0 {
		o.Reviews.Target = DefaultReviewTarget
	}
	if o.Comments.Target <= 0 {
		o.Comments.Target = DefaultCommentTarget
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	o.Now = clock(o.Now)
	return o
}

// Report summarises one story harvest.
type Report struct {
	StoryID           primitive.ObjectID `json:"story_id"`
	Title             string             `json:"title"`
	Created           bool               `json:"created"`
	Chapters          []domain.Outcome   `json:"chapters"`
	ChapterTally      domain.Tally       `json:"chapter_tally"`
	Reviews           int                `json:"reviews"`
	ReviewErr         string             `json:"review_error,omitempty"`
	CommentsPersisted int64              `json:"comments"`
	Elapsed           time.Duration      `json:"elapsed"`
}

// Crawler harvests whole stories into a Store.
type Crawler struct {
	src      Source
	st       *store.Store
	opts     Options
	comments *Comments
	reviews  *Reviews
	load     fn.Stage[string, extract.ChapterPage]
}

// NewCrawler wires a Crawler. src is shared by every request of a run.
func NewCrawler(src Source, st *store.Store, opts Options) *Crawler {
	opts = opts.withDefaults()
	c := &Crawler{
		src:  src,
		st:   st,
		opts: opts,
		comments: &Comments{
			Source: src, Coll: st.Comments, BaseURL: opts.BaseURL,
			Listing: opts.Comments, Now: opts.Now, Logger: opts.Logger,
		},
		reviews: &Reviews{
			Source: src, Coll: st.Reviews,
			Listing: opts.Reviews, Now: opts.Now, Logger: opts.Logger,
		},
	}
	fetch := fn.TracedStage("harvest.fetch_chapter", func(ctx context.Context, url string) fn.Result[string] {
		return c.src.Get(ctx, url)
	})
	parse := fn.TracedStage("harvest.parse_chapter", func(_ context.Context, body string) fn.Result[extract.ChapterPage] {
		return fn.FromPair(extract.ParseChapter(body))
	})
	c.load = fn.Then(fetch, parse)
	return c
}

// Run harvests the story whose table of contents is at tocURL. It returns an
// error only when the story itself cannot be loaded or a store write for the
// story or its reviews fails; chapter failures are reported per chapter.
func (c *Crawler) Run(ctx context.Context, tocURL string) (Report, error) {
	ctx, span := otel.Tracer("engine/harvest").Start(ctx, "harvest.story")
	defer span.End()
	start := time.Now()
	log := c.opts.Logger.With("url", tocURL)

	body, err := c.src.Get(ctx, tocURL).Unwrap()
	if err != nil {
		return Report{}, fmt.Errorf("harvest: fetch toc: %w", err)
	}
	page, err := extract.ParseStory(body, c.opts.BaseURL)
	if err != nil {
		return Report{}, fmt.Errorf("harvest: parse toc: %w", err)
	}
	if len(page.ChapterURLs) == 0 {
		return Report{}, ErrNoChapters
	}

	story, created, err := c.saveStory(ctx, tocURL, page)
	if err != nil {
		return Report{}, err
	}
	span.SetAttributes(attribute.String("story.title", story.Title), attribute.Int("story.chapters", len(page.ChapterURLs)))
	log = log.With("story_id", story.ID.Hex())
	log.Info("story stored", "title", story.Title, "author", story.Author, "created", created,
		"followers", story.Statistics.Followers, "count", len(page.ChapterURLs))

	if c.opts.Catalog != nil {
		if err := c.opts.Catalog.SaveStory(ctx, story); err != nil {
			log.Warn("catalog projection failed", "error", err)
		}
	}

	rep := Report{StoryID: story.ID, Title: story.Title, Created: created}
	reviews, err := c.reviews.Harvest(ctx, story)
	if err != nil {
		return rep, err
	}
	rep.Reviews = reviews.Persisted
	if reviews.Err != nil {
		rep.ReviewErr = reviews.Err.Error()
	}
	log.Info("reviews harvested", "count", reviews.Persisted, "page", reviews.Pages)

	var comments atomic.Int64
	progress := NewProgress(c.opts.Progress, len(page.ChapterURLs))
	rep.Chapters = RunAll(ctx, page.ChapterURLs, c.opts.Concurrency, func(ctx context.Context, url string) domain.Outcome {
		o, n := c.chapter(ctx, story, url)
		comments.Add(int64(n))
		return o
	}, progress)
	rep.CommentsPersisted = comments.Load()
	rep.ChapterTally = domain.TallyOf(rep.Chapters)
	rep.Elapsed = time.Since(start)

	c.record(rep)
	log.Info("harvest finished", "chapters", rep.ChapterTally.String(), "reviews", rep.Reviews,
		"comments", rep.CommentsPersisted, "elapsed", rep.Elapsed.Round(time.Millisecond))

	if c.opts.Events != nil {
		if err := c.opts.Events.Emit(ctx, "harvest.completed", rep); err != nil {
			log.Warn("publish harvest event", "error", err)
		}
	}
	return rep, nil
}

// saveStory inserts the story on first sight and otherwise refreshes its
// statistics snapshot.
func (c *Crawler) saveStory(ctx context.Context, tocURL string, page extract.StoryPage) (domain.Story, bool, error) {
	now := c.opts.Now()
	existing, err := c.st.Stories.FindOne(ctx, store.StoryByTitle(page.Title))
	switch {
	case err == nil:
		update := repo.Update{Set: bson.M{"statistics": page.Statistics, "updated_at": now}}
		if err := c.st.Stories.UpdateOne(ctx, repo.Filter{"_id": existing.ID}, update); err != nil {
			return domain.Story{}, false, fmt.Errorf("harvest: update story: %w", err)
		}
		existing.Statistics = page.Statistics
		existing.UpdatedAt = now
		return existing, false, nil
	case !errors.Is(err, repo.ErrNotFound):
		return domain.Story{}, false, fmt.Errorf("harvest: find story: %w", err)
	}

	story := domain.Story{
		ID:          primitive.NewObjectID(),
		Title:       page.Title,
		Author:      page.Author,
		Genres:      page.Genres,
		Description: page.Description,
		URL:         tocURL,
		Source:      domain.SourceRoyalRoad,
		Statistics:  page.Statistics,
		CreatedAt:   now,
	}
	if err := domain.ValidateStory(story); err != nil {
		return domain.Story{}, false, err
	}
	if err := c.st.Stories.InsertOne(ctx, story); err != nil {
		return domain.Story{}, false, fmt.Errorf("harvest: insert story: %w", err)
	}
	return story, true, nil
}

// chapter imports one chapter unless it is already stored, then harvests its
// comments either way. It returns the outcome and the comments persisted.
func (c *Crawler) chapter(ctx context.Context, story domain.Story, url string) (domain.Outcome, int) {
	ctx, span := otel.Tracer("engine/harvest").Start(ctx, "harvest.chapter")
	defer span.End()
	log := c.opts.Logger.With("url", url, "story_id", story.ID.Hex())

	var outcome domain.Outcome
	ch, err := c.st.Chapters.FindOne(ctx, store.ChapterByURL(url))
	switch {
	case err == nil:
		outcome = domain.Skipped(url, "exists")
	case errors.Is(err, repo.ErrNotFound):
		page, err := c.load(ctx, url).Unwrap()
		if err != nil {
			log.Warn("chapter not imported", "error", err)
			return domain.Failed(url, err), 0
		}
		ch = domain.Chapter{
			ID:        primitive.NewObjectID(),
			StoryID:   story.ID,
			Title:     page.Title,
			Content:   page.Content,
			URL:       url,
			Source:    domain.SourceRoyalRoad,
			CrawledAt: c.opts.Now(),
		}
		if err := domain.ValidateChapter(ch); err != nil {
			log.Warn("chapter not imported", "error", err)
			return domain.Failed(url, err), 0
		}
		if err := c.st.Chapters.InsertOne(ctx, ch); err != nil {
			log.Error("chapter insert failed", "error", err)
			return domain.Failed(url, err), 0
		}
		outcome = domain.Imported(url)
	default:
		log.Error("chapter lookup failed", "error", err)
		return domain.Failed(url, err), 0
	}

	res, err := c.comments.Harvest(ctx, ch)
	if err != nil {
		log.Error("comment write failed", "chapter_id", ch.ID.Hex(), "error", err)
	}
	return outcome, res.Persisted
}

func (c *Crawler) record(rep Report) {
	reg := c.opts.Metrics
	if reg == nil {
		return
	}
	for _, o := range rep.Chapters {
		reg.Counter(metrics.WithLabels("storyrag_chapters_total", "status", string(o.Status)), "Chapters by harvest outcome").Inc()
	}
	reg.Counter("storyrag_reviews_persisted_total", "Reviews upserted").Add(int64(rep.Reviews))
	reg.Counter("storyrag_comments_persisted_total", "Comments upserted").Add(rep.CommentsPersisted)
	reg.Histogram("storyrag_harvest_seconds", "Wall time of a story harvest", nil).Observe(rep.Elapsed.Seconds())
}
