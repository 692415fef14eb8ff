package ingest

import (
	"context"
	"fmt"
	"unicode/utf8"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/storyrag/storyrag/engine/chunk"
	"github.com/storyrag/storyrag/engine/domain"
	"github.com/storyrag/storyrag/engine/store"
	"github.com/storyrag/storyrag/pkg/repo"
)

var tracer = otel.Tracer("engine/ingest")

// Summaries embeds one summary chunk per story that has none yet.
func (p *Pipeline) Summaries(ctx context.Context) (StageReport, error) {
	rep := StageReport{DataType: domain.DataSummary}
	stories, err := p.deps.Store.Stories.Find(ctx, repo.Filter{})
	if err != nil {
		return rep, fmt.Errorf("ingest: load stories: %w", err)
	}
	p.log.Info("embedding summaries", "count", len(stories))

	for _, s := range stories {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		p.titles[s.ID.Hex()] = s.Title
		o, n, err := p.summary(ctx, s)
		if err != nil {
			return rep, err
		}
		rep.add(o)
		rep.Chunks += n
		p.count(rep.DataType, o)
	}
	return rep, nil
}

func (p *Pipeline) summary(ctx context.Context, s domain.Story) (domain.Outcome, int, error) {
	ctx, span := tracer.Start(ctx, "sync.summary")
	defer span.End()
	key := s.ID.Hex()
	span.SetAttributes(attribute.String("story_id", key))

	done, err := p.deps.Store.Chunks.Exists(ctx, store.ChunkBySource(s.ID, domain.DataSummary))
	if err != nil {
		return domain.Outcome{}, 0, fmt.Errorf("ingest: summary lookup: %w", err)
	}
	if done {
		return domain.Skipped(key, "embedded"), 0, nil
	}

	text := SummaryText(s)
	vec, err := p.embed(ctx, text).Unwrap()
	if err != nil {
		p.log.Warn("summary embedding failed", "story_id", key, "error", err)
		return domain.Failed(key, err), 0, sleep(ctx, p.opts.SummaryDelay)
	}
	c := p.newChunk(s.ID, s.ID, s.Title, domain.DataSummary)
	c.Content = SummaryContent(s)
	c.EmbeddedText = text
	c.Embedding = vec
	c.ChunkCount = 1
	if err := p.write(ctx, []domain.EmbeddedChunk{c}); err != nil {
		return domain.Outcome{}, 0, err
	}
	return domain.Imported(key), 1, sleep(ctx, p.opts.SummaryDelay)
}

// Chapters splits every chapter without chunks and embeds each piece. A
// chapter is written only when every one of its chunks embedded.
func (p *Pipeline) Chapters(ctx context.Context) (StageReport, error) {
	rep := StageReport{DataType: domain.DataChapterContent}
	chapters, err := p.deps.Store.Chapters.Find(ctx, repo.Filter{})
	if err != nil {
		return rep, fmt.Errorf("ingest: load chapters: %w", err)
	}
	p.log.Info("embedding chapters", "count", len(chapters))

	for _, ch := range chapters {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		o, n, err := p.chapter(ctx, ch)
		if err != nil {
			return rep, err
		}
		rep.add(o)
		rep.Chunks += n
		p.count(rep.DataType, o)
	}
	return rep, nil
}

func (p *Pipeline) chapter(ctx context.Context, ch domain.Chapter) (domain.Outcome, int, error) {
	ctx, span := tracer.Start(ctx, "sync.chapter")
	defer span.End()
	key := ch.ID.Hex()
	span.SetAttributes(attribute.String("chapter_id", key))

	done, err := p.deps.Store.Chunks.Exists(ctx, store.ChunkByChapter(ch.ID))
	if err != nil {
		return domain.Outcome{}, 0, fmt.Errorf("ingest: chapter lookup: %w", err)
	}
	if done {
		return domain.Skipped(key, "embedded"), 0, nil
	}

	pieces, err := chunk.Split(ch.Content, p.opts.ChunkSize, p.opts.ChunkOverlap)
	if err != nil {
		return domain.Outcome{}, 0, fmt.Errorf("ingest: %w", err)
	}
	if len(pieces) == 0 {
		return domain.Skipped(key, "empty"), 0, nil
	}

	title := p.storyTitle(ctx, ch.StoryID)
	chunks := make([]domain.EmbeddedChunk, 0, len(pieces))
	for i, piece := range pieces {
		if i > 0 {
			if err := sleep(ctx, p.opts.ChunkDelay); err != nil {
				return domain.Failed(key, err), 0, err
			}
		}
		text := ChapterText(title, ch.Title, piece)
		vec, err := p.embed(ctx, text).Unwrap()
		if err != nil {
			p.log.Warn("chapter embedding failed", "chapter_id", key, "chunk", i, "error", err)
			return domain.Failed(key, fmt.Errorf("chunk %d: %w", i, err)), 0, sleep(ctx, p.opts.ChunkDelay)
		}
		c := p.newChunk(ch.StoryID, ch.ID, title, domain.DataChapterContent)
		c.Content = piece
		c.EmbeddedText = text
		c.Embedding = vec
		c.ChunkIndex = i
		c.ChunkCount = len(pieces)
		chunks = append(chunks, c)
	}
	if err := p.write(ctx, chunks); err != nil {
		return domain.Outcome{}, 0, err
	}
	span.SetAttributes(attribute.Int("sync.chunks", len(chunks)))
	return domain.Imported(key), len(chunks), sleep(ctx, p.opts.ChunkDelay)
}

// Reviews embeds every review long enough to carry an opinion.
func (p *Pipeline) Reviews(ctx context.Context) (StageReport, error) {
	rep := StageReport{DataType: domain.DataReview}
	reviews, err := p.deps.Store.Reviews.Find(ctx, repo.Filter{})
	if err != nil {
		return rep, fmt.Errorf("ingest: load reviews: %w", err)
	}
	p.log.Info("embedding reviews", "count", len(reviews))

	for _, r := range reviews {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		o, n, err := p.review(ctx, r)
		if err != nil {
			return rep, err
		}
		rep.add(o)
		rep.Chunks += n
		p.count(rep.DataType, o)
	}
	return rep, nil
}

func (p *Pipeline) review(ctx context.Context, r domain.Review) (domain.Outcome, int, error) {
	key := r.ID.Hex()
	if utf8.RuneCountInString(r.Text) < p.opts.MinReviewLength {
		return domain.Skipped(key, "too_short"), 0, nil
	}
	ctx, span := tracer.Start(ctx, "sync.review")
	defer span.End()
	span.SetAttributes(attribute.String("review_id", key))

	done, err := p.deps.Store.Chunks.Exists(ctx, store.ChunkBySource(r.ID, domain.DataReview))
	if err != nil {
		return domain.Outcome{}, 0, fmt.Errorf("ingest: review lookup: %w", err)
	}
	if done {
		return domain.Skipped(key, "embedded"), 0, nil
	}

	title := p.storyTitle(ctx, r.StoryID)
	text := ReviewText(r.Reviewer, title, r.Text)
	vec, err := p.embed(ctx, text).Unwrap()
	if err != nil {
		p.log.Warn("review embedding failed", "review_id", key, "error", err)
		return domain.Failed(key, err), 0, sleep(ctx, p.opts.ReviewDelay)
	}
	c := p.newChunk(r.StoryID, r.ID, title, domain.DataReview)
	c.Content = r.Text
	c.EmbeddedText = text
	c.Embedding = vec
	c.ChunkCount = 1
	c.Reviewer = r.Reviewer
	if err := p.write(ctx, []domain.EmbeddedChunk{c}); err != nil {
		return domain.Outcome{}, 0, err
	}
	return domain.Imported(key), 1, sleep(ctx, p.opts.ReviewDelay)
}

// newChunk assigns the id up front so the mirror can derive its point id.
func (p *Pipeline) newChunk(storyID, sourceID primitive.ObjectID, title string, dt domain.DataType) domain.EmbeddedChunk {
	return domain.EmbeddedChunk{
		ID:         primitive.NewObjectID(),
		StoryID:    storyID,
		SourceID:   sourceID,
		StoryTitle: title,
		DataType:   dt,
		CreatedAt:  p.opts.Now(),
	}
}
