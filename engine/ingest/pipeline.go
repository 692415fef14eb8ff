// Package ingest turns stored text into embedded passages. Every source is
// embedded at most once; reruns only pick up what is missing.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.opentelemetry.io/otel/attribute"

	"github.com/storyrag/storyrag/engine/chunk"
	"github.com/storyrag/storyrag/engine/domain"
	"github.com/storyrag/storyrag/engine/store"
	"github.com/storyrag/storyrag/pkg/embed"
	"github.com/storyrag/storyrag/pkg/fn"
	"github.com/storyrag/storyrag/pkg/metrics"
	"github.com/storyrag/storyrag/pkg/repo"
)

// Defaults for Options.
const (
	DefaultMinReviewLength = 30
	DefaultSummaryDelay    = time.Second
	DefaultChunkDelay      = 500 * time.Millisecond
	DefaultReviewDelay     = time.Second
)

// Mirror receives every batch of chunks after it is stored.
// engine/semantic implements it.
type Mirror interface {
	Upsert(ctx context.Context, chunks []domain.EmbeddedChunk) error
}

// Events announces finished runs. *natsutil.Events implements it.
type Events interface {
	Emit(ctx context.Context, name string, v any) error
}

// Deps holds the collaborators of a Pipeline. Mirror, Events and Metrics are
// optional.
type Deps struct {
	Store    *store.Store
	Embedder embed.Embedder
	Mirror   Mirror
	Events   Events
	Metrics  *metrics.Registry
	Logger   *slog.Logger
}

// Options tunes chunking and pacing. Zero sizes take the chunk package
// defaults; delays are used as given.
type Options struct {
	ChunkSize       int
	ChunkOverlap    int
	MinReviewLength int
	SummaryDelay    time.Duration
	ChunkDelay      time.Duration
	ReviewDelay     time.Duration
	Now             func() time.Time
}

// Pipeline runs the sync. It is not safe for concurrent Runs.
type Pipeline struct {
	deps   Deps
	opts   Options
	log    *slog.Logger
	embed  fn.Stage[string, []float32]
	titles map[string]string
}

// New creates a Pipeline.
func New(deps Deps, opts Options) *Pipeline {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = chunk.DefaultSize
		if opts.ChunkOverlap == 0 {
			opts.ChunkOverlap = chunk.DefaultOverlap
		}
	}
	if opts.MinReviewLength <= 0 {
		opts.MinReviewLength = DefaultMinReviewLength
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	p := &Pipeline{deps: deps, opts: opts, log: deps.Logger, titles: make(map[string]string)}
	p.embed = fn.TracedStage("sync.embed", func(ctx context.Context, text string) fn.Result[[]float32] {
		start := time.Now()
		defer deps.Metrics.Histogram("storyrag_embed_seconds", "Embedding call latency", nil).Since(start)
		return fn.FromPair(deps.Embedder.Embed(ctx, text))
	})
	return p
}

// StageReport is the result of one source type.
type StageReport struct {
	DataType domain.DataType  `json:"data_type"`
	Outcomes []domain.Outcome `json:"-"`
	Tally    domain.Tally     `json:"tally"`
	Chunks   int              `json:"chunks"`
}

func (s *StageReport) add(o domain.Outcome) {
	s.Outcomes = append(s.Outcomes, o)
	s.Tally.Add(o)
}

// Report is the result of a full run.
type Report struct {
	Summaries StageReport   `json:"summaries"`
	Chapters  StageReport   `json:"chapters"`
	Reviews   StageReport   `json:"reviews"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Chunks is the number of chunks written by the run.
func (r Report) Chunks() int {
	return r.Summaries.Chunks + r.Chapters.Chunks + r.Reviews.Chunks
}

// Run embeds summaries, then chapters, then reviews. A returned error is a
// store failure or cancellation; the report holds what was done until then.
func (p *Pipeline) Run(ctx context.Context) (Report, error) {
	ctx, span := tracer.Start(ctx, "sync.run")
	defer span.End()
	start := time.Now()
	p.titles = make(map[string]string)

	var rep Report
	var err error
	if rep.Summaries, err = p.Summaries(ctx); err != nil {
		return rep, err
	}
	if rep.Chapters, err = p.Chapters(ctx); err != nil {
		return rep, err
	}
	if rep.Reviews, err = p.Reviews(ctx); err != nil {
		return rep, err
	}
	rep.Elapsed = time.Since(start)
	span.SetAttributes(attribute.Int("sync.chunks", rep.Chunks()))

	p.log.Info("sync finished",
		"summaries", rep.Summaries.Tally.String(),
		"chapters", rep.Chapters.Tally.String(),
		"reviews", rep.Reviews.Tally.String(),
		"count", rep.Chunks(),
		"elapsed", rep.Elapsed.Round(time.Millisecond))
	if p.deps.Events != nil {
		if err := p.deps.Events.Emit(ctx, "sync.completed", rep); err != nil {
			p.log.Warn("publish sync event", "error", err)
		}
	}
	return rep, nil
}

// storyTitle resolves a story title once per run.
func (p *Pipeline) storyTitle(ctx context.Context, id primitive.ObjectID) string {
	key := id.Hex()
	if t, ok := p.titles[key]; ok {
		return t
	}
	title := UnknownStory
	if s, err := p.deps.Store.Stories.FindOne(ctx, repo.Filter{"_id": id}); err == nil && s.Title != "" {
		title = s.Title
	}
	p.titles[key] = title
	return title
}

// write stores chunks and mirrors them. Only the store write can fail the run.
func (p *Pipeline) write(ctx context.Context, chunks []domain.EmbeddedChunk) error {
	if err := p.deps.Store.Chunks.InsertMany(ctx, chunks); err != nil {
		return fmt.Errorf("ingest: store chunks: %w", err)
	}
	if len(chunks) > 0 {
		p.deps.Metrics.Counter(metrics.WithLabels("storyrag_chunks_written_total", "data_type", string(chunks[0].DataType)), "Embedded chunks stored").Add(int64(len(chunks)))
	}
	if p.deps.Mirror != nil {
		if err := p.deps.Mirror.Upsert(ctx, chunks); err != nil {
			p.log.Warn("vector mirror failed", "count", len(chunks), "error", err)
		}
	}
	return nil
}

func (p *Pipeline) count(dt domain.DataType, o domain.Outcome) {
	p.deps.Metrics.Counter(metrics.WithLabels("storyrag_sync_units_total", "data_type", string(dt), "status", string(o.Status)), "Sync units by outcome").Inc()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
