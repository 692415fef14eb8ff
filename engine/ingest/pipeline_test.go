package ingest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/storyrag/storyrag/engine/domain"
	"github.com/storyrag/storyrag/engine/store"
	"github.com/storyrag/storyrag/pkg/metrics"
)

type fakeEmbedder struct {
	mu     sync.Mutex
	texts  []string
	failOn string
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	if f.failOn != "" && strings.Contains(text, f.failOn) {
		return nil, errors.New("quota exceeded")
	}
	return []float32{float32(len(text)), 1}, nil
}

func (f *fakeEmbedder) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.texts)
}

type fakeMirror struct {
	batches [][]domain.EmbeddedChunk
	err     error
}

func (m *fakeMirror) Upsert(_ context.Context, chunks []domain.EmbeddedChunk) error {
	m.batches = append(m.batches, chunks)
	return m.err
}

type fakeEvents struct{ names []string }

func (e *fakeEvents) Emit(_ context.Context, name string, _ any) error {
	e.names = append(e.names, name)
	return nil
}

type fixture struct {
	mem     *store.Memory
	story   domain.Story
	chapter domain.Chapter
	long    domain.Review
	short   domain.Review
}

func seed(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory()
	f := fixture{mem: mem}
	f.story = domain.Story{ID: primitive.NewObjectID(), Title: "Mother of Learning", Author: "nobody103", Description: "A mage relives a month."}
	f.chapter = domain.Chapter{ID: primitive.NewObjectID(), StoryID: f.story.ID, Title: "Good Morning Brother", Content: strings.Repeat("x", 2500)}
	f.long = domain.Review{ID: primitive.NewObjectID(), StoryID: f.story.ID, Reviewer: "reader", Text: strings.Repeat("r", 30)}
	f.short = domain.Review{ID: primitive.NewObjectID(), StoryID: f.story.ID, Reviewer: "terse", Text: strings.Repeat("r", 29)}
	if err := mem.Stories.InsertOne(ctx, f.story); err != nil {
		t.Fatal(err)
	}
	if err := mem.Chapters.InsertOne(ctx, f.chapter); err != nil {
		t.Fatal(err)
	}
	if err := mem.Reviews.InsertMany(ctx, []domain.Review{f.long, f.short}); err != nil {
		t.Fatal(err)
	}
	return f
}

func newPipeline(f fixture, e *fakeEmbedder, deps Deps) *Pipeline {
	deps.Store = f.mem.Store
	deps.Embedder = e
	return New(deps, Options{})
}

func TestRunEmbedsEverySourceOnce(t *testing.T) {
	f := seed(t)
	emb := &fakeEmbedder{}
	events := &fakeEvents{}
	reg := metrics.New()
	p := newPipeline(f, emb, Deps{Events: events, Metrics: reg})

	rep, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// 2500 runes with (1000,100) windows: 0, 900, 1800.
	if rep.Summaries.Chunks != 1 || rep.Chapters.Chunks != 3 || rep.Reviews.Chunks != 1 {
		t.Fatalf("chunks = %d/%d/%d", rep.Summaries.Chunks, rep.Chapters.Chunks, rep.Reviews.Chunks)
	}
	if got := f.mem.ChunkDocs.Len(); got != 5 {
		t.Fatalf("stored chunks = %d, want 5", got)
	}
	if rep.Reviews.Tally.Skipped != 1 || rep.Reviews.Tally.Imported != 1 {
		t.Errorf("review tally = %s", rep.Reviews.Tally)
	}
	if len(events.names) != 1 || events.names[0] != "sync.completed" {
		t.Errorf("events = %v", events.names)
	}
	if !strings.Contains(reg.Render(), `storyrag_chunks_written_total{data_type="chapter_content"} 3`) {
		t.Errorf("metrics missing chapter chunks:\n%s", reg.Render())
	}

	calls := emb.calls()
	rep, err = p.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if rep.Chunks() != 0 {
		t.Errorf("second run wrote %d chunks", rep.Chunks())
	}
	if emb.calls() != calls {
		t.Errorf("second run embedded %d more texts", emb.calls()-calls)
	}
	if f.mem.ChunkDocs.Len() != 5 {
		t.Errorf("stored chunks changed to %d", f.mem.ChunkDocs.Len())
	}
}

func TestReviewLengthBoundary(t *testing.T) {
	f := seed(t)
	p := newPipeline(f, &fakeEmbedder{}, Deps{})
	rep, err := p.Reviews(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	byKey := map[string]domain.Outcome{}
	for _, o := range rep.Outcomes {
		byKey[o.Key] = o
	}
	if o := byKey[f.short.ID.Hex()]; o.Status != domain.StatusSkipped || o.Reason != "too_short" {
		t.Errorf("29 runes: %+v", o)
	}
	if o := byKey[f.long.ID.Hex()]; o.Status != domain.StatusImported {
		t.Errorf("30 runes: %+v", o)
	}
}

func TestChapterWrittenOnlyWhenAllChunksEmbed(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	story := domain.Story{ID: primitive.NewObjectID(), Title: "S"}
	content := strings.Repeat("a", 1000) + strings.Repeat("b", 1000)
	ch := domain.Chapter{ID: primitive.NewObjectID(), StoryID: story.ID, Title: "C", Content: content}
	_ = mem.Stories.InsertOne(ctx, story)
	_ = mem.Chapters.InsertOne(ctx, ch)

	emb := &fakeEmbedder{failOn: "bbbb"}
	p := New(Deps{Store: mem.Store, Embedder: emb}, Options{})
	rep, err := p.Chapters(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Tally.Failed != 1 || rep.Chunks != 0 {
		t.Fatalf("tally = %s chunks = %d", rep.Tally, rep.Chunks)
	}
	if mem.ChunkDocs.Len() != 0 {
		t.Fatalf("partial chapter stored %d chunks", mem.ChunkDocs.Len())
	}

	emb.failOn = ""
	rep, err = p.Chapters(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Tally.Imported != 1 || mem.ChunkDocs.Len() != 3 {
		t.Fatalf("retry: tally = %s stored = %d", rep.Tally, mem.ChunkDocs.Len())
	}
	for _, c := range mem.ChunkDocs.All() {
		if c.ChunkCount != 3 || c.SourceID != ch.ID || c.DataType != domain.DataChapterContent {
			t.Errorf("chunk = %+v", c)
		}
	}
}

func TestEmbeddedTextIsContextualized(t *testing.T) {
	f := seed(t)
	mirror := &fakeMirror{}
	p := newPipeline(f, &fakeEmbedder{}, Deps{Mirror: mirror})
	if _, err := p.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	want := map[domain.DataType]string{
		domain.DataSummary:        "Synopsis of Mother of Learning: A mage relives a month.",
		domain.DataChapterContent: "Mother of Learning - Good Morning Brother: xxx",
		domain.DataReview:         "Review by reader for story Mother of Learning: rrr",
	}
	for _, c := range f.mem.ChunkDocs.All() {
		if !strings.HasPrefix(c.EmbeddedText, want[c.DataType]) {
			t.Errorf("%s embedded text = %.60q", c.DataType, c.EmbeddedText)
		}
		if strings.HasPrefix(c.Content, "Synopsis") || strings.HasPrefix(c.Content, "Review by") {
			t.Errorf("%s content carries the prefix", c.DataType)
		}
		if c.ID.IsZero() {
			t.Errorf("%s chunk has no id", c.DataType)
		}
	}
	if len(mirror.batches) != 3 {
		t.Errorf("mirror batches = %d, want 3", len(mirror.batches))
	}
}

func TestSummaryFallbackAndUnknownStory(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	story := domain.Story{ID: primitive.NewObjectID(), Title: "Bare", Author: "Anon"}
	orphan := domain.Chapter{ID: primitive.NewObjectID(), StoryID: primitive.NewObjectID(), Title: "Lost", Content: "short body"}
	_ = mem.Stories.InsertOne(ctx, story)
	_ = mem.Chapters.InsertOne(ctx, orphan)

	emb := &fakeEmbedder{}
	if _, err := New(Deps{Store: mem.Store, Embedder: emb}, Options{}).Run(ctx); err != nil {
		t.Fatal(err)
	}
	want := []string{
		"Synopsis of Bare: Story: Bare by Anon",
		"Unknown Story - Lost: short body",
	}
	if len(emb.texts) != len(want) {
		t.Fatalf("texts = %q", emb.texts)
	}
	for i := range want {
		if emb.texts[i] != want[i] {
			t.Errorf("text[%d] = %q, want %q", i, emb.texts[i], want[i])
		}
	}
}

func TestEmbeddingFailureLeavesUnitPending(t *testing.T) {
	f := seed(t)
	emb := &fakeEmbedder{failOn: "Synopsis"}
	p := newPipeline(f, emb, Deps{})
	rep, err := p.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rep.Summaries.Tally.Failed != 1 {
		t.Fatalf("summary tally = %s", rep.Summaries.Tally)
	}
	if rep.Chapters.Tally.Imported != 1 {
		t.Errorf("chapters should continue after a summary failure: %s", rep.Chapters.Tally)
	}

	emb.failOn = ""
	rep, err = p.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rep.Summaries.Tally.Imported != 1 || rep.Chunks() != 1 {
		t.Errorf("retry: summaries = %s chunks = %d", rep.Summaries.Tally, rep.Chunks())
	}
}

func TestStoreErrorAbortsRun(t *testing.T) {
	f := seed(t)
	boom := errors.New("disk full")
	f.mem.ChunkDocs.FailWith("insert", boom)
	_, err := newPipeline(f, &fakeEmbedder{}, Deps{}).Run(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}

func TestMirrorErrorKeepsStoredChunks(t *testing.T) {
	f := seed(t)
	p := newPipeline(f, &fakeEmbedder{}, Deps{Mirror: &fakeMirror{err: errors.New("qdrant down")}})
	if _, err := p.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if f.mem.ChunkDocs.Len() != 5 {
		t.Errorf("stored = %d, want 5", f.mem.ChunkDocs.Len())
	}
}

func TestRunHonoursCancellation(t *testing.T) {
	f := seed(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newPipeline(f, &fakeEmbedder{}, Deps{}).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}
