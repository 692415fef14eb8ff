package harvest

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/storyrag/storyrag/engine/domain"
	"github.com/storyrag/storyrag/engine/store"
	"github.com/storyrag/storyrag/pkg/metrics"
	"github.com/storyrag/storyrag/pkg/repo"
)

const (
	base   = "https://www.royalroad.com"
	tocURL = base + "/fiction/42/story"
)

func toc(followers string) string {
	return `<html><body><h1>Story</h1><h4><a href="/profile/7">author</a></h4>
<span class="tags"><a>Fantasy</a></span>
<div class="stats-content"><ul><li>Followers :</li><li>` + followers + `</li></ul></div>
<table id="chapters">
<tr><td><a href="/fiction/42/story/chapter/100/a">A</a></td></tr>
<tr><td><a href="/fiction/42/story/chapter/101/b">B</a></td></tr>
<tr><td><a href="/fiction/42/story/chapter/102/c">C</a></td></tr>
</table></body></html>`
}

func chapterHTML(title, body string) string {
	return `<html><body><h1>` + title + `</h1><div class="chapter-content"><p>` + body + `</p></div></body></html>`
}

type fakeCatalog struct {
	mu      sync.Mutex
	stories []domain.Story
	err     error
}

func (f *fakeCatalog) SaveStory(_ context.Context, s domain.Story) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stories = append(f.stories, s)
	return f.err
}

type fakeEvents struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeEvents) Emit(_ context.Context, name string, _ any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, name)
	return nil
}

func newSite(followers string) *fakeSite {
	site := newFakeSite()
	site.set(tocURL, toc(followers))
	site.set(tocURL+"/chapter/100/a", chapterHTML("Chapter A", "alpha text"))
	site.set(tocURL+"/chapter/101/b", `<html><body><h1>B</h1><p>no content node</p></body></html>`)
	site.set(tocURL+"/chapter/102/c", chapterHTML("Chapter C", "gamma text"))
	site.set(ReviewsURL(tocURL, 1), reviewsPage(0, 2))
	site.set(ReviewsURL(tocURL, 2), reviewsPage(0, 0))
	site.set(CommentsURL(base, "100", 1), commentsPage(0, 2, 0))
	site.set(CommentsURL(base, "102", 1), "<div></div>")
	return site
}

func TestCrawler_Run(t *testing.T) {
	site := newSite("1,200")
	st := store.NewMemory()
	catalog := &fakeCatalog{err: errors.New("neo4j down")}
	events := &fakeEvents{}
	reg := metrics.New()
	var progress bytes.Buffer

	c := NewCrawler(site, st.Store, Options{
		BaseURL:  base,
		Catalog:  catalog,
		Events:   events,
		Metrics:  reg,
		Progress: &progress,
	})
	rep, err := c.Run(context.Background(), tocURL)
	if err != nil {
		t.Fatal(err)
	}

	if !rep.Created || rep.Title != "Story" {
		t.Fatalf("unexpected report %+v", rep)
	}
	if rep.ChapterTally.Imported != 2 || rep.ChapterTally.Failed != 1 {
		t.Fatalf("chapter tally = %s", rep.ChapterTally)
	}
	if rep.Chapters[1].Status != domain.StatusFailed || rep.Chapters[1].Reason == "" {
		t.Fatalf("missing content chapter should fail with a reason: %+v", rep.Chapters[1])
	}
	if rep.Reviews != 2 || rep.CommentsPersisted != 2 {
		t.Fatalf("reviews=%d comments=%d", rep.Reviews, rep.CommentsPersisted)
	}
	if st.ChapterDocs.Len() != 2 || st.CommentDocs.Len() != 2 || st.ReviewDocs.Len() != 2 {
		t.Fatalf("stored chapters=%d comments=%d reviews=%d", st.ChapterDocs.Len(), st.CommentDocs.Len(), st.ReviewDocs.Len())
	}

	story, err := st.Stories.FindOne(context.Background(), store.StoryByTitle("Story"))
	if err != nil {
		t.Fatal(err)
	}
	if story.Author != "author" || story.Statistics.Followers != 1200 || story.Source != domain.SourceRoyalRoad {
		t.Fatalf("unexpected story %+v", story)
	}
	ch, err := st.Chapters.FindOne(context.Background(), store.ChapterByURL(tocURL+"/chapter/100/a"))
	if err != nil {
		t.Fatal(err)
	}
	if ch.StoryID != story.ID || ch.Title != "Chapter A" || ch.Content != "alpha text" {
		t.Fatalf("unexpected chapter %+v", ch)
	}

	if len(catalog.stories) != 1 {
		t.Fatal("catalog should see the story even though it errors")
	}
	if len(events.events) != 1 || events.events[0] != "harvest.completed" {
		t.Fatalf("events = %v", events.events)
	}
	if progress.Len() == 0 {
		t.Fatal("expected progress output")
	}
	if v := reg.Counter(metrics.WithLabels("storyrag_chapters_total", "status", "imported"), "").Value(); v != 2 {
		t.Fatalf("imported counter = %d", v)
	}
}

func TestCrawler_SecondRunUpdatesAndSkips(t *testing.T) {
	site := newSite("10")
	st := store.NewMemory()
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	c := NewCrawler(site, st.Store, Options{BaseURL: base, Now: func() time.Time { return now }})
	if _, err := c.Run(context.Background(), tocURL); err != nil {
		t.Fatal(err)
	}

	site.set(tocURL, toc("99"))
	now = now.Add(24 * time.Hour)
	rep, err := c.Run(context.Background(), tocURL)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Created {
		t.Fatal("second run must update, not create")
	}
	if rep.ChapterTally.Skipped != 2 || rep.ChapterTally.Failed != 1 {
		t.Fatalf("chapter tally = %s", rep.ChapterTally)
	}
	if site.count(tocURL+"/chapter/100/a") != 1 {
		t.Fatal("stored chapters must not be re-fetched")
	}
	if site.count(tocURL+"/chapter/101/b") != 2 {
		t.Fatal("failed chapters are retried on the next run")
	}
	if st.StoryDocs.Len() != 1 || st.ChapterDocs.Len() != 2 || st.CommentDocs.Len() != 2 || st.ReviewDocs.Len() != 2 {
		t.Fatal("second run must not duplicate records")
	}

	story, _ := st.Stories.FindOne(context.Background(), store.StoryByTitle("Story"))
	if story.Statistics.Followers != 99 || !story.UpdatedAt.Equal(now) {
		t.Fatalf("statistics not refreshed: %+v", story)
	}
	if !story.CreatedAt.Equal(now.Add(-24 * time.Hour)) {
		t.Fatalf("created_at changed: %v", story.CreatedAt)
	}
}

func TestCrawler_NoChapters(t *testing.T) {
	site := newFakeSite()
	site.set(tocURL, `<html><body><h1>Not a story</h1></body></html>`)
	st := store.NewMemory()
	_, err := NewCrawler(site, st.Store, Options{BaseURL: base}).Run(context.Background(), tocURL)
	if !errors.Is(err, ErrNoChapters) {
		t.Fatalf("expected ErrNoChapters, got %v", err)
	}
	if st.StoryDocs.Len() != 0 {
		t.Fatal("no story should be stored")
	}
}

func TestCrawler_TOCFetchFails(t *testing.T) {
	site := newFakeSite()
	site.fail[tocURL] = errTransport
	_, err := NewCrawler(site, store.NewMemory().Store, Options{}).Run(context.Background(), tocURL)
	if !errors.Is(err, errTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestCrawler_ChapterInsertFailureIsolated(t *testing.T) {
	site := newSite("1")
	st := store.NewMemory()
	st.ChapterDocs.FailWith("insert", errors.New("disk full"))
	rep, err := NewCrawler(site, st.Store, Options{BaseURL: base}).Run(context.Background(), tocURL)
	if err != nil {
		t.Fatal(err)
	}
	if rep.ChapterTally.Failed != 3 {
		t.Fatalf("chapter tally = %s", rep.ChapterTally)
	}
	if st.CommentDocs.Len() != 0 {
		t.Fatal("comments are only harvested for stored chapters")
	}
}

func TestCrawler_StoryWriteFailurePropagates(t *testing.T) {
	site := newSite("1")
	st := store.NewMemory()
	st.StoryDocs.FailWith("find", repo.ErrNotFound)
	st.StoryDocs.FailWith("insert", errors.New("not primary"))
	if _, err := NewCrawler(site, st.Store, Options{BaseURL: base}).Run(context.Background(), tocURL); err == nil {
		t.Fatal("expected story insert failure")
	}
}
