package harvest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/storyrag/storyrag/pkg/fn"
)

// fakeSite serves canned bodies by URL and records every request.
type fakeSite struct {
	mu    sync.Mutex
	pages map[string]string
	fail  map[string]error
	hits  map[string]int
}

func newFakeSite() *fakeSite {
	return &fakeSite{pages: map[string]string{}, fail: map[string]error{}, hits: map[string]int{}}
}

func (f *fakeSite) Get(_ context.Context, url string) fn.Result[string] {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hits[url]++
	if err, ok := f.fail[url]; ok {
		return fn.Err[string](err)
	}
	if body, ok := f.pages[url]; ok {
		return fn.Ok(body)
	}
	return fn.Err[string](fmt.Errorf("http 404 from %s", url))
}

func (f *fakeSite) set(url, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[url] = body
}

func (f *fakeSite) count(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[url]
}

var errTransport = errors.New("connection reset")

// reviewsPage renders n review nodes numbered from first.
func reviewsPage(first, n int) string {
	s := "<html><body>"
	for i := first; i < first+n; i++ {
		s += fmt.Sprintf(`<div class="review" id="review-%d"><div class="review-meta"><a>reader%d</a></div>`+
			`<div class="scores"><span>Overall Score</span><span aria-label="4 stars"></span></div>`+
			`<div class="review-content">Review number %d is long enough to embed later.</div></div>`, i, i, i)
	}
	return s + "</body></html>"
}

// commentsPage renders n comments numbered from first, with a link to next
// when next > 0.
func commentsPage(first, n, next int) string {
	s := "<div>"
	for i := first; i < first+n; i++ {
		s += fmt.Sprintf(`<div class="comment"><h4><span class="name"><a>user%d</a></span></h4>`+
			`<div class="comment-body">comment %d</div><time unixtime="%d">t</time></div>`, i, i, 1700000000+i)
	}
	if next > 0 {
		s += fmt.Sprintf(`<ul class="pagination"><li><a href="?comments=%d">%d</a></li></ul>`, next, next)
	}
	return s + "</div>"
}
