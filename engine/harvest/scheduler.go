package harvest

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/storyrag/storyrag/engine/domain"
)

// Task processes one URL. It must report its own failure in the Outcome.
type Task func(ctx context.Context, url string) domain.Outcome

// Progress prints "completed/total" lines. Writes are serialized; the count
// itself is atomic so it is exact whatever order tasks finish in.
type Progress struct {
	mu    sync.Mutex
	w     io.Writer
	total int
	done  atomic.Int64
}

// NewProgress reports to w. A nil w only counts.
func NewProgress(w io.Writer, total int) *Progress {
	return &Progress{w: w, total: total}
}

// Step records one completion and prints it. Printing happens under the
// lock so lines appear in count order.
func (p *Progress) Step() int64 {
	if p.w == nil {
		return p.done.Add(1)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.done.Add(1)
	pct := 100.0
	if p.total > 0 {
		pct = float64(n) / float64(p.total) * 100
	}
	fmt.Fprintf(p.w, "⏳ %d/%d (%.1f%%)\n", n, p.total, pct)
	return n
}

// Done returns the number of completions so far.
func (p *Progress) Done() int64 { return p.done.Load() }

// RunAll runs task once for every url with at most limit in flight. limit
// workers pull from a shared queue; a failing or panicking task never stops
// the others. Outcomes are returned in input order.
func RunAll(ctx context.Context, urls []string, limit int, task Task, progress *Progress) []domain.Outcome {
	out := make([]domain.Outcome, len(urls))
	if len(urls) == 0 {
		return out
	}
	if limit < 1 {
		limit = 1
	}
	if limit > len(urls) {
		limit = len(urls)
	}
	if progress == nil {
		progress = NewProgress(nil, len(urls))
	}

	queue := make(chan int, len(urls))
	for i := range urls {
		queue <- i
	}
	close(queue)

	var g errgroup.Group
	for w := 0; w < limit; w++ {
		g.Go(func() error {
			for i := range queue {
				out[i] = runOne(ctx, urls[i], task)
				progress.Step()
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func runOne(ctx context.Context, url string, task Task) (o domain.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			o = domain.Failed(url, fmt.Errorf("harvest: task panicked: %v", r))
		}
	}()
	if err := ctx.Err(); err != nil {
		return domain.Failed(url, err)
	}
	o = task(ctx, url)
	if o.Key == "" {
		o.Key = url
	}
	return o
}
