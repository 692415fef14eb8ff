// Package harvest drives the crawl of one story: its table of contents, the
// chapter fan-out and the paginated review and comment listings.
package harvest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/storyrag/storyrag/engine/extract"
	"github.com/storyrag/storyrag/pkg/fn"
	"github.com/storyrag/storyrag/pkg/repo"
)

// Source fetches a page body. *scraper.Fetcher implements it.
type Source interface {
	Get(ctx context.Context, url string) fn.Result[string]
}

// Paginator walks pages 1..n of a listing and upserts up to Target items.
type Paginator[T any] struct {
	Name    string
	URL     func(page int) string
	Source  Source
	Extract func(src string, page int) (extract.Page[T], error)
	Op      func(item T) repo.UpsertOp
	Write   func(ctx context.Context, ops []repo.UpsertOp) (repo.BulkResult, error)
	Target  int
	Delay   time.Duration
	Logger  *slog.Logger
}

// Result reports how a listing walk ended. Err is the fetch or extraction
// failure that stopped it early, if any; items already written stay written.
type Result struct {
	Persisted int
	Pages     int
	Err       error
}

// Harvest walks the listing. Only persistence failures are returned as an
// error; everything else ends the walk and is reported in Result.Err.
func (p Paginator[T]) Harvest(ctx context.Context) (Result, error) {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var res Result
	if p.Target <= 0 {
		return res, nil
	}

	for page := 1; ; page++ {
		url := p.URL(page)
		body, err := p.Source.Get(ctx, url).Unwrap()
		if err != nil {
			logger.Warn("listing fetch failed", "listing", p.Name, "url", url, "page", page, "error", err)
			res.Err = err
			return res, nil
		}
		items, err := p.Extract(body, page)
		if err != nil {
			logger.Warn("listing parse failed", "listing", p.Name, "url", url, "page", page, "error", err)
			res.Err = err
			return res, nil
		}
		res.Pages++
		if len(items.Items) == 0 {
			return res, nil
		}

		var ops []repo.UpsertOp
		for _, item := range items.Items {
			if res.Persisted+len(ops) >= p.Target {
				break
			}
			ops = append(ops, p.Op(item))
		}
		if len(ops) > 0 {
			if _, err := p.Write(ctx, ops); err != nil {
				return res, fmt.Errorf("harvest: %s page %d: %w", p.Name, page, err)
			}
			res.Persisted += len(ops)
		}
		logger.Debug("listing page stored", "listing", p.Name, "page", page, "count", len(ops))

		if res.Persisted >= p.Target || !items.HasNext {
			return res, nil
		}
		if err := sleep(ctx, p.Delay); err != nil {
			res.Err = err
			return res, nil
		}
	}
}

// sleep waits d or until ctx is done.
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
