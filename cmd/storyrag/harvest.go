package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/storyrag/storyrag/engine/domain"
	"github.com/storyrag/storyrag/engine/harvest"
)

func newHarvestCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "harvest <toc-url>...",
		Short: "Crawl stories with their chapters, reviews and comments",
		Long: `Crawls each table-of-contents URL in turn. Stories are matched by title,
chapters by URL, reviews by (story, reviewer) and comments by
(chapter, user, date), so rerunning a harvest only fetches what is new.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load(false)
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			opts := harvest.Options{
				BaseURL:     cfg.Site.BaseURL,
				Concurrency: cfg.Harvest.Concurrency,
				Reviews:     harvest.Listing{Target: cfg.Harvest.ReviewTarget, Delay: cfg.Harvest.ReviewPageDelay},
				Comments:    harvest.Listing{Target: cfg.Harvest.CommentTarget, Delay: cfg.Harvest.CommentPageDelay},
				Metrics:     a.metrics,
				Progress:    cmd.ErrOrStderr(),
				Logger:      a.log,
			}
			if a.catalog != nil {
				opts.Catalog = a.catalog
			}
			if a.events != nil {
				opts.Events = a.events
			}
			crawler := harvest.NewCrawler(a.fetcher(), a.store, opts)

			var failed int
			for _, url := range args {
				rep, err := crawler.Run(cmd.Context(), url)
				if err != nil {
					failed++
					a.log.Error("harvest failed", "url", url, "error", err)
					if cmd.Context().Err() != nil {
						return cmd.Context().Err()
					}
					continue
				}
				printHarvest(cmd, rep)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d stories failed", failed, len(args))
			}
			return nil
		},
	}
}

func printHarvest(cmd *cobra.Command, rep harvest.Report) {
	verb := "updated"
	if rep.Created {
		verb = "created"
	}
	cmd.Printf("%s (%s): chapters %s, reviews=%d comments=%d in %s\n",
		rep.Title, verb, rep.ChapterTally, rep.Reviews, rep.CommentsPersisted, rep.Elapsed.Round(time.Millisecond))
	if s := domain.FailureSummary(rep.Chapters); s != "" {
		cmd.Printf("  failed chapters:\n%s", s)
	}
	if rep.ReviewErr != "" {
		cmd.Printf("  reviews: %s\n", rep.ReviewErr)
	}
}
