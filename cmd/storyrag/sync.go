package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/storyrag/storyrag/engine/ingest"
)

func newSyncCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Chunk and embed stored stories, chapters and reviews",
		Long: `Embeds every story summary, chapter and review that has no passage yet.
A chapter is written only once all of its chunks embedded; anything that
failed is picked up again by the next run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load(true)
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			emb, err := a.embedder()
			if err != nil {
				return err
			}
			deps := ingest.Deps{
				Store:    a.store,
				Embedder: emb,
				Metrics:  a.metrics,
				Logger:   a.log,
			}
			if a.vectors != nil {
				if cfg.Embedding.Dimensions > 0 {
					if err := a.vectors.EnsureCollection(cmd.Context(), cfg.Embedding.Dimensions); err != nil {
						return err
					}
				}
				deps.Mirror = a.vectors
			}
			if a.events != nil {
				deps.Events = a.events
			}
			p := ingest.New(deps, ingest.Options{
				ChunkSize:       cfg.Sync.ChunkSize,
				ChunkOverlap:    cfg.Sync.ChunkOverlap,
				MinReviewLength: cfg.Sync.MinReviewLength,
				SummaryDelay:    cfg.Sync.SummaryDelay,
				ChunkDelay:      cfg.Sync.ChunkDelay,
				ReviewDelay:     cfg.Sync.ReviewDelay,
			})

			rep, err := p.Run(cmd.Context())
			printSync(cmd, rep)
			return err
		},
	}
}

func printSync(cmd *cobra.Command, rep ingest.Report) {
	for _, s := range []ingest.StageReport{rep.Summaries, rep.Chapters, rep.Reviews} {
		if s.DataType == "" {
			continue
		}
		cmd.Printf("%-16s %s chunks=%d\n", s.DataType, s.Tally, s.Chunks)
	}
	cmd.Printf("total chunks=%d in %s\n", rep.Chunks(), rep.Elapsed.Round(time.Millisecond))
}
