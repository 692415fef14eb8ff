package main

import (
	"github.com/spf13/cobra"

	"github.com/storyrag/storyrag/engine/store"
)

func newIndexesCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "indexes",
		Short: "Create the natural-key indexes (and graph constraints when configured)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load(false)
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			created, err := store.EnsureIndexes(cmd.Context(), a.db, names(cfg.Collections))
			if err != nil {
				return err
			}
			for _, name := range created {
				cmd.Println("index", name)
			}
			if a.catalog != nil {
				if err := a.catalog.EnsureConstraints(cmd.Context()); err != nil {
					return err
				}
				cmd.Println("graph constraints ensured")
			}
			return nil
		},
	}
}
