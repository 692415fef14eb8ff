package main

import (
	"github.com/spf13/cobra"

	"github.com/storyrag/storyrag/pkg/config"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "storyrag",
		Short: "Harvest serialized fiction and build its embedding index",
		Long: `storyrag crawls story pages (table of contents, chapters, reviews and
chapter comments) into MongoDB, then chunks and embeds the stored text into
an append-only passage collection.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", config.DefaultPath, "path to the YAML config file")

	cmd.AddCommand(
		newHarvestCmd(opts),
		newSyncCmd(opts),
		newIndexesCmd(opts),
	)
	return cmd
}

// load reads and validates the configuration. sync additionally needs an
// embedding key.
func (o *rootOptions) load(forSync bool) (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	check := cfg.Validate
	if forSync {
		check = cfg.ValidateSync
	}
	if err := check(); err != nil {
		return nil, err
	}
	return cfg, nil
}
