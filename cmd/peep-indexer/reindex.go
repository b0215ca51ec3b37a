package main

import (
	"errors"
	"fmt"

	"github.com/devblac/peep-indexer/internal/peep"
	"github.com/devblac/peep-indexer/internal/search"
	"github.com/spf13/cobra"
)

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the search index from storage",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := newLogger()
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Global.SearchIndex == "" {
			return errors.New("global.search_index is not configured")
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		idx, err := search.Open(cfg.Global.SearchIndex)
		if err != nil {
			return err
		}
		defer idx.Close()

		n, err := idx.Rebuild(func(fn func(peep.Record) error) error {
			return store.EachPeep(ctx, fn)
		})
		if err != nil {
			return fmt.Errorf("reindex after %d peeps: %w", n, err)
		}
		log.Info("reindex complete", "peeps", n, "path", cfg.Global.SearchIndex)
		return nil
	},
}
