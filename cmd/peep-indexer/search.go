package main

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/devblac/peep-indexer/internal/search"
	"github.com/spf13/cobra"
)

var flagSearchLimit int

func init() {
	searchCmd.Flags().IntVarP(&flagSearchLimit, "limit", "n", 20, "Maximum number of hits")
}

var searchCmd = &cobra.Command{
	Use:   "search QUERY",
	Short: "Search indexed peep content",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Global.SearchIndex == "" {
			return errors.New("global.search_index is not configured")
		}
		idx, err := search.Open(cfg.Global.SearchIndex)
		if err != nil {
			return err
		}
		defer idx.Close()

		hits, err := idx.Search(strings.Join(args, " "), flagSearchLimit)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSCORE\tVARIANT\tACCOUNT")
		for _, h := range hits {
			fmt.Fprintf(w, "%s\t%.3f\t%s\t%s\n", h.ID, h.Score, h.Variant, h.Account)
		}
		return w.Flush()
	},
}
