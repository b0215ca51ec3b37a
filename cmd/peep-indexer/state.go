package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show source cursors and ingestion counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		cursors, err := store.ListCursors(ctx)
		if err != nil {
			return err
		}
		counters, err := store.Counters(ctx)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SOURCE\tHEIGHT\tHASH\tUPDATED")
		for _, c := range cursors {
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", c.SourceID, c.Height, c.Hash, c.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z"))
		}
		if len(cursors) == 0 {
			fmt.Fprintln(w, "(no cursors)\t\t\t")
		}
		fmt.Fprintln(w)
		fmt.Fprintf(w, "total peeps\t%d\n", counters.TotalRecords)
		fmt.Fprintf(w, "ipfs not found\t%d\n", counters.TotalResolutionFailures)
		return w.Flush()
	},
}
