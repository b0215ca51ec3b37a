package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/devblac/peep-indexer/internal/peep"
	"github.com/spf13/cobra"
)

var (
	flagExportFormat string
	flagExportOut    string
)

func init() {
	exportCmd.Flags().StringVar(&flagExportFormat, "format", "json", "Output format: json or csv")
	exportCmd.Flags().StringVarP(&flagExportOut, "out", "o", "", "Output file (default stdout)")
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export indexed peeps as json or csv",
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

		out := cmd.OutOrStdout()
		if flagExportOut != "" {
			f, err := os.Create(flagExportOut)
			if err != nil {
				return fmt.Errorf("create %s: %w", flagExportOut, err)
			}
			defer f.Close()
			out = f
		}

		return writePeeps(out, flagExportFormat, func(fn func(peep.Record) error) error {
			return store.EachPeep(ctx, fn)
		})
	},
}

var csvHeader = []string{
	"id", "number", "account", "variant", "content", "pic", "share", "reply_to",
	"timestamp", "created_in_block", "created_in_tx", "created_timestamp",
}

// writePeeps streams records from each to w. json writes one array; csv writes a header row.
func writePeeps(w io.Writer, format string, each func(fn func(peep.Record) error) error) error {
	switch format {
	case "json":
		return writeJSON(w, each)
	case "csv":
		return writeCSV(w, each)
	default:
		return fmt.Errorf("unsupported export format %q (want json or csv)", format)
	}
}

func writeJSON(w io.Writer, each func(fn func(peep.Record) error) error) error {
	if _, err := io.WriteString(w, "["); err != nil {
		return err
	}
	first := true
	err := each(func(r peep.Record) error {
		b, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", r.ID, err)
		}
		if !first {
			if _, err := io.WriteString(w, ",\n"); err != nil {
				return err
			}
		}
		first = false
		_, err = w.Write(b)
		return err
	})
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, "]\n")
	return err
}

func writeCSV(w io.Writer, each func(fn func(peep.Record) error) error) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	err := each(func(r peep.Record) error {
		return cw.Write([]string{
			r.ID,
			strconv.FormatUint(r.Number, 10),
			r.Account,
			string(r.Variant),
			r.Content.OrZero(),
			r.Pic.OrZero(),
			r.Share.OrZero(),
			r.ReplyTo.OrZero(),
			strconv.FormatInt(r.Timestamp, 10),
			strconv.FormatUint(r.CreatedInBlock, 10),
			r.CreatedInTx,
			strconv.FormatUint(r.CreatedTimestamp, 10),
		})
	})
	if err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}
