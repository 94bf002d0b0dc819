package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/abramin/upstream/internal/workspace"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent searches",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withWorkspace(cmd, func(ctx context.Context, ws *workspace.Workspace) error {
			records, err := ws.History(historyLimit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println("No searches yet")
				return nil
			}

			tw := tabwriter.NewWriter(cmdOut, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "WHEN\tMODE\tSYMBOL\tMETHODS\tREFS\tSTRATEGY\tTOOK")
			for _, r := range records {
				symbol := r.Symbol
				if r.Namespace != "" {
					symbol = r.Namespace + "." + r.Symbol
				}
				if r.Cancelled {
					symbol += " (cancelled)"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					humanize.Time(r.StartedAt),
					r.Mode,
					symbol,
					humanize.Comma(int64(r.Methods)),
					humanize.Comma(int64(r.References)),
					r.Strategy,
					r.Duration.Round(time.Millisecond),
				)
			}
			return tw.Flush()
		})
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of searches to list")
}
