package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/shadowctl/shadow/internal/diagnostics"
)

var listQuiet bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List known shadows",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		mgr, _, err := newManager()
		if err != nil {
			return emit(diagnostics.Fail(err, nil), nil)
		}

		shadows, err := mgr.List(ctx)
		if err != nil {
			return emit(diagnostics.Fail(err, nil), nil)
		}

		if listQuiet && !jsonOutput {
			for _, s := range shadows {
				fmt.Println(s.ShadowID)
			}
			return nil
		}

		return emit(diagnostics.Ok(shadows), func(diagnostics.Envelope) {
			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTATUS\tSOURCES\tCREATED")
			for _, s := range shadows {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", s.ShadowID, s.Status, len(s.Sources), humanize.Time(s.CreatedAt))
			}
			tw.Flush()
		})
	},
}

func init() {
	listCmd.Flags().BoolVarP(&listQuiet, "quiet", "q", false, "display only shadow ids")
	rootCmd.AddCommand(listCmd)
}
