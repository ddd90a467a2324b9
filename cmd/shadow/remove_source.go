package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shadowctl/shadow/internal/diagnostics"
)

var removeSourceCmd = &cobra.Command{
	Use:   "remove-source <shadow-id> <org/name>",
	Short: "Remove a source from a shadow and purge its snapshot bundles",
	Long: `Deletes org/name's forge repository and drops its metadata entry.
Once no other source in the shadow still references that org, its snapshot
bundles under <shadow-dir>/snapshots/<org>/ are purged too.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		mgr, _, err := newManager()
		if err != nil {
			return emit(diagnostics.Fail(err, nil), nil)
		}

		if err := mgr.RemoveSource(ctx, args[0], args[1]); err != nil {
			return emit(diagnostics.Fail(err, nil), nil)
		}

		return emit(diagnostics.Ok(map[string]string{"shadow_id": args[0], "source": args[1]}), func(diagnostics.Envelope) {
			fmt.Printf("%s: removed %s\n", args[0], args[1])
		})
	},
}

func init() {
	rootCmd.AddCommand(removeSourceCmd)
}
