package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shadowctl/shadow/internal/diagnostics"
)

var syncSourceCmd = &cobra.Command{
	Use:   "sync-source <shadow-id> <local_path:org/name[@ref]>",
	Short: "Re-snapshot and force-push a source, or add it if new",
	Long: `Unlike add-source, sync-source succeeds unconditionally: an
already-present org/name is re-snapshotted and force-pushed, and known
dependency-tool caches are cleared so the next invocation observes it.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		mgr, _, err := newManager()
		if err != nil {
			return emit(diagnostics.Fail(err, nil), nil)
		}

		if err := mgr.SyncSource(ctx, args[0], args[1]); err != nil {
			return emit(diagnostics.Fail(err, nil), nil)
		}

		return emit(diagnostics.Ok(map[string]string{"shadow_id": args[0], "source": args[1]}), func(diagnostics.Envelope) {
			fmt.Printf("%s: synced %s\n", args[0], args[1])
		})
	},
}

func init() {
	rootCmd.AddCommand(syncSourceCmd)
}
