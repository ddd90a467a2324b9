package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shadowctl/shadow/internal/diagnostics"
)

var addSourceCmd = &cobra.Command{
	Use:   "add-source <shadow-id> <local_path:org/name[@ref]>",
	Short: "Add a new local source to an existing shadow",
	Long:  `Snapshot a new local repository and provision it on the shadow's forge. Fails if the mapping's org/name is already present.`,
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		mgr, _, err := newManager()
		if err != nil {
			return emit(diagnostics.Fail(err, nil), nil)
		}

		if err := mgr.AddSource(ctx, args[0], args[1]); err != nil {
			return emit(diagnostics.Fail(err, nil), nil)
		}

		return emit(diagnostics.Ok(map[string]string{"shadow_id": args[0], "source": args[1]}), func(diagnostics.Envelope) {
			fmt.Printf("%s: added %s\n", args[0], args[1])
		})
	},
}

func init() {
	rootCmd.AddCommand(addSourceCmd)
}
