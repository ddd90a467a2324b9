package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/shadowctl/shadow/internal/diagnostics"
)

var extractCmd = &cobra.Command{
	Use:   "extract <shadow-id> <container-path> <host-path>",
	Short: "Copy a file or directory out of a shadow's workspace",
	Long:  `container-path must lie within the workspace mount (/workspace or a subpath).`,
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		mgr, _, err := newManager()
		if err != nil {
			return emit(diagnostics.Fail(err, nil), nil)
		}

		handle, err := mgr.Get(ctx, args[0])
		if err != nil {
			return emit(diagnostics.Fail(err, nil), nil)
		}

		workspaceDir := filepath.Join(handle.Info.ShadowDir, "workspace")
		n, err := handle.Env.Extract(workspaceDir, args[1], args[2])
		if err != nil {
			return emit(diagnostics.Fail(err, nil), nil)
		}

		return emit(diagnostics.Ok(map[string]int64{"bytes_written": n}), func(diagnostics.Envelope) {
			fmt.Printf("extracted %s -> %s (%d bytes)\n", args[1], args[2], n)
		})
	},
}

func init() {
	rootCmd.AddCommand(extractCmd)
}
