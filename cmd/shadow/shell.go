package main

import (
	"github.com/spf13/cobra"

	"github.com/shadowctl/shadow/internal/diagnostics"
)

var shellBin string

var shellCmd = &cobra.Command{
	Use:   "shell <shadow-id>",
	Short: "Open an interactive shell inside a shadow's workspace",
	Args:  cobra.ExactArgs(1),
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

		return handle.Env.Shell(shellBin)
	},
}

func init() {
	shellCmd.Flags().StringVar(&shellBin, "shell", "", "shell binary to run (default bash)")
	rootCmd.AddCommand(shellCmd)
}
