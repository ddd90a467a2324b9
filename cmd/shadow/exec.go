package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/shadowctl/shadow/internal/diagnostics"
)

var execTimeout time.Duration

var execCmd = &cobra.Command{
	Use:   "exec <shadow-id> -- <command> [args...]",
	Short: "Run a command inside a shadow's workspace",
	Args:  cobra.MinimumNArgs(2),
	Example: `  shadow exec demo -- go test ./...
  shadow exec demo --timeout 30s -- ls -la`,
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

		result, err := handle.Env.Exec(ctx, args[1:], execTimeout)
		if err != nil {
			return emit(diagnostics.Fail(err, nil), nil)
		}

		env := diagnostics.Ok(result)
		if !result.Success() {
			env.Success = false
			env.Error = &diagnostics.ErrorDetail{Message: fmt.Sprintf("command exited %d", result.ExitCode)}
		}

		cmd.SilenceErrors = true
		cmd.SilenceUsage = true
		if emitErr := emit(env, func(diagnostics.Envelope) {
			fmt.Print(result.Stdout)
			if result.Stderr != "" {
				fmt.Fprint(cmd.ErrOrStderr(), result.Stderr)
			}
		}); emitErr != nil && result.ExitCode != 0 {
			return errExitCode(result.ExitCode)
		}
		return nil
	},
}

func init() {
	execCmd.Flags().DurationVar(&execTimeout, "timeout", 60*time.Second, "command timeout")
	rootCmd.AddCommand(execCmd)
}
