package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/shadowctl/shadow/internal/diagnostics"
)

var (
	batchCommands []string
	batchFailFast bool
	batchTimeout  time.Duration
)

var execBatchCmd = &cobra.Command{
	Use:   "exec-batch <shadow-id>",
	Short: "Run a sequence of shell commands inside a shadow",
	Long: `Runs every --cmd in order. With --fail-fast (the default),
stops at the first non-zero exit and reports steps up to and including it.`,
	Args: cobra.ExactArgs(1),
	Example: `  shadow exec-batch demo --cmd "go build ./..." --cmd "go test ./..."`,
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

		commands := make([][]string, len(batchCommands))
		for i, c := range batchCommands {
			commands[i] = []string{"sh", "-c", c}
		}

		result, err := handle.Env.ExecBatch(ctx, commands, batchTimeout, batchFailFast)
		if err != nil {
			return emit(diagnostics.Fail(err, nil), nil)
		}

		env := diagnostics.Ok(result)
		env.Success = result.Success

		return emit(env, func(diagnostics.Envelope) {
			for i, step := range result.Steps {
				printCheck(fmt.Sprintf("[%d] %s", i, strings.TrimPrefix(step.Command, "sh -c ")), step.Success(), "")
			}
			if result.FailedAt != nil {
				fmt.Printf("stopped at step %d\n", *result.FailedAt)
			}
		})
	},
}

func init() {
	execBatchCmd.Flags().StringArrayVar(&batchCommands, "cmd", nil, "a shell command to run, repeatable, in order")
	execBatchCmd.Flags().BoolVar(&batchFailFast, "fail-fast", true, "stop at the first failing command")
	execBatchCmd.Flags().DurationVar(&batchTimeout, "timeout", 60*time.Second, "per-command timeout")
	rootCmd.AddCommand(execBatchCmd)
}
