package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shadowctl/shadow/internal/diagnostics"
	"github.com/shadowctl/shadow/internal/preflight"
)

var statusHealthCheck bool

var statusCmd = &cobra.Command{
	Use:   "status <shadow-id>",
	Short: "Show a shadow's recorded metadata",
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

		var health *diagnostics.Report
		if statusHealthCheck {
			r := preflight.Health(ctx, handle.Env.Runtime, handle.Info.ContainerName)
			health = &r
		}

		output := struct {
			diagnostics.ShadowInfo
			Health *diagnostics.Report `json:"health,omitempty"`
		}{ShadowInfo: handle.Info, Health: health}

		return emit(diagnostics.Ok(output), func(diagnostics.Envelope) {
			fmt.Printf("%s  status=%s  container=%s\n", handle.Info.ShadowID, handle.Info.Status, handle.Info.ContainerName)
			for _, s := range handle.Info.Sources {
				fmt.Printf("  %s @ %s\n", s.Repo, shortCommit(s.SnapshotCommit))
			}
			if health != nil {
				for _, c := range health.Checks {
					printCheck(c.Name, c.Passed, c.Detail)
				}
			}
		})
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusHealthCheck, "health-check", false, "append an on-demand container/forge health diagnostic")
	rootCmd.AddCommand(statusCmd)
}
