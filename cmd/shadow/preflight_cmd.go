package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shadowctl/shadow/internal/config"
	"github.com/shadowctl/shadow/internal/diagnostics"
	"github.com/shadowctl/shadow/internal/preflight"
)

var preflightImageTag string

// preflightCmd is named for the §4.I operation it wires; the file is
// preflight_cmd.go (not preflight.go) to avoid colliding by name with the
// internal/preflight package it imports.
var preflightCmd = &cobra.Command{
	Use:   "preflight [shadow-id]",
	Short: "Check whether a shadow can be created, or whether one is healthy",
	Long: `With no shadow-id, runs the pre-create checks (runtime presence,
daemon reachability, base image availability). With a shadow-id, runs the
fuller per-environment checks (container, forge, per-source repos, required
tools, rewrite rules).`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		var report diagnostics.Report
		if len(args) == 0 {
			cfg, err := config.Load()
			if err != nil {
				return emit(diagnostics.Fail(err, nil), nil)
			}
			imageTag := preflightImageTag
			if imageTag == "" {
				imageTag = cfg.ImageTag
			}
			report = preflight.PreCreate(ctx, imageTag)
		} else {
			mgr, _, err := newManager()
			if err != nil {
				return emit(diagnostics.Fail(err, nil), nil)
			}
			handle, err := mgr.Get(ctx, args[0])
			if err != nil {
				return emit(diagnostics.Fail(err, nil), nil)
			}
			report = preflight.Environment(ctx, handle.Env.Runtime, handle.Info.ContainerName, handle.Info.Sources)
		}

		env := diagnostics.Ok(report)
		env.Success = report.Passed

		return emit(env, func(diagnostics.Envelope) {
			for _, c := range report.Checks {
				printCheck(c.Name, c.Passed, c.Detail)
			}
			if report.Fallback != nil {
				fmt.Println(dimStyle.Render(fmt.Sprintf("fallback: %s (reason: %s)", report.Fallback.Mode, report.Fallback.Reason)))
			}
		})
	},
}

func init() {
	preflightCmd.Flags().StringVar(&preflightImageTag, "image-tag", "", "base image tag to check for (pre-create only)")
	rootCmd.AddCommand(preflightCmd)
}
