package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/shadowctl/shadow/internal/diagnostics"
	"github.com/shadowctl/shadow/internal/manager"
	"github.com/shadowctl/shadow/internal/preflight"
)

var (
	createName     string
	createSources  []string
	createFromFile string
	createImageTag string
	createEnv      []string
	createTimeout  time.Duration
	createVerify   bool
)

// sourcesFile is the shape of a --from-file sources.yaml document: a flat
// list of the same local_path:org/name[@ref] mappings --from accepts.
type sourcesFile struct {
	Sources []string `yaml:"sources"`
}

func loadSourcesFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f sourcesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return f.Sources, nil
}

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Provision a new shadow environment",
	Long: `Create a shadow: snapshot every --from local source (including
uncommitted changes), build or reuse the base image, start the container,
provision the embedded forge, and install rewrite rules so dependency tools
resolve transparently to it.`,
	Example: `  shadow create --from /home/me/widgets:acme/widgets
  shadow create --name demo --from /home/me/widgets:acme/widgets@main --verify`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		mgr, _, err := newManager()
		if err != nil {
			return emit(diagnostics.Fail(err, nil), printCreateHuman)
		}

		env := map[string]string{}
		for _, kv := range createEnv {
			parts := strings.SplitN(kv, "=", 2)
			if len(parts) == 2 {
				env[parts[0]] = parts[1]
			}
		}

		sources := createSources
		if createFromFile != "" {
			fileSources, err := loadSourcesFile(createFromFile)
			if err != nil {
				return emit(diagnostics.Fail(err, nil), printCreateHuman)
			}
			sources = append(sources, fileSources...)
		}

		createCtx := ctx
		if createTimeout > 0 {
			var cancel context.CancelFunc
			createCtx, cancel = context.WithTimeout(ctx, createTimeout)
			defer cancel()
		}

		handle, err := mgr.Create(createCtx, manager.CreateOptions{
			Name: createName, Sources: sources, ImageTag: createImageTag, Env: env,
		})
		if err != nil {
			return emit(diagnostics.Fail(err, nil), printCreateHuman)
		}

		var smoke *diagnostics.SmokeResult
		if createVerify && len(handle.Info.Sources) > 0 {
			first := handle.Info.Sources[0]
			org, name, ok := splitFullName(first.Repo)
			if ok {
				result := preflight.Smoke(createCtx, handle.Env.Runtime, handle.Info.ContainerName, org, name, first.SnapshotCommit)
				smoke = &result
			}
		}

		output := struct {
			diagnostics.ShadowInfo
			Smoke *diagnostics.SmokeResult `json:"smoke,omitempty"`
		}{ShadowInfo: handle.Info, Smoke: smoke}

		return emit(diagnostics.Ok(output), func(diagnostics.Envelope) {
			fmt.Printf("%s created (container %s)\n", handle.Info.ShadowID, handle.Info.ContainerName)
			for _, s := range handle.Info.Sources {
				fmt.Printf("  %s @ %s\n", s.Repo, shortCommit(s.SnapshotCommit))
			}
			if smoke != nil {
				printCheck("smoke test", smoke.Status == "PASSED", smoke.Evidence)
			}
		})
	},
}

func init() {
	createCmd.Flags().StringVar(&createName, "name", "", "shadow id (default: generated petname)")
	createCmd.Flags().StringArrayVar(&createSources, "from", nil, "local_path:org/name[@ref] mapping, repeatable")
	createCmd.Flags().StringVar(&createFromFile, "from-file", "", "YAML file listing additional source mappings under a top-level 'sources' key")
	createCmd.Flags().StringVar(&createImageTag, "image-tag", "", "override the base image tag")
	createCmd.Flags().StringArrayVar(&createEnv, "env", nil, "KEY=VALUE to pass into the container, repeatable")
	createCmd.Flags().DurationVar(&createTimeout, "timeout", 0, "cancel create after this duration (e.g. 2m)")
	createCmd.Flags().BoolVar(&createVerify, "verify", false, "run the end-to-end smoke test after provisioning")
	rootCmd.AddCommand(createCmd)
}

func printCreateHuman(env diagnostics.Envelope) {
	if !env.Success && env.Error != nil {
		fmt.Println(failStyle.Render("create failed: " + env.Error.Message))
	}
}

func splitFullName(repo string) (org, name string, ok bool) {
	parts := strings.SplitN(repo, "/", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func shortCommit(commit string) string {
	if len(commit) >= 7 {
		return commit[:7]
	}
	return commit
}
