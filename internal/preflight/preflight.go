// Package preflight implements §4.I: pre-create readiness checks, an
// already-running shadow's environment preflight, the on-demand health
// subset surfaced on status, and the create-time smoke test.
//
// Grounded on cmd/container-use/diagnostics.go's Collect/collector
// pattern — a struct of named checks assembled by small focused methods —
// generalized from its host-side git/docker/filesystem probes to a mix of
// host-side runtime.Probe and in-container checks run through the
// Container Runtime Adapter's Exec.
package preflight

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shadowctl/shadow/internal/config"
	"github.com/shadowctl/shadow/internal/diagnostics"
	"github.com/shadowctl/shadow/internal/forge"
	"github.com/shadowctl/shadow/internal/image"
	"github.com/shadowctl/shadow/internal/rewrite"
	"github.com/shadowctl/shadow/internal/runtime"
)

const checkTimeout = 10 * time.Second

// PreCreate runs the readiness checks that do not require a shadow id:
// container runtime detection, daemon reachability, base image presence
// (absent is reported but not fatal), and which auto-passthrough API-key
// variables are present in the caller's environment.
func PreCreate(ctx context.Context, imageTag string) diagnostics.Report {
	var checks []diagnostics.Check

	probes := runtime.Probe()
	var chosen *runtime.ProbeResult
	for i := range probes {
		p := probes[i]
		checks = append(checks, diagnostics.Check{
			Name:   fmt.Sprintf("%s_installed", p.Name),
			Passed: p.Present,
		})
		if p.Present {
			checks = append(checks, diagnostics.Check{
				Name:   fmt.Sprintf("%s_daemon_reachable", p.Name),
				Passed: p.DaemonReachable,
			})
		}
		if p.Present && p.DaemonReachable && chosen == nil {
			chosen = &probes[i]
		}
	}

	imageExists := false
	if chosen != nil {
		if imageTag == "" {
			imageTag = image.DefaultTag
		}
		builder := image.NewBuilder(chosen.Name)
		imageExists, _ = builder.ImageExists(ctx, imageTag)
	}
	checks = append(checks, diagnostics.Check{
		Name:   "base_image_present",
		Passed: imageExists,
		Detail: "absent is not fatal: create auto-builds the image",
	})

	var presentKeys []string
	for _, name := range config.AutoPassthroughVars {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			presentKeys = append(presentKeys, name)
		}
	}
	checks = append(checks, diagnostics.Check{
		Name:   "api_key_vars_detected",
		Passed: len(presentKeys) > 0,
		Detail: strings.Join(presentKeys, ","),
	})

	report := diagnostics.Report{Checks: checks}
	report.Passed = chosen != nil

	if chosen == nil {
		reason := "container_runtime_not_installed"
		anyPresent := false
		for _, p := range probes {
			if p.Present {
				anyPresent = true
			}
		}
		if anyPresent {
			reason = "container_runtime_daemon_unreachable"
		}
		report.Fallback = &diagnostics.FallbackHint{
			Reason:            reason,
			Mode:              "host",
			CanCreateShadow:   false,
			RecommendedAction: "install or start podman/docker, or run commands directly on the host",
		}
	}

	return report
}

// Environment runs the §4.I environment preflight for an already-running
// shadow: container up, forge responsive, each source present on the
// forge, required tool binaries inside the container, at least one
// API-key variable present in the container environment, and rewrite
// rules installed.
func Environment(ctx context.Context, rt runtime.Adapter, containerName string, sources []diagnostics.SourceInfo) diagnostics.Report {
	var checks []diagnostics.Check

	running, _ := rt.IsRunning(ctx, containerName)
	checks = append(checks, diagnostics.Check{Name: "container_running", Passed: running})
	if !running {
		return diagnostics.Report{Passed: false, Checks: checks}
	}

	forgeClient := forge.NewClient(rt, containerName)
	forgeCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	forgeErr := forgeClient.WaitReady(forgeCtx, 3*time.Second)
	cancel()
	checks = append(checks, diagnostics.Check{Name: "forge_responsive", Passed: forgeErr == nil})

	allPresent := true
	var rules []rewrite.Rule
	for _, s := range sources {
		org, name, ok := splitRepo(s.Repo)
		if !ok {
			continue
		}
		exists, _ := forgeClient.RepoExists(ctx, org, name)
		checks = append(checks, diagnostics.Check{
			Name:   "forge_repo_present:" + s.Repo,
			Passed: exists,
		})
		if !exists {
			allPresent = false
		}
		rules = append(rules, rewrite.Rules("github.com", org, name, forge.DefaultUsername, forge.DefaultPassword)...)
	}

	toolsOK := true
	for _, tool := range config.RequiredContainerTools {
		result, err := rt.Exec(ctx, containerName, []string{"sh", "-c", "command -v " + tool}, runtime.ExecOptions{Timeout: checkTimeout})
		present := err == nil && result.Success()
		checks = append(checks, diagnostics.Check{Name: "tool_present:" + tool, Passed: present})
		if !present {
			toolsOK = false
		}
	}

	envResult, err := rt.Exec(ctx, containerName, []string{"sh", "-c", "env"}, runtime.ExecOptions{Timeout: checkTimeout})
	apiKeyPresent := false
	if err == nil && envResult.Success() {
		for _, name := range config.AutoPassthroughVars {
			if strings.Contains(envResult.Stdout, name+"=") {
				apiKeyPresent = true
				break
			}
		}
	}
	checks = append(checks, diagnostics.Check{Name: "api_key_var_in_container", Passed: apiKeyPresent})

	rewriteOK := true
	if len(rules) > 0 {
		installer := rewrite.NewInstaller(rt, containerName)
		rewriteOK = installer.Verify(ctx, rules) == nil
	}
	checks = append(checks, diagnostics.Check{Name: "rewrite_rules_installed", Passed: rewriteOK})

	passed := running && forgeErr == nil && allPresent && toolsOK && rewriteOK
	return diagnostics.Report{Passed: passed, Checks: checks}
}

// Health is the on-demand subset of Environment surfaced as a diagnostic
// appendix on `status`: container liveness and forge responsiveness only,
// skipping the more expensive per-source and rewrite-readback checks.
func Health(ctx context.Context, rt runtime.Adapter, containerName string) diagnostics.Report {
	var checks []diagnostics.Check

	running, _ := rt.IsRunning(ctx, containerName)
	checks = append(checks, diagnostics.Check{Name: "container_running", Passed: running})

	forgeOK := false
	if running {
		forgeClient := forge.NewClient(rt, containerName)
		forgeCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		forgeOK = forgeClient.WaitReady(forgeCtx, 3*time.Second) == nil
		cancel()
	}
	checks = append(checks, diagnostics.Check{Name: "forge_responsive", Passed: forgeOK})

	return diagnostics.Report{Passed: running && forgeOK, Checks: checks}
}

// Smoke clones org/name inside the container using the public-forge URL
// shape (which must be rewritten transparently by the installed rewrite
// rules to resolve against the local forge), checks out expectedCommit,
// and compares the resulting HEAD's leading 7 hex characters.
func Smoke(ctx context.Context, rt runtime.Adapter, containerName, org, name, expectedCommit string) diagnostics.SmokeResult {
	cloneDir := "/tmp/_smoke_" + name
	script := fmt.Sprintf(
		"rm -rf %s && git clone https://github.com/%s/%s.git %s && cd %s && git checkout -q %s && git rev-parse HEAD",
		cloneDir, org, name, cloneDir, cloneDir, expectedCommit)

	result, err := rt.Exec(ctx, containerName, []string{"sh", "-c", script}, runtime.ExecOptions{Timeout: 30 * time.Second})
	if err != nil || !result.Success() {
		detail := ""
		if err != nil {
			detail = err.Error()
		} else {
			detail = strings.TrimSpace(result.Stderr)
		}
		return diagnostics.SmokeResult{
			Status:   "FAILED",
			Evidence: fmt.Sprintf("clone/checkout failed: %s", detail),
		}
	}

	actual := strings.TrimSpace(result.Stdout)
	want := shortHash(expectedCommit)
	got := shortHash(actual)
	if want != got {
		return diagnostics.SmokeResult{
			Status:   "FAILED",
			Evidence: fmt.Sprintf("expected HEAD %s, got %s", want, got),
		}
	}
	return diagnostics.SmokeResult{Status: "PASSED", Evidence: got}
}

func shortHash(commit string) string {
	if len(commit) >= 7 {
		return commit[:7]
	}
	return commit
}

func splitRepo(repo string) (org, name string, ok bool) {
	parts := strings.SplitN(repo, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
