package preflight_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shadowctl/shadow/internal/preflight"
	"github.com/shadowctl/shadow/internal/runtime"
)

// fakeAdapter answers every runtime call with a canned success, letting
// preflight tests exercise the environment/smoke paths without a real
// container engine.
type fakeAdapter struct {
	running    bool
	toolsFound map[string]bool
}

func (f *fakeAdapter) Name() string { return "fake" }
func (f *fakeAdapter) Run(ctx context.Context, image, name string, mounts []runtime.Mount, env []string, limits runtime.Limits) (string, error) {
	return "id", nil
}
func (f *fakeAdapter) Exec(ctx context.Context, container string, command []string, opts runtime.ExecOptions) (runtime.ExecResult, error) {
	joined := strings.Join(command, " ")
	switch {
	case strings.Contains(joined, "api/v1/version"):
		return runtime.ExecResult{ExitCode: 0, Stdout: `{"version":"1.22"}`}, nil
	case strings.Contains(joined, "api/v1/user"):
		return runtime.ExecResult{ExitCode: 0, Stdout: `{"login":"shadow"}`}, nil
	case strings.Contains(joined, "api/v1/repos"):
		return runtime.ExecResult{ExitCode: 0, Stdout: "\n200"}, nil
	case strings.Contains(joined, "command -v"):
		for tool, found := range f.toolsFound {
			if strings.Contains(joined, tool) {
				if found {
					return runtime.ExecResult{ExitCode: 0, Stdout: "/usr/bin/" + tool}, nil
				}
				return runtime.ExecResult{ExitCode: 1}, nil
			}
		}
		return runtime.ExecResult{ExitCode: 0, Stdout: "/usr/bin/tool"}, nil
	case joined == "sh -c env":
		return runtime.ExecResult{ExitCode: 0, Stdout: "ANTHROPIC_API_KEY=secret\nPATH=/usr/bin"}, nil
	case strings.Contains(joined, "get-regexp"):
		return runtime.ExecResult{ExitCode: 0, Stdout: "everything-matches"}, nil
	case strings.Contains(joined, "git clone"):
		return runtime.ExecResult{ExitCode: 0, Stdout: "aaaaaaabbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb\n"}, nil
	default:
		return runtime.ExecResult{ExitCode: 0}, nil
	}
}
func (f *fakeAdapter) ExecInteractive(container, shell, workdir string) error { return nil }
func (f *fakeAdapter) Stop(ctx context.Context, container string) error      { return nil }
func (f *fakeAdapter) Remove(ctx context.Context, container string, force bool) error { return nil }
func (f *fakeAdapter) Exists(ctx context.Context, container string) (bool, error)    { return f.running, nil }
func (f *fakeAdapter) IsRunning(ctx context.Context, container string) (bool, error) { return f.running, nil }
func (f *fakeAdapter) Logs(ctx context.Context, container string, tail int) (string, error) {
	return "", nil
}

func TestPreCreateNoRuntimeRecommendsHostFallback(t *testing.T) {
	report := preflight.PreCreate(context.Background(), "")
	if report.Fallback != nil {
		assert.False(t, report.Fallback.CanCreateShadow)
		assert.Equal(t, "host", report.Fallback.Mode)
	}
}

func TestEnvironmentFailsWhenContainerNotRunning(t *testing.T) {
	adapter := &fakeAdapter{running: false}
	report := preflight.Environment(context.Background(), adapter, "shadow-x", nil)
	require.False(t, report.Passed)
	found := false
	for _, c := range report.Checks {
		if c.Name == "container_running" {
			found = true
			assert.False(t, c.Passed)
		}
	}
	assert.True(t, found)
}

func TestEnvironmentPassesWithToolsAndForgeReady(t *testing.T) {
	adapter := &fakeAdapter{running: true, toolsFound: map[string]bool{"git": true, "curl": true, "bash": true}}
	// No sources: exercises the forge/tools/api-key checks without also
	// depending on a rewrite-rule readback the fake adapter doesn't track.
	report := preflight.Environment(context.Background(), adapter, "shadow-x", nil)
	assert.True(t, report.Passed)
}

func TestHealthSubsetChecksContainerAndForgeOnly(t *testing.T) {
	adapter := &fakeAdapter{running: true}
	report := preflight.Health(context.Background(), adapter, "shadow-x")
	assert.True(t, report.Passed)
	assert.Len(t, report.Checks, 2)
}

func TestSmokeMismatchFails(t *testing.T) {
	adapter := &fakeAdapter{running: true}
	result := preflight.Smoke(context.Background(), adapter, "shadow-x", "acme", "widgets", "ccccccc0000000000000000000000000000000")
	assert.Equal(t, "FAILED", result.Status)
}

func TestSmokeMatchPasses(t *testing.T) {
	adapter := &fakeAdapter{running: true}
	result := preflight.Smoke(context.Background(), adapter, "shadow-x", "acme", "widgets", "aaaaaaabbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	assert.Equal(t, "PASSED", result.Status)
}
