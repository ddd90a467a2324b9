package manager_test

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shadowctl/shadow/internal/config"
	"github.com/shadowctl/shadow/internal/diagnostics"
	"github.com/shadowctl/shadow/internal/manager"
	"github.com/shadowctl/shadow/internal/runtime"
	"github.com/shadowctl/shadow/internal/shadowerr"
)

func skipIfNoGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
}

func initRepo(t *testing.T, dir string) {
	t.Helper()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=t", "GIT_AUTHOR_EMAIL=t@t", "GIT_COMMITTER_NAME=t", "GIT_COMMITTER_EMAIL=t@t")
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
	}
	run("init", "--quiet")
	run("config", "user.email", "t@t")
	run("config", "user.name", "t")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "VERSION"), []byte("1.0.0"), 0o644))
	run("add", "-A")
	run("commit", "-m", "init")
}

// fakeAdapter answers every runtime call with a canned success, letting
// manager tests exercise forge/rewrite wiring without a real container.
type fakeAdapter struct{}

func (f *fakeAdapter) Name() string { return "fake" }
func (f *fakeAdapter) Run(ctx context.Context, image, name string, mounts []runtime.Mount, env []string, limits runtime.Limits) (string, error) {
	return "container-id", nil
}
func (f *fakeAdapter) Exec(ctx context.Context, container string, command []string, opts runtime.ExecOptions) (runtime.ExecResult, error) {
	joined := strings.Join(command, " ")
	switch {
	case strings.Contains(joined, "api/v1/version"):
		return runtime.ExecResult{ExitCode: 0, Stdout: `{"version":"1.22"}`}, nil
	case strings.Contains(joined, "api/v1/user"):
		return runtime.ExecResult{ExitCode: 0, Stdout: `{"login":"shadow"}`}, nil
	case strings.Contains(joined, "-X DELETE") && strings.Contains(joined, "api/v1/repos"):
		return runtime.ExecResult{ExitCode: 0, Stdout: "\n204"}, nil
	case strings.Contains(joined, "api/v1/orgs"):
		return runtime.ExecResult{ExitCode: 0, Stdout: "\n201"}, nil
	case strings.Contains(joined, "git push"):
		return runtime.ExecResult{ExitCode: 0}, nil
	case strings.Contains(joined, "get-regexp"):
		return runtime.ExecResult{ExitCode: 0, Stdout: "everything-matches"}, nil
	case strings.Contains(joined, "config --global --add"):
		return runtime.ExecResult{ExitCode: 0}, nil
	case strings.Contains(joined, "cache"):
		return runtime.ExecResult{ExitCode: 0}, nil
	default:
		return runtime.ExecResult{ExitCode: 0}, nil
	}
}
func (f *fakeAdapter) ExecInteractive(container, shell, workdir string) error { return nil }
func (f *fakeAdapter) Stop(ctx context.Context, container string) error      { return nil }
func (f *fakeAdapter) Remove(ctx context.Context, container string, force bool) error { return nil }
func (f *fakeAdapter) Exists(ctx context.Context, container string) (bool, error)    { return false, nil }
func (f *fakeAdapter) IsRunning(ctx context.Context, container string) (bool, error) { return true, nil }
func (f *fakeAdapter) Logs(ctx context.Context, container string, tail int) (string, error) {
	return "", nil
}

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		Home:             t.TempDir(),
		ForgeUser:        "shadow",
		ForgePassword:    "shadow",
		ImageTag:         "shadow-forge:test",
		MemoryLimitBytes: config.DefaultMemoryLimitBytes,
		PidsLimit:        config.DefaultPidsLimit,
	}
}

func TestGetReturnsNotFoundForUnknownShadow(t *testing.T) {
	m := manager.New(testConfig(t), &fakeAdapter{})
	_, err := m.Get(context.Background(), "does-not-exist")
	require.Error(t, err)
	assert.True(t, shadowerr.Is(err, shadowerr.NotFound))
}

func TestGetLoadsFromDiskOnCacheMiss(t *testing.T) {
	cfg := testConfig(t)
	shadowDir := cfg.ShadowDir("abc-123")
	require.NoError(t, os.MkdirAll(shadowDir, 0o755))

	info := diagnostics.ShadowInfo{
		ShadowID:      "abc-123",
		ContainerName: "shadow-abc-123",
		Status:        diagnostics.StatusReady,
		ImageTag:      cfg.ImageTag,
	}
	data, err := json.Marshal(info)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(shadowDir, "metadata.json"), data, 0o644))

	m := manager.New(cfg, &fakeAdapter{})
	handle, err := m.Get(context.Background(), "abc-123")
	require.NoError(t, err)
	assert.Equal(t, "shadow-abc-123", handle.Info.ContainerName)
	assert.Equal(t, diagnostics.StatusReady, handle.Info.Status)
}

func TestDestroyMissingDirectoryIsNotError(t *testing.T) {
	m := manager.New(testConfig(t), &fakeAdapter{})
	err := m.Destroy(context.Background(), "never-existed", false)
	require.NoError(t, err)
}

func TestDestroyAllCountsSuccesses(t *testing.T) {
	cfg := testConfig(t)
	for _, id := range []string{"s1", "s2", "s3"} {
		shadowDir := cfg.ShadowDir(id)
		require.NoError(t, os.MkdirAll(shadowDir, 0o755))
		info := diagnostics.ShadowInfo{ShadowID: id, ContainerName: "shadow-" + id, Status: diagnostics.StatusReady}
		data, err := json.Marshal(info)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(shadowDir, "metadata.json"), data, 0o644))
	}

	m := manager.New(cfg, &fakeAdapter{})
	count, err := m.DestroyAll(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	entries, err := os.ReadDir(cfg.EnvironmentsDir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAddSourceRejectsDuplicate(t *testing.T) {
	skipIfNoGit(t)
	cfg := testConfig(t)
	repoDir := t.TempDir()
	initRepo(t, repoDir)

	shadowDir := cfg.ShadowDir("dup-test")
	require.NoError(t, os.MkdirAll(filepath.Join(shadowDir, "snapshots"), 0o755))
	info := diagnostics.ShadowInfo{
		ShadowID:      "dup-test",
		ContainerName: "shadow-dup-test",
		Status:        diagnostics.StatusReady,
		Sources:       []diagnostics.SourceInfo{{Repo: "acme/widgets"}},
	}
	data, err := json.Marshal(info)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(shadowDir, "metadata.json"), data, 0o644))

	m := manager.New(cfg, &fakeAdapter{})
	err = m.AddSource(context.Background(), "dup-test", repoDir+":acme/widgets")
	require.Error(t, err)
	assert.True(t, shadowerr.Is(err, shadowerr.AlreadyExists))
}

func TestRemoveSourcePurgesSnapshotsOnlyWhenOrgUnused(t *testing.T) {
	cfg := testConfig(t)
	shadowDir := cfg.ShadowDir("rm-test")
	snapshotsDir := filepath.Join(shadowDir, "snapshots")
	require.NoError(t, os.MkdirAll(filepath.Join(snapshotsDir, "acme"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(snapshotsDir, "acme", "widgets.bundle"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(snapshotsDir, "acme", "gadgets.bundle"), []byte("x"), 0o644))

	info := diagnostics.ShadowInfo{
		ShadowID:      "rm-test",
		ContainerName: "shadow-rm-test",
		Status:        diagnostics.StatusReady,
		Sources: []diagnostics.SourceInfo{
			{Repo: "acme/widgets"},
			{Repo: "acme/gadgets"},
		},
	}
	data, err := json.Marshal(info)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(shadowDir, "metadata.json"), data, 0o644))

	m := manager.New(cfg, &fakeAdapter{})

	// acme/gadgets still references the org, so its bundles must survive.
	require.NoError(t, m.RemoveSource(context.Background(), "rm-test", "acme/widgets"))
	_, err = os.Stat(filepath.Join(snapshotsDir, "acme", "gadgets.bundle"))
	require.NoError(t, err)

	handle, err := m.Get(context.Background(), "rm-test")
	require.NoError(t, err)
	require.Len(t, handle.Info.Sources, 1)
	assert.Equal(t, "acme/gadgets", handle.Info.Sources[0].Repo)

	// Removing the last acme source purges the whole org's bundle directory.
	require.NoError(t, m.RemoveSource(context.Background(), "rm-test", "acme/gadgets"))
	_, err = os.Stat(filepath.Join(snapshotsDir, "acme"))
	assert.True(t, os.IsNotExist(err))
}

func TestRemoveSourceNotFound(t *testing.T) {
	cfg := testConfig(t)
	shadowDir := cfg.ShadowDir("rm-missing")
	require.NoError(t, os.MkdirAll(shadowDir, 0o755))
	info := diagnostics.ShadowInfo{ShadowID: "rm-missing", ContainerName: "shadow-rm-missing", Status: diagnostics.StatusReady}
	data, err := json.Marshal(info)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(shadowDir, "metadata.json"), data, 0o644))

	m := manager.New(cfg, &fakeAdapter{})
	err = m.RemoveSource(context.Background(), "rm-missing", "acme/widgets")
	require.Error(t, err)
	assert.True(t, shadowerr.Is(err, shadowerr.NotFound))
}
