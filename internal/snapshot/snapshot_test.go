package snapshot_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shadowctl/shadow/internal/snapshot"
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

func TestSnapshotClean(t *testing.T) {
	skipIfNoGit(t)
	dir := t.TempDir()
	initRepo(t, dir)

	store, err := snapshot.NewStore(t.TempDir())
	require.NoError(t, err)

	result, err := store.Snapshot(context.Background(), dir, "acme", "r1")
	require.NoError(t, err)
	require.False(t, result.HasUncommitted)
	require.NotEmpty(t, result.CommitSHA)
	require.FileExists(t, result.BundlePath)
	require.Positive(t, result.SizeBytes)
}

func TestSnapshotDirty(t *testing.T) {
	skipIfNoGit(t)
	dir := t.TempDir()
	initRepo(t, dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "VERSION"), []byte("2.0.0-dev"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.py"), []byte("print(1)"), 0o644))

	store, err := snapshot.NewStore(t.TempDir())
	require.NoError(t, err)

	result, err := store.Snapshot(context.Background(), dir, "acme", "r1")
	require.NoError(t, err)
	require.True(t, result.HasUncommitted)
	require.NotEmpty(t, result.CommitSHA)

	clone := t.TempDir()
	cloneDir := filepath.Join(clone, "c")
	cmd := exec.Command("git", "clone", "--quiet", result.BundlePath, cloneDir)
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, string(out))

	data, err := os.ReadFile(filepath.Join(cloneDir, "VERSION"))
	require.NoError(t, err)
	require.Equal(t, "2.0.0-dev", string(data))
	require.FileExists(t, filepath.Join(cloneDir, "new.py"))

	logCmd := exec.Command("git", "log", "-1", "--format=%an <%ae>%n%s")
	logCmd.Dir = cloneDir
	out, err = logCmd.Output()
	require.NoError(t, err)
	require.Contains(t, string(out), "Shadow <shadow@localhost>")
	require.Contains(t, string(out), "Shadow snapshot: uncommitted changes")
}

func TestCleanup(t *testing.T) {
	dir := t.TempDir()
	store, err := snapshot.NewStore(dir)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "acme"), 0o755))
	require.NoError(t, store.Cleanup("acme"))
	_, err = os.Stat(filepath.Join(dir, "acme"))
	require.True(t, os.IsNotExist(err))
}
