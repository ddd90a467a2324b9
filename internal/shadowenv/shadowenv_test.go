package shadowenv_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shadowctl/shadow/internal/diagnostics"
	"github.com/shadowctl/shadow/internal/runtime"
	"github.com/shadowctl/shadow/internal/shadowenv"
	"github.com/shadowctl/shadow/internal/shadowerr"
)

type fakeAdapter struct {
	results []runtime.ExecResult
	calls   int
}

func (f *fakeAdapter) Name() string { return "fake" }
func (f *fakeAdapter) Run(ctx context.Context, image, name string, mounts []runtime.Mount, env []string, limits runtime.Limits) (string, error) {
	return "id", nil
}
func (f *fakeAdapter) Exec(ctx context.Context, container string, command []string, opts runtime.ExecOptions) (runtime.ExecResult, error) {
	r := f.results[f.calls]
	f.calls++
	return r, nil
}
func (f *fakeAdapter) ExecInteractive(container, shell, workdir string) error { return nil }
func (f *fakeAdapter) Stop(ctx context.Context, container string) error      { return nil }
func (f *fakeAdapter) Remove(ctx context.Context, container string, force bool) error { return nil }
func (f *fakeAdapter) Exists(ctx context.Context, container string) (bool, error)    { return true, nil }
func (f *fakeAdapter) IsRunning(ctx context.Context, container string) (bool, error) { return true, nil }
func (f *fakeAdapter) Logs(ctx context.Context, container string, tail int) (string, error) {
	return "", nil
}

func TestExecBatchFailFastStopsAtFirstFailure(t *testing.T) {
	adapter := &fakeAdapter{results: []runtime.ExecResult{
		{ExitCode: 0, Stdout: "ok"},
		{ExitCode: 1, Stderr: "boom"},
		{ExitCode: 0, Stdout: "never runs"},
	}}
	env := shadowenv.New(adapter, "c1")

	result, err := env.ExecBatch(context.Background(), [][]string{{"a"}, {"b"}, {"c"}}, time.Second, true)
	require.NoError(t, err)
	assert.False(t, result.Success)
	require.NotNil(t, result.FailedAt)
	assert.Equal(t, 1, *result.FailedAt)
	assert.Len(t, result.Steps, 2)
}

func TestExecBatchNoFailFastRunsAll(t *testing.T) {
	adapter := &fakeAdapter{results: []runtime.ExecResult{
		{ExitCode: 0},
		{ExitCode: 1},
		{ExitCode: 0},
	}}
	env := shadowenv.New(adapter, "c1")

	result, err := env.ExecBatch(context.Background(), [][]string{{"a"}, {"b"}, {"c"}}, time.Second, false)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Nil(t, result.FailedAt)
	assert.Len(t, result.Steps, 3)
}

func TestBaselineAndDiff(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("one"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b.txt"), []byte("two"), 0o644))

	env := shadowenv.New(&fakeAdapter{}, "c1")
	require.NoError(t, env.Baseline(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("one-changed"), 0o644))
	require.NoError(t, os.Remove(filepath.Join(dir, "sub", "b.txt")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.txt"), []byte("new"), 0o644))

	changes, err := env.Diff(dir, "")
	require.NoError(t, err)

	byPath := map[string]diagnostics.ChangeType{}
	for _, c := range changes {
		byPath[c.Path] = c.ChangeType
	}
	assert.Equal(t, diagnostics.Modified, byPath["a.txt"])
	assert.Equal(t, diagnostics.Added, byPath["c.txt"])
	assert.Equal(t, diagnostics.Deleted, byPath[filepath.Join("sub", "b.txt")])
}

func TestBaselineFollowsInWorkspaceSymlinkIntoItsContent(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "real.txt"), []byte("one"), 0o644))
	require.NoError(t, os.Symlink(filepath.Join(dir, "real.txt"), filepath.Join(dir, "link.txt")))

	env := shadowenv.New(&fakeAdapter{}, "c1")
	require.NoError(t, env.Baseline(dir))

	// Editing the symlink's target, not the link itself, must still be
	// visible as a change, since the baseline hashed the target's content.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "real.txt"), []byte("one-changed"), 0o644))

	changes, err := env.Diff(dir, "")
	require.NoError(t, err)

	byPath := map[string]diagnostics.ChangeType{}
	for _, c := range changes {
		byPath[c.Path] = c.ChangeType
	}
	assert.Equal(t, diagnostics.Modified, byPath["link.txt"])
	assert.Equal(t, diagnostics.Modified, byPath["real.txt"])
}

func TestBaselineHashesOutOfWorkspaceSymlinkAsLinkText(t *testing.T) {
	dir := t.TempDir()
	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("one"), 0o644))
	require.NoError(t, os.Symlink(filepath.Join(outside, "secret.txt"), filepath.Join(dir, "link.txt")))

	env := shadowenv.New(&fakeAdapter{}, "c1")
	require.NoError(t, env.Baseline(dir))

	// Changing the out-of-workspace target must NOT be visible, since the
	// baseline only hashed the link text, not the escaping target's content.
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("changed"), 0o644))

	changes, err := env.Diff(dir, "")
	require.NoError(t, err)
	assert.Empty(t, changes)
}

func TestExtractRejectsOutsideWorkspace(t *testing.T) {
	dir := t.TempDir()
	env := shadowenv.New(&fakeAdapter{}, "c1")
	_, err := env.Extract(dir, "/etc/passwd", filepath.Join(dir, "out"))
	require.Error(t, err)
	assert.True(t, shadowerr.Is(err, shadowerr.InvalidInput))
}

func TestExtractCopiesFileAndCountsBytes(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "file.txt"), []byte("hello world"), 0o644))

	destDir := t.TempDir()
	dest := filepath.Join(destDir, "file.txt")

	env := shadowenv.New(&fakeAdapter{}, "c1")
	n, err := env.Extract(dir, "/workspace/file.txt", dest)
	require.NoError(t, err)
	assert.Equal(t, int64(len("hello world")), n)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestInjectCreatesParentsAndCopies(t *testing.T) {
	srcDir := t.TempDir()
	src := filepath.Join(srcDir, "payload.txt")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o644))

	workspace := t.TempDir()
	env := shadowenv.New(&fakeAdapter{}, "c1")
	n, err := env.Inject(workspace, src, "/workspace/deep/nested/payload.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(len("payload")), n)

	data, err := os.ReadFile(filepath.Join(workspace, "deep", "nested", "payload.txt"))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestShellRequiresInteractiveTerminal(t *testing.T) {
	env := shadowenv.New(&fakeAdapter{}, "c1")
	err := env.Shell("bash")
	require.Error(t, err)
	assert.True(t, shadowerr.Is(err, shadowerr.InvalidInput))
}

func TestExecPropagatesResult(t *testing.T) {
	adapter := &fakeAdapter{results: []runtime.ExecResult{{ExitCode: 0, Stdout: "hi"}}}
	env := shadowenv.New(adapter, "c1")
	result, err := env.Exec(context.Background(), []string{"echo", "hi"}, time.Second)
	require.NoError(t, err)
	assert.True(t, strings.Contains(result.Stdout, "hi"))
}
