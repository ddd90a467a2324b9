package forge_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shadowctl/shadow/internal/forge"
	"github.com/shadowctl/shadow/internal/runtime"
	"github.com/shadowctl/shadow/internal/shadowerr"
)

// fakeAdapter is a scripted runtime.Adapter stub: Exec returns canned
// responses keyed by a substring of the command, letting tests drive
// the Forge Client without a real container or network.
type fakeAdapter struct {
	responses map[string]runtime.ExecResult
	calls     []string
}

func (f *fakeAdapter) Name() string { return "fake" }

func (f *fakeAdapter) Exec(ctx context.Context, container string, command []string, opts runtime.ExecOptions) (runtime.ExecResult, error) {
	joined := strings.Join(command, " ")
	f.calls = append(f.calls, joined)
	for substr, result := range f.responses {
		if strings.Contains(joined, substr) {
			return result, nil
		}
	}
	return runtime.ExecResult{ExitCode: 1}, nil
}

func (f *fakeAdapter) Run(ctx context.Context, image, name string, mounts []runtime.Mount, env []string, limits runtime.Limits) (string, error) {
	return "fake-id", nil
}
func (f *fakeAdapter) ExecInteractive(container, shell, workdir string) error { return nil }
func (f *fakeAdapter) Stop(ctx context.Context, container string) error      { return nil }
func (f *fakeAdapter) Remove(ctx context.Context, container string, force bool) error { return nil }
func (f *fakeAdapter) Exists(ctx context.Context, container string) (bool, error)    { return true, nil }
func (f *fakeAdapter) IsRunning(ctx context.Context, container string) (bool, error) { return true, nil }
func (f *fakeAdapter) Logs(ctx context.Context, container string, tail int) (string, error) {
	return "", nil
}

func TestWaitReadySucceeds(t *testing.T) {
	adapter := &fakeAdapter{responses: map[string]runtime.ExecResult{
		"api/v1/version": {ExitCode: 0, Stdout: `{"version":"1.22"}`},
		"api/v1/user":    {ExitCode: 0, Stdout: `{"login":"shadow"}`},
	}}
	client := forge.NewClient(adapter, "c1")
	err := client.WaitReady(context.Background(), 2*time.Second)
	require.NoError(t, err)
}

func TestWaitReadyTimesOut(t *testing.T) {
	adapter := &fakeAdapter{responses: map[string]runtime.ExecResult{
		"api/v1/version": {ExitCode: 1},
	}}
	client := forge.NewClient(adapter, "c1")
	err := client.WaitReady(context.Background(), 600*time.Millisecond)
	require.Error(t, err)
	assert.True(t, shadowerr.Is(err, shadowerr.ForgeNotReady))
}

func TestCreateOrgIdempotent(t *testing.T) {
	adapter := &fakeAdapter{responses: map[string]runtime.ExecResult{
		"api/v1/orgs": {ExitCode: 0, Stdout: "\n422"},
	}}
	client := forge.NewClient(adapter, "c1")
	err := client.CreateOrg(context.Background(), "acme")
	require.NoError(t, err)
}

func TestCreateRepoFailure(t *testing.T) {
	adapter := &fakeAdapter{responses: map[string]runtime.ExecResult{
		"api/v1/orgs": {ExitCode: 0, Stdout: "some error\n500"},
	}}
	client := forge.NewClient(adapter, "c1")
	err := client.CreateRepo(context.Background(), "acme", "widgets")
	require.Error(t, err)
	assert.True(t, shadowerr.Is(err, shadowerr.ForgeError))
}

func TestPushBundleFailure(t *testing.T) {
	adapter := &fakeAdapter{responses: map[string]runtime.ExecResult{
		"git push": {ExitCode: 1, Stdout: "rejected"},
	}}
	client := forge.NewClient(adapter, "c1")
	err := client.PushBundle(context.Background(), "acme", "widgets", "/tmp/widgets.bundle")
	require.Error(t, err)
	assert.True(t, shadowerr.Is(err, shadowerr.ForgeError))
}
