package runtime_test

import (
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shadowctl/shadow/internal/runtime"
)

func skipIfNoBackend(t *testing.T) {
	t.Helper()
	_, podmanErr := exec.LookPath("podman")
	_, dockerErr := exec.LookPath("docker")
	if podmanErr != nil && dockerErr != nil {
		t.Skip("neither podman nor docker on PATH")
	}
}

func TestDetectPrefersPodman(t *testing.T) {
	skipIfNoBackend(t)
	adapter, err := runtime.Detect()
	require.NoError(t, err)
	assert.Contains(t, []string{"podman", "docker"}, adapter.Name())
	if _, err := exec.LookPath("podman"); err == nil {
		assert.Equal(t, "podman", adapter.Name())
	} else {
		assert.Equal(t, "docker", adapter.Name())
	}
}

func TestProbeReportsBothBackends(t *testing.T) {
	results := runtime.Probe()
	require.Len(t, results, 2)
	names := []string{results[0].Name, results[1].Name}
	assert.Contains(t, names, "podman")
	assert.Contains(t, names, "docker")
}

func TestExecResultSuccess(t *testing.T) {
	assert.True(t, runtime.ExecResult{ExitCode: 0}.Success())
	assert.False(t, runtime.ExecResult{ExitCode: 1}.Success())
}
