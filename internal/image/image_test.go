package image_test

import (
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shadowctl/shadow/internal/image"
)

func TestDefaultTag(t *testing.T) {
	assert.Equal(t, "shadow-forge:local", image.DefaultTag)
}

func TestImageExistsFalseForBogusTag(t *testing.T) {
	engine := ""
	for _, name := range []string{"podman", "docker"} {
		if _, err := exec.LookPath(name); err == nil {
			engine = name
			break
		}
	}
	if engine == "" {
		t.Skip("no container engine on PATH")
	}

	b := image.NewBuilder(engine)
	exists, err := b.ImageExists(t.Context(), "shadow-this-tag-should-not-exist:bogus")
	require.NoError(t, err)
	assert.False(t, exists)
}
