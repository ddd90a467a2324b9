package spec_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shadowctl/shadow/internal/shadowerr"
	"github.com/shadowctl/shadow/internal/spec"
)

func TestParseSimple(t *testing.T) {
	s, err := spec.Parse("acme/widgets")
	require.NoError(t, err)
	assert.Equal(t, "acme", s.Org)
	assert.Equal(t, "widgets", s.Name)
	assert.Empty(t, s.Ref)
	assert.False(t, s.IsLocal())
	assert.Equal(t, "acme/widgets", s.FullName())
}

func TestParseWithRef(t *testing.T) {
	s, err := spec.Parse("acme/widgets@feature-x")
	require.NoError(t, err)
	assert.Equal(t, "feature-x", s.Ref)
}

func TestParseURL(t *testing.T) {
	for _, raw := range []string{
		"https://forge.example.com/acme/widgets",
		"https://forge.example.com/acme/widgets.git",
		"https://forge.example.com/acme/widgets.git@v1",
	} {
		s, err := spec.Parse(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, "acme", s.Org, raw)
		assert.Equal(t, "widgets", s.Name, raw)
	}
}

func TestParseRejectsWhitespace(t *testing.T) {
	_, err := spec.Parse(" acme/widgets")
	require.Error(t, err)
	assert.True(t, shadowerr.Is(err, shadowerr.InvalidInput))

	_, err = spec.Parse("acme/wid gets")
	require.Error(t, err)
}

func TestParseRejectsGarbage(t *testing.T) {
	for _, raw := range []string{"", "justaname", "acme/widgets/extra", "ftp://nope/acme/widgets"} {
		_, err := spec.Parse(raw)
		require.Error(t, err, raw)
		assert.True(t, shadowerr.Is(err, shadowerr.InvalidInput), raw)
	}
}

func TestRoundTrip(t *testing.T) {
	for _, raw := range []string{"acme/widgets", "acme/widgets@v1"} {
		s, err := spec.Parse(raw)
		require.NoError(t, err)
		s2, err := spec.Parse(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, s2)
	}
}

func TestParseLocal(t *testing.T) {
	dir := t.TempDir()
	repo := filepath.Join(dir, "myrepo")
	require.NoError(t, os.MkdirAll(filepath.Join(repo, ".git"), 0o755))

	s, err := spec.ParseLocal(repo + ":acme/widgets@main")
	require.NoError(t, err)
	assert.Equal(t, repo, s.LocalPath)
	assert.Equal(t, "acme", s.Org)
	assert.Equal(t, "widgets", s.Name)
	assert.Equal(t, "main", s.Ref)
	assert.True(t, s.IsLocal())
}

func TestParseLocalMissingGitDir(t *testing.T) {
	dir := t.TempDir()
	_, err := spec.ParseLocal(dir + ":acme/widgets")
	require.Error(t, err)
	assert.True(t, shadowerr.Is(err, shadowerr.InvalidLocalPath))
}

func TestParseLocalMissingDirectory(t *testing.T) {
	_, err := spec.ParseLocal("/does/not/exist:acme/widgets")
	require.Error(t, err)
	assert.True(t, shadowerr.Is(err, shadowerr.InvalidLocalPath))
}
