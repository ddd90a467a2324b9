// Package image implements the Image Builder (§4.D): locating and building
// the shadow base image from assets bundled with the binary itself via
// embed.FS, so a local build needs neither a clone of this repo nor a
// registry pull.
//
// Grounded on original_source builder.py's ImageBuilder (image_exists/
// build/ensure_image trio), generalized from Python importlib.resources
// package-data lookup to Go's embed.FS, and on the established pattern of
// materializing embedded assets to a scratch directory before shelling out
// to a build tool.
package image

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/shadowctl/shadow/assets"
	"github.com/shadowctl/shadow/internal/shadowerr"
)

// DefaultTag is the local image name used when the caller does not
// override it, matching the original's "amplifier-shadow:local" shape.
const DefaultTag = "shadow-forge:local"

// maxTailLines bounds how much build output is retained for a failure
// report, so a runaway build doesn't balloon the error's Details payload.
const maxTailLines = 10

// ProgressFunc receives one line of build output as it streams.
type ProgressFunc func(line string)

// Builder builds and probes for the shadow base image using a given
// container engine binary ("podman" or "docker").
type Builder struct {
	Engine string
}

// NewBuilder returns a Builder bound to the named engine binary.
func NewBuilder(engine string) *Builder {
	return &Builder{Engine: engine}
}

// ImageExists reports whether tag is present in the local image store.
func (b *Builder) ImageExists(ctx context.Context, tag string) (bool, error) {
	cmd := exec.CommandContext(ctx, b.Engine, "image", "inspect", tag)
	cmd.Stdout = nil
	cmd.Stderr = nil
	err := cmd.Run()
	return err == nil, nil
}

// Build materializes the embedded Dockerfile and entrypoint into a scratch
// directory and runs an image build against it, streaming output lines to
// progress if non-nil.
func (b *Builder) Build(ctx context.Context, tag string, progress ProgressFunc) error {
	buildDir, err := materializeAssets()
	if err != nil {
		return shadowerr.Wrap(shadowerr.ImageUnavailable, "materializing build assets", err)
	}
	defer os.RemoveAll(buildDir)

	cmd := exec.CommandContext(ctx, b.Engine, "build", "-t", tag, buildDir)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return shadowerr.Wrap(shadowerr.ImageUnavailable, "attaching build output", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return shadowerr.Wrap(shadowerr.ImageUnavailable, "starting image build", err)
	}

	var tail []string
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		tail = append(tail, line)
		if len(tail) > maxTailLines {
			tail = tail[len(tail)-maxTailLines:]
		}
		if progress != nil {
			progress(line)
		}
	}

	if err := cmd.Wait(); err != nil {
		return shadowerr.Wrap(shadowerr.ImageUnavailable, "image build failed", err).
			WithDetail("tail", tail).WithDetail("tag", tag)
	}
	return nil
}

// EnsureImage builds tag if it is not already present, returning the tag
// either way.
func (b *Builder) EnsureImage(ctx context.Context, tag string, progress ProgressFunc) (string, error) {
	exists, err := b.ImageExists(ctx, tag)
	if err != nil {
		return "", err
	}
	if exists {
		return tag, nil
	}
	if err := b.Build(ctx, tag, progress); err != nil {
		return "", err
	}
	return tag, nil
}

// materializeAssets writes the embedded container build context (Dockerfile,
// entrypoint script) to a temporary directory so it can be handed to the
// engine's build command, which requires a real filesystem path.
func materializeAssets() (string, error) {
	dir, err := os.MkdirTemp("", "shadow-image-build-*")
	if err != nil {
		return "", err
	}

	entries, err := assets.ContainerFiles.ReadDir("container")
	if err != nil {
		os.RemoveAll(dir)
		return "", err
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		data, err := assets.ContainerFiles.Open("container/" + entry.Name())
		if err != nil {
			os.RemoveAll(dir)
			return "", err
		}
		dst, err := os.OpenFile(filepath.Join(dir, entry.Name()), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
		if err != nil {
			data.Close()
			os.RemoveAll(dir)
			return "", err
		}
		_, copyErr := io.Copy(dst, data)
		data.Close()
		dst.Close()
		if copyErr != nil {
			os.RemoveAll(dir)
			return "", copyErr
		}
	}

	return dir, nil
}
