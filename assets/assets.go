// Package assets embeds the shadow base image's build context so the
// Image Builder (internal/image) can build it without cloning this repo
// or pulling from a registry.
package assets

import "embed"

//go:embed container
var ContainerFiles embed.FS
