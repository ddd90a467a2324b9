package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shadowctl/shadow/internal/config"
	"github.com/shadowctl/shadow/internal/diagnostics"
	"github.com/shadowctl/shadow/internal/image"
	"github.com/shadowctl/shadow/internal/runtime"
)

var (
	buildImageTag   string
	buildImageForce bool
)

var buildImageCmd = &cobra.Command{
	Use:   "build-image",
	Short: "Build (or rebuild) the base shadow container image",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := config.Load()
		if err != nil {
			return emit(diagnostics.Fail(err, nil), nil)
		}
		rt, err := runtime.Detect()
		if err != nil {
			return emit(diagnostics.Fail(err, nil), nil)
		}

		tag := buildImageTag
		if tag == "" {
			tag = cfg.ImageTag
		}

		builder := image.NewBuilder(rt.Name())
		progress := func(line string) { fmt.Println(dimStyle.Render(line)) }

		if buildImageForce {
			if err := builder.Build(ctx, tag, progress); err != nil {
				return emit(diagnostics.Fail(err, nil), nil)
			}
		} else if _, err := builder.EnsureImage(ctx, tag, progress); err != nil {
			return emit(diagnostics.Fail(err, nil), nil)
		}

		return emit(diagnostics.Ok(map[string]string{"image_tag": tag}), func(diagnostics.Envelope) {
			fmt.Printf("image ready: %s\n", tag)
		})
	},
}

func init() {
	buildImageCmd.Flags().StringVar(&buildImageTag, "image-tag", "", "override the image tag to build")
	buildImageCmd.Flags().BoolVar(&buildImageForce, "force", false, "rebuild even if the image already exists")
	rootCmd.AddCommand(buildImageCmd)
}
