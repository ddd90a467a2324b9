package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "shadow",
	Short: "Isolated shadow environments with a local forge",
	Long: `shadow provisions short-lived, isolated container environments that
mirror local working copies (including uncommitted changes) and transparently
rewrite dependency-tool URLs to resolve against an embedded local forge.`,
}

var jsonOutput bool

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "output-json", false, "render the result envelope as JSON")
}

func main() {
	ctx := context.Background()

	// exec passes through the executed command's own exit code, which
	// fang's wrapper has no way to relay, so it bypasses fang the same way
	// a stdio-style command would special-case itself.
	if len(os.Args) > 1 && os.Args[1] == "exec" {
		if err := rootCmd.ExecuteContext(ctx); err != nil {
			var exitErr exitCodeError
			if errors.As(err, &exitErr) {
				os.Exit(exitErr.code)
			}
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	if err := fang.Execute(
		ctx,
		rootCmd,
		fang.WithVersion(version),
		fang.WithCommit(commit),
	); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
