package main

import (
	"fmt"
	"os"
	"path/filepath"

	godiffpatch "github.com/sourcegraph/go-diff-patch"
	"github.com/spf13/cobra"

	"github.com/shadowctl/shadow/internal/diagnostics"
)

var (
	diffSubtree string
	diffPatch   bool
)

var diffCmd = &cobra.Command{
	Use:   "diff <shadow-id>",
	Short: "List files changed since the shadow's creation baseline",
	Long: `Compares the workspace's current content hashes against the
baseline captured at create time, classifying every path as added,
modified, or deleted.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		mgr, _, err := newManager()
		if err != nil {
			return emit(diagnostics.Fail(err, nil), nil)
		}

		handle, err := mgr.Get(ctx, args[0])
		if err != nil {
			return emit(diagnostics.Fail(err, nil), nil)
		}

		workspaceDir := filepath.Join(handle.Info.ShadowDir, "workspace")
		changes, err := handle.Env.Diff(workspaceDir, diffSubtree)
		if err != nil {
			return emit(diagnostics.Fail(err, nil), nil)
		}

		return emit(diagnostics.Ok(changes), func(diagnostics.Envelope) {
			for _, c := range changes {
				fmt.Printf("%-8s %s\n", c.ChangeType, c.Path)
				if diffPatch {
					printPatch(workspaceDir, c)
				}
			}
		})
	},
}

// printPatch renders a unified patch for a changed file where the baseline
// design makes one available. The baseline only retains content hashes, not
// prior content (see internal/shadowenv.Environment.Baseline), so a textual
// diff can only be produced for Added files, where the "before" side is
// legitimately empty; Modified/Deleted files say so rather than fabricate one.
func printPatch(workspaceDir string, c diagnostics.ChangedFile) {
	if c.ChangeType != diagnostics.Added {
		fmt.Println(dimStyle.Render("  (content diff unavailable — baseline records content hashes only)"))
		return
	}
	content, err := os.ReadFile(filepath.Join(workspaceDir, c.Path))
	if err != nil {
		fmt.Println(dimStyle.Render("  (could not read file: " + err.Error() + ")"))
		return
	}
	fmt.Println(godiffpatch.GeneratePatch(c.Path, "", string(content)))
}

func init() {
	diffCmd.Flags().StringVar(&diffSubtree, "subtree", "", "limit the diff to paths under this workspace-relative subtree")
	diffCmd.Flags().BoolVar(&diffPatch, "patch", false, "also render a unified patch where one can honestly be produced")
	rootCmd.AddCommand(diffCmd)
}
