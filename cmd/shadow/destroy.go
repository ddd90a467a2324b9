package main

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/shadowctl/shadow/internal/diagnostics"
)

var destroyForce bool

var destroyCmd = &cobra.Command{
	Use:   "destroy [shadow-id]",
	Short: "Destroy a shadow and its resources",
	Long: `Removes the shadow's container and on-disk state. Idempotent: a
missing shadow is not an error. With no shadow-id and more than one shadow
on record, prompts for a selection.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		mgr, _, err := newManager()
		if err != nil {
			return emit(diagnostics.Fail(err, nil), nil)
		}

		shadowID := ""
		if len(args) > 0 {
			shadowID = args[0]
		} else {
			shadows, err := mgr.List(ctx)
			if err != nil {
				return emit(diagnostics.Fail(err, nil), nil)
			}
			if len(shadows) == 0 {
				return emit(diagnostics.Fail(errors.New("no shadows found"), nil), nil)
			}
			if len(shadows) == 1 {
				shadowID = shadows[0].ShadowID
			} else {
				shadowID, err = promptForShadowSelection(shadows)
				if err != nil {
					return emit(diagnostics.Fail(err, nil), nil)
				}
			}
		}

		if err := mgr.Destroy(ctx, shadowID, destroyForce); err != nil {
			return emit(diagnostics.Fail(err, nil), nil)
		}

		return emit(diagnostics.Ok(map[string]string{"shadow_id": shadowID}), func(diagnostics.Envelope) {
			fmt.Printf("%s destroyed\n", shadowID)
		})
	},
}

// promptForShadowSelection prompts with a huh.Select when a caller leaves
// the shadow id ambiguous across multiple candidates.
func promptForShadowSelection(shadows []diagnostics.ShadowInfo) (string, error) {
	options := make([]huh.Option[string], 0, len(shadows))
	for _, s := range shadows {
		label := fmt.Sprintf("%s (%s, %d sources)", s.ShadowID, s.Status, len(s.Sources))
		options = append(options, huh.NewOption(label, s.ShadowID))
	}

	var selected string
	prompt := huh.NewSelect[string]().
		Title("Select a shadow to destroy:").
		Options(options...).
		Value(&selected)

	if err := prompt.Run(); err != nil {
		return "", err
	}
	return selected, nil
}

func init() {
	destroyCmd.Flags().BoolVar(&destroyForce, "force", false, "tolerate container/directory removal failures")
	rootCmd.AddCommand(destroyCmd)
}
