package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"

	"github.com/shadowctl/shadow/internal/diagnostics"
)

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	dimStyle  = lipgloss.NewStyle().Faint(true)
)

// emit renders env as JSON when --output-json is set, otherwise as a short
// human summary, and returns an error (for cobra's exit-code handling) when
// env carries a failure.
func emit(env diagnostics.Envelope, human func(diagnostics.Envelope)) error {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(env); err != nil {
			return err
		}
	} else if human != nil {
		human(env)
	}

	if !env.Success {
		if env.Error != nil {
			return fmt.Errorf("%s", env.Error.Message)
		}
		return fmt.Errorf("operation failed")
	}
	return nil
}

// exitCodeError carries a pass-through exec's exit code so main can relay
// it verbatim instead of the default "1 on operation error" (§6).
type exitCodeError struct{ code int }

func (e exitCodeError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

func errExitCode(code int) error { return exitCodeError{code: code} }

func printCheck(name string, passed bool, detail string) {
	mark := okStyle.Render("✓")
	if !passed {
		mark = failStyle.Render("✗")
	}
	if detail != "" {
		fmt.Printf("%s %s %s\n", mark, name, dimStyle.Render("("+detail+")"))
	} else {
		fmt.Printf("%s %s\n", mark, name)
	}
}
