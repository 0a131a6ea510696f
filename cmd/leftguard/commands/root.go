package commands

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/leftguard/leftguard/pkg/report"
)

var (
	// Global flags
	verbose bool
	noColor bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "leftguard",
		Short: "LeftGuard - Infrastructure-as-Code Policy Engine",
		Long: `LeftGuard evaluates policies against Infrastructure-as-Code sources
before anything is deployed.

Features:
  - Terraform (HCL) source parsing with variable resolution
  - YAML policies with composable condition trees
  - Severity-aware policy selection and warn downgrades
  - CLI, JSON and GitHub Actions output formats
  - Policy fixture testing`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newDumpCommand())
	rootCmd.AddCommand(newTestCommand())
	rootCmd.AddCommand(newValidateCommand())

	return rootCmd
}

// openOutput returns the destination writer for rendered reports. An
// empty path means stdout; the caller owns closing the returned closer.
func openOutput(path string) (io.Writer, io.Closer, error) {
	if path == "" {
		return os.Stdout, nil, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open output file: %w", err)
	}
	// Files never want ANSI escapes.
	report.ColorEnabled = false
	return f, f, nil
}
