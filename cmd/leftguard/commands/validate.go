package commands

import (
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/leftguard/leftguard/pkg/policy"
	"github.com/leftguard/leftguard/pkg/telemetry"
)

func newValidateCommand() *cobra.Command {
	var policyDir string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate policy files",
		Long: `Schema-validate every policy file in the policy directory without
running anything. Each file's errors are listed; exit status is 1 when
any file is invalid.`,
		Example: `  # Validate policies/
  leftguard validate -p policies`,
		RunE: func(cmd *cobra.Command, args []string) error {
			tel, err := telemetry.New(telemetry.DefaultConfig())
			if err != nil {
				return err
			}

			paths, err := policy.FindPolicyFiles(policyDir)
			if err != nil {
				return err
			}
			if len(paths) == 0 {
				return fmt.Errorf("no policy files found in %s", policyDir)
			}

			loader := policy.NewLoader(tel.Logger.Zerolog())
			failures := loader.ValidateFiles(paths)
			if len(failures) == 0 {
				fmt.Printf("%d policy files valid\n", len(paths))
				return nil
			}

			files := make([]string, 0, len(failures))
			for path := range failures {
				files = append(files, path)
			}
			sort.Strings(files)
			for _, path := range files {
				fmt.Printf("%s:\n", path)
				for _, ferr := range failures[path] {
					fmt.Printf("  %v\n", ferr)
				}
			}
			return errors.New("policy validation failed")
		},
	}

	cmd.Flags().StringVarP(&policyDir, "policy-dir", "p", "", "policy directory")
	cmd.MarkFlagRequired("policy-dir")

	return cmd
}
