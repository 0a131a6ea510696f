package commands

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/leftguard/leftguard/pkg/iac"
	_ "github.com/leftguard/leftguard/pkg/iac/terraform"
	"github.com/leftguard/leftguard/pkg/policy"
	"github.com/leftguard/leftguard/pkg/runner"
	"github.com/leftguard/leftguard/pkg/telemetry"
)

func newTestCommand() *cobra.Command {
	var (
		policyDir string
		filters   string
	)

	cmd := &cobra.Command{
		Use:   "test",
		Short: "Run policy fixture tests",
		Long: `Run each policy against its fixture tree under
<policy-dir>/tests/<policy-name>/ and compare the results with the
fixture's expected.yaml. Exit status is 1 when any expectation fails or
no fixtures exist.`,
		Example: `  # Test every policy in policies/
  leftguard test -p policies

  # Only test high-severity policies
  leftguard test -p policies --filters "severity=high"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			runFilter, err := policy.ParseFilter(filters, policy.DirectionExact)
			if err != nil {
				return fmt.Errorf("invalid --filters: %w", err)
			}

			tel, err := telemetry.New(telemetry.DefaultConfig())
			if err != nil {
				return err
			}

			loader := policy.NewLoader(tel.Logger.Zerolog())
			policies, err := loader.LoadDir(ctx, policyDir)
			if err != nil {
				return err
			}
			selected := runFilter.FilterPolicies(policies)

			provider, err := iac.GetProvider("terraform")
			if err != nil {
				return err
			}

			tr := runner.NewTestRunner(selected, provider, filepath.Join(policyDir, "tests"), tel.Logger.Zerolog())
			results, ok, err := tr.Run(ctx)
			if err != nil {
				if errors.Is(err, runner.ErrNoPolicies) {
					log.Warn().Str("policy_dir", policyDir).Msg("No policies found")
				}
				return err
			}

			passed, failed, skipped := 0, 0, 0
			for _, result := range results {
				switch {
				case result.Skipped:
					skipped++
					fmt.Printf("SKIP %s (no fixture)\n", result.PolicyName)
				case result.Passed():
					passed++
					fmt.Printf("PASS %s\n", result.PolicyName)
				default:
					failed++
					fmt.Printf("FAIL %s\n", result.PolicyName)
					for _, mismatch := range result.Mismatches {
						fmt.Printf("     %s\n", mismatch)
					}
				}
			}
			fmt.Printf("\n%d passed, %d failed, %d skipped\n", passed, failed, skipped)

			if !ok {
				return errors.New("policy tests failed")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&policyDir, "policy-dir", "p", "", "policy directory")
	cmd.Flags().StringVar(&filters, "filters", "", "policy selection filter (key=glob terms)")
	cmd.MarkFlagRequired("policy-dir")

	return cmd
}
