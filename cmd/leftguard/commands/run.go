package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/leftguard/leftguard/pkg/iac"
	_ "github.com/leftguard/leftguard/pkg/iac/terraform"
	"github.com/leftguard/leftguard/pkg/policy"
	"github.com/leftguard/leftguard/pkg/report"
	"github.com/leftguard/leftguard/pkg/runner"
	"github.com/leftguard/leftguard/pkg/telemetry"
)

// errRunFailed signals a completed run with surviving failures. The
// message is already on screen; main only needs the exit status.
var errRunFailed = errors.New("evaluation failed")

func newRunCommand() *cobra.Command {
	var (
		directory     string
		policyDir     string
		varFiles      []string
		workspace     string
		output        string
		outputFile    string
		outputQuery   string
		summaryMode   string
		filters       string
		warnOn        string
		parallelism   int
		watch         bool
		includePasses bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Evaluate policies against an IaC source directory",
		Long: `Parse an Infrastructure-as-Code source directory into a resource
graph and evaluate every selected policy against it.

The exit status is 1 when no policies are selected or when any failure
survives the warn filter.`,
		Example: `  # Evaluate policies/ against the current directory
  leftguard run -p policies

  # JSON output with a jmespath query
  leftguard run -p policies -d ./infra -o json --output-query "results[?verdict=='fail']"

  # Only run high-severity policies, downgrade the cost category to warnings
  leftguard run -p policies --filters "severity=high" --warn-on "category=cost"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			// The graph dump format only makes sense for the dump command.
			if !slices.Contains(report.RunNames(), output) {
				return fmt.Errorf("unknown output format %q (available: %v)", output, report.RunNames())
			}

			runFilter, err := policy.ParseFilter(filters, policy.DirectionExact)
			if err != nil {
				return fmt.Errorf("invalid --filters: %w", err)
			}
			warnFilter, err := policy.ParseFilter(warnOn, policy.DirectionGTE)
			if err != nil {
				return fmt.Errorf("invalid --warn-on: %w", err)
			}

			telCfg := telemetry.DefaultConfig()
			if os.Getenv("CI") != "" {
				telCfg = telemetry.CIConfig()
			}
			if watch {
				// Long-lived process: expose the metrics endpoint.
				telCfg.Metrics.Enabled = true
			}
			if verbose {
				telCfg.Logging.Level = "debug"
			}
			tel, err := telemetry.New(telCfg)
			if err != nil {
				return err
			}
			defer tel.Shutdown(context.Background())
			ctx = tel.WithContext(ctx)
			if err := tel.Metrics.StartMetricsServer(); err != nil {
				return err
			}

			loader := policy.NewLoader(tel.Logger.Zerolog())
			policies, err := loader.LoadDir(ctx, policyDir)
			if err != nil {
				return err
			}
			selected := runFilter.FilterPolicies(policies)
			tel.Metrics.SetPolicyCounts(len(policies), len(selected))

			provider, err := iac.GetProvider("terraform")
			if err != nil {
				return err
			}

			writer, closer, err := openOutput(outputFile)
			if err != nil {
				return err
			}
			if closer != nil {
				defer closer.Close()
			}
			if noColor {
				report.ColorEnabled = false
			}

			reporterOpts := report.Options{
				Writer:        writer,
				Query:         outputQuery,
				SummaryMode:   summaryMode,
				IncludePasses: includePasses,
			}

			// Reporters are per-run: watch mode builds a fresh one for
			// every re-evaluation so buffered formats stay well-formed.
			runOnce := func(ctx context.Context, pols []*policy.Policy) error {
				parseCtx, parseSpan := tel.Tracer.StartParseSpan(ctx, provider.Name(), directory)
				timer := telemetry.NewTimer()
				graph, err := provider.Parse(parseCtx, directory, varFiles, workspace)
				if err != nil {
					telemetry.RecordError(parseSpan, err)
					parseSpan.End()
					switch {
					case iac.IsParseError(err):
						tel.Metrics.RecordParseError("parse")
					case iac.IsVariableError(err):
						tel.Metrics.RecordParseError("variable")
					}
					return err
				}
				tel.Metrics.RecordParse(provider.Name(), timer.Duration())
				telemetry.RecordSuccess(parseSpan)
				parseSpan.End()

				reporter, err := report.New(output, reporterOpts)
				if err != nil {
					return err
				}

				runCtx, runSpan := tel.Tracer.StartRunSpan(ctx, len(pols), graph.Len())
				defer runSpan.End()

				cr := runner.NewCollectionRunner(pols, reporter, runner.Options{
					WarnFilter:  warnFilter,
					Parallelism: parallelism,
					Logger:      tel.Logger.Zerolog(),
					Metrics:     tel.Metrics,
				})
				result, err := cr.Run(runCtx, graph)
				if err != nil {
					if errors.Is(err, runner.ErrNoPolicies) {
						log.Warn().Str("policy_dir", policyDir).Msg("No policies found")
					}
					telemetry.RecordError(runSpan, err)
					return err
				}
				telemetry.RecordSuccess(runSpan)

				// Buffered formats write at run end; a write or query
				// failure must reach the exit status.
				if e, ok := reporter.(interface{ Err() error }); ok {
					if err := e.Err(); err != nil {
						return err
					}
				}

				status := "passed"
				if result.Failed {
					status = "failed"
				}
				tel.Events.PublishRunCompleted(result.ID, status)
				if result.Failed {
					return errRunFailed
				}
				return nil
			}

			if !watch {
				return runOnce(ctx, selected)
			}

			// Watch mode: re-run on every policy change, never exit on a
			// failed run.
			runErr := runOnce(ctx, selected)
			if runErr != nil && !errors.Is(runErr, errRunFailed) && !errors.Is(runErr, runner.ErrNoPolicies) {
				return runErr
			}
			err = loader.Watch(ctx, policyDir, func(reloaded []*policy.Policy) {
				pols := runFilter.FilterPolicies(reloaded)
				tel.Metrics.SetPolicyCounts(len(reloaded), len(pols))
				if err := runOnce(ctx, pols); err != nil && !errors.Is(err, errRunFailed) {
					log.Error().Err(err).Msg("Run failed")
				}
			})
			if err != nil {
				return err
			}
			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().StringVarP(&directory, "directory", "d", ".", "IaC source directory")
	cmd.Flags().StringVarP(&policyDir, "policy-dir", "p", "", "policy directory")
	cmd.Flags().StringArrayVar(&varFiles, "var-file", nil, "variable file (repeatable, later files override earlier)")
	cmd.Flags().StringVar(&workspace, "terraform-workspace", "default", "terraform workspace")
	cmd.Flags().StringVarP(&output, "output", "o", "cli", fmt.Sprintf("output format %v", report.RunNames()))
	cmd.Flags().StringVar(&outputFile, "output-file", "", "write output to file instead of stdout")
	cmd.Flags().StringVar(&outputQuery, "output-query", "", "jmespath query applied to JSON output")
	cmd.Flags().StringVar(&summaryMode, "summary", "policy", "summary grouping: policy or resource")
	cmd.Flags().StringVar(&filters, "filters", "", "policy selection filter (key=glob terms)")
	cmd.Flags().StringVar(&warnOn, "warn-on", "", "downgrade matching failures to warnings")
	cmd.Flags().IntVar(&parallelism, "parallelism", 0, "evaluation worker count (0 = number of CPUs)")
	cmd.Flags().BoolVar(&watch, "watch", false, "re-run when policy files change")
	cmd.Flags().BoolVar(&includePasses, "include-passes", false, "include passing results in the output")
	cmd.MarkFlagRequired("policy-dir")

	return cmd
}
