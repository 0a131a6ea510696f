package commands

import (
	"github.com/spf13/cobra"

	"github.com/leftguard/leftguard/pkg/iac"
	_ "github.com/leftguard/leftguard/pkg/iac/terraform"
	"github.com/leftguard/leftguard/pkg/report"
)

func newDumpCommand() *cobra.Command {
	var (
		directory   string
		varFiles    []string
		workspace   string
		outputFile  string
		outputQuery string
	)

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Parse an IaC source directory and dump the resource graph",
		Long: `Parse the source directory without evaluating any policies and write
the resulting resource graph as JSON. Useful for inspecting what the
parser sees and for building attribute paths in policy conditions.`,
		Example: `  # Dump the graph for ./infra
  leftguard dump -d ./infra

  # Only the node addresses
  leftguard dump -d ./infra --output-query "nodes[].id"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			provider, err := iac.GetProvider("terraform")
			if err != nil {
				return err
			}
			graph, err := provider.Parse(cmd.Context(), directory, varFiles, workspace)
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

			return report.NewGraphReporter(report.Options{
				Writer: writer,
				Query:  outputQuery,
			}).Dump(graph)
		},
	}

	cmd.Flags().StringVarP(&directory, "directory", "d", ".", "IaC source directory")
	cmd.Flags().StringArrayVar(&varFiles, "var-file", nil, "variable file (repeatable, later files override earlier)")
	cmd.Flags().StringVar(&workspace, "terraform-workspace", "default", "terraform workspace")
	cmd.Flags().StringVar(&outputFile, "output-file", "", "write output to file instead of stdout")
	cmd.Flags().StringVar(&outputQuery, "output-query", "", "jmespath query applied to the graph document")

	return cmd
}
