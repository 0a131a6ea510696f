// Package terraform implements the iac.Provider contract for Terraform
// HCL sources: it parses *.tf files, resolves input variables and locals
// across file boundaries, and builds the resource graph with referential
// edges. It does not evaluate providers or talk to any cloud API.
package terraform

import (
	"context"

	"github.com/leftguard/leftguard/pkg/iac"
)

// Provider is the Terraform front end.
type Provider struct{}

// Name returns the format name used for provider selection.
func (p *Provider) Name() string { return "terraform" }

// Parse builds the resource graph for sourceDir under the given workspace.
// Var files are applied in order, later files overriding earlier ones.
func (p *Provider) Parse(ctx context.Context, sourceDir string, varFiles []string, workspace string) (*iac.Graph, error) {
	if workspace == "" {
		workspace = "default"
	}
	b := newBuilder(sourceDir, workspace)
	if err := b.loadSources(ctx); err != nil {
		return nil, err
	}
	if err := b.loadVarFiles(varFiles); err != nil {
		return nil, err
	}
	if err := b.resolveVariables(); err != nil {
		return nil, err
	}
	return b.buildGraph()
}

func init() {
	iac.RegisterProvider(&Provider{})
}
