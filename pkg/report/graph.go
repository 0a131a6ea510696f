package report

import (
	"github.com/leftguard/leftguard/pkg/iac"
	"github.com/leftguard/leftguard/pkg/policy"
	"github.com/leftguard/leftguard/pkg/runner"
)

// graphDocument is the serialized shape of a parsed resource graph.
type graphDocument struct {
	Workspace string              `json:"workspace"`
	SourceDir string              `json:"source_dir"`
	Nodes     []*iac.ResourceNode `json:"nodes"`
}

// GraphReporter ignores evaluation results and dumps the parsed graph as
// JSON. It backs the dump command.
type GraphReporter struct {
	opts Options
	err  error
}

// NewGraphReporter creates the graph-dump reporter.
func NewGraphReporter(opts Options) *GraphReporter {
	return &GraphReporter{opts: opts}
}

// OnRunStarted implements runner.Reporter. The graph is written
// immediately: the dump does not depend on evaluation.
func (r *GraphReporter) OnRunStarted(_ []*policy.Policy, graph *iac.Graph) {
	r.err = r.Dump(graph)
}

// OnResult implements runner.Reporter.
func (r *GraphReporter) OnResult(*runner.ResourceResult) {}

// OnRunEnded implements runner.Reporter.
func (r *GraphReporter) OnRunEnded(*runner.RunResult) {}

// Dump writes the graph document directly, without a run.
func (r *GraphReporter) Dump(graph *iac.Graph) error {
	doc := graphDocument{
		Workspace: graph.Workspace(),
		SourceDir: graph.SourceDir(),
		Nodes:     graph.Nodes(),
	}
	return writeJSON(r.opts.Writer, r.opts.Query, doc)
}

// Err returns the write error from the dump, if any.
func (r *GraphReporter) Err() error { return r.err }
