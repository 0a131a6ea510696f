package report

import (
	"github.com/leftguard/leftguard/pkg/iac"
	"github.com/leftguard/leftguard/pkg/policy"
	"github.com/leftguard/leftguard/pkg/runner"
)

// JSONReporter buffers every result and writes one machine-readable
// document when the run ends.
type JSONReporter struct {
	opts Options
	err  error
}

// NewJSONReporter creates a reporter that emits a single JSON document.
func NewJSONReporter(opts Options) *JSONReporter {
	return &JSONReporter{opts: opts}
}

// OnRunStarted implements runner.Reporter.
func (r *JSONReporter) OnRunStarted([]*policy.Policy, *iac.Graph) {}

// OnResult implements runner.Reporter. Nothing is streamed: the document
// is written whole at the end so it is always well-formed.
func (r *JSONReporter) OnResult(*runner.ResourceResult) {}

// OnRunEnded implements runner.Reporter.
func (r *JSONReporter) OnRunEnded(run *runner.RunResult) {
	out := run
	if !r.opts.IncludePasses {
		filtered := *run
		filtered.Results = nil
		for _, res := range run.Results {
			if res.Verdict != runner.VerdictPass {
				filtered.Results = append(filtered.Results, res)
			}
		}
		out = &filtered
	}
	r.err = writeJSON(r.opts.Writer, r.opts.Query, out)
}

// Err returns the write error from the final document, if any.
func (r *JSONReporter) Err() error { return r.err }
