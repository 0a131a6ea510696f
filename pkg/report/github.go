package report

import (
	"fmt"

	"github.com/leftguard/leftguard/pkg/iac"
	"github.com/leftguard/leftguard/pkg/policy"
	"github.com/leftguard/leftguard/pkg/runner"
)

// GitHubReporter emits GitHub Actions workflow commands so findings show
// up as inline annotations on the offending source lines.
type GitHubReporter struct {
	opts Options
}

// NewGitHubReporter creates a reporter for GitHub Actions logs.
func NewGitHubReporter(opts Options) *GitHubReporter {
	return &GitHubReporter{opts: opts}
}

// OnRunStarted implements runner.Reporter.
func (r *GitHubReporter) OnRunStarted([]*policy.Policy, *iac.Graph) {}

// OnResult implements runner.Reporter. Failures become error
// annotations, warnings and evaluation errors become warning
// annotations. Passes are never annotated.
func (r *GitHubReporter) OnResult(result *runner.ResourceResult) {
	var level string
	switch result.Verdict {
	case runner.VerdictFail:
		level = "error"
	case runner.VerdictWarn, runner.VerdictError:
		level = "warning"
	default:
		return
	}

	message := result.Message
	if message == "" {
		message = result.Error
	}
	fmt.Fprintf(r.opts.Writer, "::%s file=%s,line=%d,endLine=%d,title=%s::%s %s - %s\n",
		level,
		result.Location.Path,
		result.Location.StartLine,
		result.Location.EndLine,
		result.PolicyName,
		result.Severity,
		result.ResourceID,
		message)
}

// OnRunEnded implements runner.Reporter.
func (r *GitHubReporter) OnRunEnded(run *runner.RunResult) {
	fmt.Fprintf(r.opts.Writer, "%d passed, %d failed, %d warnings, %d errors\n",
		run.Counts[runner.VerdictPass],
		run.Counts[runner.VerdictFail],
		run.Counts[runner.VerdictWarn],
		run.Counts[runner.VerdictError])
}
