package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/leftguard/leftguard/pkg/iac"
	"github.com/leftguard/leftguard/pkg/policy"
	"github.com/leftguard/leftguard/pkg/runner"
)

// ColorEnabled controls whether ANSI color codes are emitted.
var ColorEnabled = true

const (
	reset = "\033[0m"
	bold  = "\033[1m"
	dim   = "\033[2m"

	red    = "\033[31m"
	green  = "\033[32m"
	yellow = "\033[33m"
	cyan   = "\033[36m"
	white  = "\033[37m"

	brightRed = "\033[91m"
)

func c(style, text string) string {
	if !ColorEnabled {
		return text
	}
	return style + text + reset
}

func severityColor(sev policy.Severity) string {
	switch sev {
	case policy.SeverityCritical:
		return brightRed
	case policy.SeverityHigh:
		return red
	case policy.SeverityMedium:
		return yellow
	case policy.SeverityLow:
		return cyan
	default:
		return white
	}
}

func verdictTag(v runner.Verdict) string {
	switch v {
	case runner.VerdictFail:
		return c(bold+red, "FAIL")
	case runner.VerdictWarn:
		return c(bold+yellow, "WARN")
	case runner.VerdictError:
		return c(bold+yellow, "ERROR")
	default:
		return c(green, "PASS")
	}
}

// CLIReporter renders results as human-readable text, streaming findings
// as they arrive and closing with a summary grouped by policy or by
// resource.
type CLIReporter struct {
	opts    Options
	results []*runner.ResourceResult
}

// NewCLIReporter creates the default human-readable reporter.
func NewCLIReporter(opts Options) *CLIReporter {
	return &CLIReporter{opts: opts}
}

// OnRunStarted implements runner.Reporter.
func (r *CLIReporter) OnRunStarted(policies []*policy.Policy, graph *iac.Graph) {
	fmt.Fprintf(r.opts.Writer, "%s %d policies against %d resources (workspace %s)\n\n",
		c(dim, "evaluating"), len(policies), graph.Len(), graph.Workspace())
}

// OnResult implements runner.Reporter. Passes are suppressed unless
// requested.
func (r *CLIReporter) OnResult(result *runner.ResourceResult) {
	r.results = append(r.results, result)
	if result.Verdict == runner.VerdictPass && !r.opts.IncludePasses {
		return
	}

	w := r.opts.Writer
	fmt.Fprintf(w, "%s %s %s %s\n",
		verdictTag(result.Verdict),
		c(severityColor(result.Severity), string(result.Severity)),
		result.PolicyName,
		result.ResourceID)
	fmt.Fprintf(w, "     %s\n", c(dim, result.Location.String()))
	if result.Message != "" {
		fmt.Fprintf(w, "     %s\n", result.Message)
	}
	if result.Error != "" {
		fmt.Fprintf(w, "     %s %s\n", c(yellow, "evaluation error:"), result.Error)
	}
	if result.Downgraded() {
		fmt.Fprintf(w, "     %s\n", c(dim, "downgraded from "+string(result.OriginalVerdict)))
	}
	if result.Remediation != "" {
		fmt.Fprintf(w, "     %s %s\n", c(dim, "remediation:"), result.Remediation)
	}
}

// OnRunEnded implements runner.Reporter.
func (r *CLIReporter) OnRunEnded(run *runner.RunResult) {
	w := r.opts.Writer
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s\n", c(dim, strings.Repeat("─", 50)))

	switch r.opts.SummaryMode {
	case "resource":
		r.resourceSummary(w)
	default:
		r.policySummary(w)
	}

	fmt.Fprintf(w, "\n%d passed, %d failed, %d warnings, %d errors\n",
		run.Counts[runner.VerdictPass],
		run.Counts[runner.VerdictFail],
		run.Counts[runner.VerdictWarn],
		run.Counts[runner.VerdictError])
	if run.Failed {
		fmt.Fprintf(w, "%s\n", c(bold+red, "evaluation failed"))
	} else {
		fmt.Fprintf(w, "%s\n", c(green, "evaluation passed"))
	}
}

func (r *CLIReporter) policySummary(w io.Writer) {
	type tally struct {
		name   string
		counts map[runner.Verdict]int
	}
	var order []string
	byPolicy := make(map[string]*tally)
	for _, res := range r.results {
		t, ok := byPolicy[res.PolicyName]
		if !ok {
			t = &tally{name: res.PolicyName, counts: make(map[runner.Verdict]int)}
			byPolicy[res.PolicyName] = t
			order = append(order, res.PolicyName)
		}
		t.counts[res.Verdict]++
	}
	for _, name := range order {
		t := byPolicy[name]
		fmt.Fprintf(w, "%-40s %s\n", t.name, formatCounts(t.counts))
	}
}

func (r *CLIReporter) resourceSummary(w io.Writer) {
	type tally struct {
		id     string
		counts map[runner.Verdict]int
	}
	var order []string
	byResource := make(map[string]*tally)
	for _, res := range r.results {
		t, ok := byResource[res.ResourceID]
		if !ok {
			t = &tally{id: res.ResourceID, counts: make(map[runner.Verdict]int)}
			byResource[res.ResourceID] = t
			order = append(order, res.ResourceID)
		}
		t.counts[res.Verdict]++
	}
	for _, id := range order {
		t := byResource[id]
		fmt.Fprintf(w, "%-40s %s\n", t.id, formatCounts(t.counts))
	}
}

func formatCounts(counts map[runner.Verdict]int) string {
	var parts []string
	if n := counts[runner.VerdictFail]; n > 0 {
		parts = append(parts, c(red, fmt.Sprintf("%d fail", n)))
	}
	if n := counts[runner.VerdictWarn]; n > 0 {
		parts = append(parts, c(yellow, fmt.Sprintf("%d warn", n)))
	}
	if n := counts[runner.VerdictError]; n > 0 {
		parts = append(parts, c(yellow, fmt.Sprintf("%d error", n)))
	}
	if n := counts[runner.VerdictPass]; n > 0 {
		parts = append(parts, c(green, fmt.Sprintf("%d pass", n)))
	}
	if len(parts) == 0 {
		return c(dim, "no results")
	}
	return strings.Join(parts, c(dim, " | "))
}
