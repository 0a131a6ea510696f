package runner

import (
	"time"

	"github.com/leftguard/leftguard/pkg/iac"
	"github.com/leftguard/leftguard/pkg/policy"
)

// Verdict is the per-(policy, resource) outcome.
type Verdict string

const (
	// VerdictPass means the node did not match the policy predicate.
	VerdictPass Verdict = "pass"

	// VerdictFail means the node matched a deny policy.
	VerdictFail Verdict = "fail"

	// VerdictWarn is a failure downgraded by the warn filter.
	VerdictWarn Verdict = "warn"

	// VerdictError means evaluation of the pair itself failed.
	VerdictError Verdict = "error"
)

// ResourceResult is the immutable outcome of evaluating one policy
// against one resource node.
type ResourceResult struct {
	// Policy is the evaluated policy.
	Policy *policy.Policy `json:"-"`

	// PolicyName is the policy name, duplicated for serialization.
	PolicyName string `json:"policy"`

	// Severity is the policy's declared severity.
	Severity policy.Severity `json:"severity"`

	// Node is the evaluated resource node.
	Node *iac.ResourceNode `json:"-"`

	// ResourceID is the node address, duplicated for serialization.
	ResourceID string `json:"resource"`

	// Verdict is the primary outcome after warn-filter reclassification.
	Verdict Verdict `json:"verdict"`

	// OriginalVerdict preserves the pre-downgrade verdict when the warn
	// filter reclassified a failure; empty otherwise.
	OriginalVerdict Verdict `json:"original_verdict,omitempty"`

	// Message carries the policy description for failing results.
	Message string `json:"message,omitempty"`

	// Remediation is the policy's remediation guidance, on failures.
	Remediation string `json:"remediation,omitempty"`

	// Error is the evaluation error for error-verdict results.
	Error string `json:"error,omitempty"`

	// Location is the node's source provenance.
	Location iac.Location `json:"location"`
}

// Downgraded reports whether the warn filter reclassified this result.
func (r *ResourceResult) Downgraded() bool {
	return r.OriginalVerdict != "" && r.OriginalVerdict != r.Verdict
}

// RunResult is the aggregated outcome of one full policy-set evaluation
// over one graph.
type RunResult struct {
	// ID uniquely identifies the run.
	ID string `json:"id"`

	// Workspace is the workspace label the graph was parsed under.
	Workspace string `json:"workspace"`

	// Results holds every produced result in (policy, node) order.
	Results []*ResourceResult `json:"results"`

	// Failed is true iff any fail verdict survived the warn filter.
	Failed bool `json:"failed"`

	// Counts tallies results per verdict.
	Counts map[Verdict]int `json:"counts"`

	// Policies is the number of policies evaluated.
	Policies int `json:"policies"`

	// Resources is the number of graph nodes considered.
	Resources int `json:"resources"`

	// StartedAt and Duration time the evaluation pass.
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// ByVerdict returns results carrying the given verdict, preserving order.
func (r *RunResult) ByVerdict(v Verdict) []*ResourceResult {
	var out []*ResourceResult
	for _, res := range r.Results {
		if res.Verdict == v {
			out = append(out, res)
		}
	}
	return out
}
