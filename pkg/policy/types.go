package policy

import (
	"strings"
)

// Severity represents the severity level of a policy finding.
type Severity string

const (
	// SeverityUnknown is the zero severity for policies that declare none.
	SeverityUnknown Severity = "unknown"

	// SeverityLow is for low-risk findings.
	SeverityLow Severity = "low"

	// SeverityMedium is for findings that should be reviewed.
	SeverityMedium Severity = "medium"

	// SeverityHigh is for findings that should block provisioning.
	SeverityHigh Severity = "high"

	// SeverityCritical is for findings that must be addressed immediately.
	SeverityCritical Severity = "critical"
)

var severityRanks = map[Severity]int{
	SeverityUnknown:  0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// ParseSeverity normalizes a severity string case-insensitively.
// Unrecognized values parse as SeverityUnknown.
func ParseSeverity(s string) Severity {
	sev := Severity(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := severityRanks[sev]; ok {
		return sev
	}
	return SeverityUnknown
}

// Rank returns the ordering position of the severity, unknown lowest.
func (s Severity) Rank() int {
	return severityRanks[s]
}

func (s Severity) String() string {
	return string(s)
}

// Policy is a named predicate evaluated against every graph node whose
// type matches the resource selector. Policies are immutable after load.
type Policy struct {
	// Name is unique within a loaded set.
	Name string `json:"name"`

	// ResourceType selects the node types the policy applies to. Supports
	// * and ? globbing (e.g. "aws_*").
	ResourceType string `json:"resource_type"`

	// Description is a human-readable summary of the policy intent.
	Description string `json:"description,omitempty"`

	// Severity is the declared finding severity.
	Severity Severity `json:"severity"`

	// Categories are free-form classification labels (e.g. "encryption").
	Categories []string `json:"categories,omitempty"`

	// Mode is the authoring convention metadata (e.g. "deny").
	Mode string `json:"mode,omitempty"`

	// Remediation is guidance attached to failing results.
	Remediation string `json:"remediation,omitempty"`

	// Condition is the compiled filter tree. A nil condition matches every
	// node of the selected type.
	Condition Condition `json:"-"`

	// Source is the file the policy was loaded from.
	Source string `json:"source,omitempty"`
}

// Attributes returns the policy metadata bag the execution filter matches
// against.
func (p *Policy) Attributes() map[string]string {
	attrs := map[string]string{
		"name":          p.Name,
		"resource-type": p.ResourceType,
		"severity":      string(p.Severity),
		"mode":          p.Mode,
	}
	if len(p.Categories) > 0 {
		attrs["category"] = strings.Join(p.Categories, ",")
	}
	return attrs
}

// Evaluate runs the condition tree against a node's attribute mapping.
// A true result means the node matches the policy predicate; by deny
// convention that is a violation. Evaluation never panics: operator
// errors surface as an error return and are isolated by the runner.
func (p *Policy) Evaluate(attrs map[string]any) (bool, error) {
	if p.Condition == nil {
		return true, nil
	}
	return p.Condition.Evaluate(attrs)
}
