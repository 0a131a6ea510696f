package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/leftguard/leftguard/pkg/iac"
	"github.com/leftguard/leftguard/pkg/policy"
	"github.com/leftguard/leftguard/pkg/runner"
)

func init() {
	ColorEnabled = false
}

func sampleRun() ([]*policy.Policy, *iac.Graph, []*runner.ResourceResult, *runner.RunResult) {
	policies := []*policy.Policy{
		{Name: "no-public-acl", ResourceType: "aws_s3_bucket", Severity: policy.SeverityHigh,
			Description: "Buckets must not use public ACLs"},
	}
	graph := iac.NewGraph("/src", "default")
	graph.Add(&iac.ResourceNode{
		ID: "aws_s3_bucket.open", Type: "aws_s3_bucket", Name: "open", Kind: iac.KindResource,
		Location: iac.Location{Path: "main.tf", StartLine: 2, EndLine: 6},
	})
	graph.Add(&iac.ResourceNode{
		ID: "aws_s3_bucket.closed", Type: "aws_s3_bucket", Name: "closed", Kind: iac.KindResource,
		Location: iac.Location{Path: "main.tf", StartLine: 8, EndLine: 12},
	})

	results := []*runner.ResourceResult{
		{
			PolicyName: "no-public-acl",
			Severity:   policy.SeverityHigh,
			ResourceID: "aws_s3_bucket.open",
			Verdict:    runner.VerdictFail,
			Message:    "Buckets must not use public ACLs",
			Location:   iac.Location{Path: "main.tf", StartLine: 2, EndLine: 6},
		},
		{
			PolicyName: "no-public-acl",
			Severity:   policy.SeverityHigh,
			ResourceID: "aws_s3_bucket.closed",
			Verdict:    runner.VerdictPass,
			Location:   iac.Location{Path: "main.tf", StartLine: 8, EndLine: 12},
		},
	}

	run := &runner.RunResult{
		ID:        "test-run",
		Workspace: "default",
		Results:   results,
		Failed:    true,
		Counts: map[runner.Verdict]int{
			runner.VerdictFail: 1,
			runner.VerdictPass: 1,
		},
		Policies:  1,
		Resources: 2,
	}
	return policies, graph, results, run
}

func render(t *testing.T, name string, opts Options) string {
	t.Helper()
	var buf bytes.Buffer
	opts.Writer = &buf
	reporter, err := New(name, opts)
	if err != nil {
		t.Fatal(err)
	}
	policies, graph, results, run := sampleRun()
	reporter.OnRunStarted(policies, graph)
	for _, res := range results {
		reporter.OnResult(res)
	}
	reporter.OnRunEnded(run)
	return buf.String()
}

func TestNewUnknownFormat(t *testing.T) {
	if _, err := New("xml", Options{}); err == nil {
		t.Fatal("unknown format was accepted")
	}
}

func TestNames(t *testing.T) {
	names := Names()
	want := []string{"cli", "github", "json", "jsongraph"}
	if len(names) != len(want) {
		t.Fatalf("Names = %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Names[%d] = %s, want %s", i, names[i], want[i])
		}
	}
	for _, name := range RunNames() {
		if name == "jsongraph" {
			t.Error("jsongraph must not be a run format")
		}
	}
}

func TestCLIReporter(t *testing.T) {
	out := render(t, "cli", Options{SummaryMode: "policy"})

	for _, want := range []string{
		"FAIL", "high", "no-public-acl", "aws_s3_bucket.open",
		"main.tf:2-6",
		"Buckets must not use public ACLs",
		"1 passed, 1 failed",
		"evaluation failed",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("cli output missing %q:\n%s", want, out)
		}
	}
	// Passes are suppressed by default.
	if strings.Contains(out, "aws_s3_bucket.closed") {
		t.Errorf("cli output includes passing resource:\n%s", out)
	}

	withPasses := render(t, "cli", Options{SummaryMode: "policy", IncludePasses: true})
	if !strings.Contains(withPasses, "aws_s3_bucket.closed") {
		t.Errorf("IncludePasses output missing passing resource:\n%s", withPasses)
	}
}

func TestCLIReporterResourceSummary(t *testing.T) {
	out := render(t, "cli", Options{SummaryMode: "resource"})
	if !strings.Contains(out, "aws_s3_bucket.open") {
		t.Errorf("resource summary missing resource id:\n%s", out)
	}
}

func TestJSONReporter(t *testing.T) {
	out := render(t, "json", Options{})

	var doc map[string]any
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("json output not parseable: %v\n%s", err, out)
	}
	if doc["id"] != "test-run" || doc["failed"] != true {
		t.Errorf("document = %v", doc)
	}
	results := doc["results"].([]any)
	// Passes are stripped by default.
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}
	first := results[0].(map[string]any)
	if first["verdict"] != "fail" || first["resource"] != "aws_s3_bucket.open" {
		t.Errorf("first result = %v", first)
	}
}

func TestJSONReporterQuery(t *testing.T) {
	out := render(t, "json", Options{Query: "results[0].policy", IncludePasses: true})
	if strings.TrimSpace(out) != `"no-public-acl"` {
		t.Errorf("query output = %q", out)
	}
}

func TestGitHubReporter(t *testing.T) {
	out := render(t, "github", Options{})

	if !strings.Contains(out, "::error file=main.tf,line=2,endLine=6,title=no-public-acl::") {
		t.Errorf("github output missing annotation:\n%s", out)
	}
	// No annotation for passes.
	if strings.Count(out, "::") < 2 || strings.Contains(out, "aws_s3_bucket.closed") {
		t.Errorf("github output = %q", out)
	}
}

func TestGraphReporterDump(t *testing.T) {
	_, graph, _, _ := sampleRun()
	var buf bytes.Buffer
	if err := NewGraphReporter(Options{Writer: &buf}).Dump(graph); err != nil {
		t.Fatal(err)
	}

	var doc map[string]any
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("graph dump not parseable: %v", err)
	}
	if doc["workspace"] != "default" {
		t.Errorf("workspace = %v", doc["workspace"])
	}
	if nodes := doc["nodes"].([]any); len(nodes) != 2 {
		t.Errorf("nodes = %d", len(nodes))
	}
}

func TestGraphReporterQuery(t *testing.T) {
	_, graph, _, _ := sampleRun()
	var buf bytes.Buffer
	err := NewGraphReporter(Options{Writer: &buf, Query: "nodes[].id"}).Dump(graph)
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	if err := json.Unmarshal(buf.Bytes(), &ids); err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 || ids[0] != "aws_s3_bucket.open" {
		t.Errorf("ids = %v", ids)
	}
}
