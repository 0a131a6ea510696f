package runner

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/leftguard/leftguard/pkg/iac"
	"github.com/leftguard/leftguard/pkg/policy"
)

// recordingReporter captures the callback sequence for assertions.
type recordingReporter struct {
	mu        sync.Mutex
	started   int
	ended     int
	results   []*ResourceResult
	runResult *RunResult
}

func (r *recordingReporter) OnRunStarted([]*policy.Policy, *iac.Graph) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started++
}

func (r *recordingReporter) OnResult(result *ResourceResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
}

func (r *recordingReporter) OnRunEnded(result *RunResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended++
	r.runResult = result
}

func testPolicy(t *testing.T, name, resourceType, severity string, cond policy.Condition) *policy.Policy {
	t.Helper()
	return &policy.Policy{
		Name:         name,
		ResourceType: resourceType,
		Severity:     policy.ParseSeverity(severity),
		Condition:    cond,
	}
}

func testGraph(t *testing.T, nodes ...*iac.ResourceNode) *iac.Graph {
	t.Helper()
	g := iac.NewGraph("/src", "default")
	for _, n := range nodes {
		if err := g.Add(n); err != nil {
			t.Fatal(err)
		}
	}
	return g
}

func bucketNode(id string, attrs map[string]any) *iac.ResourceNode {
	name := id[strings.LastIndexByte(id, '.')+1:]
	return &iac.ResourceNode{
		ID:         id,
		Type:       "aws_s3_bucket",
		Name:       name,
		Kind:       iac.KindResource,
		Attributes: attrs,
	}
}

func publicACLCondition(t *testing.T) policy.Condition {
	t.Helper()
	m, err := policy.NewMatch("acl", policy.OpGlob, "public-*")
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestRunVerdicts(t *testing.T) {
	policies := []*policy.Policy{
		testPolicy(t, "no-public-acl", "aws_s3_bucket", "high", publicACLCondition(t)),
	}
	graph := testGraph(t,
		bucketNode("aws_s3_bucket.open", map[string]any{"acl": "public-read"}),
		bucketNode("aws_s3_bucket.closed", map[string]any{"acl": "private"}),
	)

	reporter := &recordingReporter{}
	runner := NewCollectionRunner(policies, reporter, Options{Logger: zerolog.Nop()})
	run, err := runner.Run(context.Background(), graph)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if reporter.started != 1 || reporter.ended != 1 {
		t.Errorf("callbacks: started=%d ended=%d", reporter.started, reporter.ended)
	}
	if len(run.Results) != 2 {
		t.Fatalf("results = %d, want 2", len(run.Results))
	}
	if run.Results[0].ResourceID != "aws_s3_bucket.open" || run.Results[0].Verdict != VerdictFail {
		t.Errorf("first result = %s/%s", run.Results[0].ResourceID, run.Results[0].Verdict)
	}
	if run.Results[1].Verdict != VerdictPass {
		t.Errorf("second result = %s", run.Results[1].Verdict)
	}
	if !run.Failed {
		t.Error("run with a surviving failure must be Failed")
	}
	if run.Counts[VerdictFail] != 1 || run.Counts[VerdictPass] != 1 {
		t.Errorf("counts = %v", run.Counts)
	}
	if run.ID == "" {
		t.Error("run has no ID")
	}
}

func TestRunEmptyPolicySet(t *testing.T) {
	reporter := &recordingReporter{}
	runner := NewCollectionRunner(nil, reporter, Options{Logger: zerolog.Nop()})
	_, err := runner.Run(context.Background(), testGraph(t))
	if !errors.Is(err, ErrNoPolicies) {
		t.Fatalf("err = %v, want ErrNoPolicies", err)
	}
	// The empty set is reported before any callback fires.
	if reporter.started != 0 || reporter.ended != 0 || len(reporter.results) != 0 {
		t.Errorf("callbacks fired on empty policy set: %+v", reporter)
	}
}

func TestRunSingleUse(t *testing.T) {
	policies := []*policy.Policy{testPolicy(t, "p", "aws_s3_bucket", "low", nil)}
	runner := NewCollectionRunner(policies, &recordingReporter{}, Options{Logger: zerolog.Nop()})
	if _, err := runner.Run(context.Background(), testGraph(t)); err != nil {
		t.Fatal(err)
	}
	if _, err := runner.Run(context.Background(), testGraph(t)); err == nil {
		t.Fatal("second Run was accepted")
	}
}

func TestRunWarnDowngrade(t *testing.T) {
	policies := []*policy.Policy{
		testPolicy(t, "cost-tagging", "aws_s3_bucket", "low", publicACLCondition(t)),
		testPolicy(t, "no-public-acl", "aws_s3_bucket", "high", publicACLCondition(t)),
	}
	policies[0].Categories = []string{"cost"}

	warnFilter, err := policy.ParseFilter("category=cost", policy.DirectionGTE)
	if err != nil {
		t.Fatal(err)
	}

	graph := testGraph(t, bucketNode("aws_s3_bucket.open", map[string]any{"acl": "public-read"}))

	reporter := &recordingReporter{}
	runner := NewCollectionRunner(policies, reporter, Options{
		WarnFilter: warnFilter,
		Logger:     zerolog.Nop(),
	})
	run, err := runner.Run(context.Background(), graph)
	if err != nil {
		t.Fatal(err)
	}

	warned := run.Results[0]
	if warned.Verdict != VerdictWarn {
		t.Fatalf("downgraded verdict = %s, want warn", warned.Verdict)
	}
	if warned.OriginalVerdict != VerdictFail || !warned.Downgraded() {
		t.Error("downgrade must preserve the original fail verdict")
	}

	failed := run.Results[1]
	if failed.Verdict != VerdictFail || failed.Downgraded() {
		t.Errorf("unmatched policy result = %s (downgraded=%v)", failed.Verdict, failed.Downgraded())
	}

	// One failure survived, so the run still fails.
	if !run.Failed {
		t.Error("run must be Failed while any fail verdict survives")
	}
	if run.Counts[VerdictWarn] != 1 || run.Counts[VerdictFail] != 1 {
		t.Errorf("counts = %v", run.Counts)
	}
}

func TestRunWarnDowngradeAllFailures(t *testing.T) {
	policies := []*policy.Policy{
		testPolicy(t, "no-public-acl", "aws_s3_bucket", "high", publicACLCondition(t)),
	}
	warnFilter, err := policy.ParseFilter("severity=low", policy.DirectionGTE)
	if err != nil {
		t.Fatal(err)
	}

	graph := testGraph(t, bucketNode("aws_s3_bucket.open", map[string]any{"acl": "public-read"}))

	runner := NewCollectionRunner(policies, &recordingReporter{}, Options{
		WarnFilter: warnFilter,
		Logger:     zerolog.Nop(),
	})
	run, err := runner.Run(context.Background(), graph)
	if err != nil {
		t.Fatal(err)
	}
	if run.Failed {
		t.Error("run must pass when every failure was downgraded")
	}
}

func TestRunEmptyWarnFilterDowngradesNothing(t *testing.T) {
	policies := []*policy.Policy{
		testPolicy(t, "no-public-acl", "aws_s3_bucket", "high", publicACLCondition(t)),
	}
	warnFilter, err := policy.ParseFilter("", policy.DirectionGTE)
	if err != nil {
		t.Fatal(err)
	}

	graph := testGraph(t, bucketNode("aws_s3_bucket.open", map[string]any{"acl": "public-read"}))

	runner := NewCollectionRunner(policies, &recordingReporter{}, Options{
		WarnFilter: warnFilter,
		Logger:     zerolog.Nop(),
	})
	run, err := runner.Run(context.Background(), graph)
	if err != nil {
		t.Fatal(err)
	}
	if run.Results[0].Verdict != VerdictFail {
		t.Errorf("verdict = %s, want fail", run.Results[0].Verdict)
	}
}

// errorCondition fails evaluation to exercise per-pair isolation.
type errorCondition struct{}

func (errorCondition) Evaluate(map[string]any) (bool, error) {
	return false, errors.New("synthetic evaluation failure")
}

func TestRunErrorIsolation(t *testing.T) {
	policies := []*policy.Policy{
		testPolicy(t, "broken", "aws_s3_bucket", "high", errorCondition{}),
		testPolicy(t, "no-public-acl", "aws_s3_bucket", "high", publicACLCondition(t)),
	}
	graph := testGraph(t, bucketNode("aws_s3_bucket.open", map[string]any{"acl": "public-read"}))

	reporter := &recordingReporter{}
	runner := NewCollectionRunner(policies, reporter, Options{Logger: zerolog.Nop()})
	run, err := runner.Run(context.Background(), graph)
	if err != nil {
		t.Fatalf("per-pair error aborted the run: %v", err)
	}

	if run.Results[0].Verdict != VerdictError {
		t.Errorf("broken pair verdict = %s", run.Results[0].Verdict)
	}
	if run.Results[0].Error == "" {
		t.Error("error verdict must carry the error message")
	}
	// The healthy policy still evaluated.
	if run.Results[1].Verdict != VerdictFail {
		t.Errorf("healthy pair verdict = %s", run.Results[1].Verdict)
	}
	if run.Counts[VerdictError] != 1 {
		t.Errorf("counts = %v", run.Counts)
	}
}

func TestRunDeterministicOrder(t *testing.T) {
	var policies []*policy.Policy
	for _, name := range []string{"p1", "p2", "p3"} {
		policies = append(policies, testPolicy(t, name, "aws_s3_bucket", "low", publicACLCondition(t)))
	}
	var nodes []*iac.ResourceNode
	for _, name := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		nodes = append(nodes, bucketNode("aws_s3_bucket."+name, map[string]any{"acl": "public-read"}))
	}

	order := func(parallelism int) []string {
		reporter := &recordingReporter{}
		runner := NewCollectionRunner(policies, reporter, Options{
			Parallelism: parallelism,
			Logger:      zerolog.Nop(),
		})
		if _, err := runner.Run(context.Background(), testGraph(t, nodes...)); err != nil {
			t.Fatal(err)
		}
		var ids []string
		for _, res := range reporter.results {
			ids = append(ids, res.PolicyName+"/"+res.ResourceID)
		}
		return ids
	}

	serial := order(1)
	if len(serial) != len(policies)*len(nodes) {
		t.Fatalf("serial produced %d results", len(serial))
	}
	for _, parallelism := range []int{2, 4, 16} {
		parallel := order(parallelism)
		if len(parallel) != len(serial) {
			t.Fatalf("parallelism %d produced %d results, want %d", parallelism, len(parallel), len(serial))
		}
		for i := range serial {
			if parallel[i] != serial[i] {
				t.Fatalf("parallelism %d diverged at %d: %s != %s", parallelism, i, parallel[i], serial[i])
			}
		}
	}
}

func TestRunResourceTypeSelector(t *testing.T) {
	policies := []*policy.Policy{
		testPolicy(t, "aws-wide", "aws_*", "low", nil),
	}
	g := iac.NewGraph("/src", "default")
	for _, n := range []*iac.ResourceNode{
		bucketNode("aws_s3_bucket.a", nil),
		{ID: "google_storage_bucket.b", Type: "google_storage_bucket", Name: "b", Kind: iac.KindResource},
		{ID: "var.region", Type: "variable", Name: "region", Kind: iac.KindVariable},
	} {
		if err := g.Add(n); err != nil {
			t.Fatal(err)
		}
	}

	reporter := &recordingReporter{}
	runner := NewCollectionRunner(policies, reporter, Options{Logger: zerolog.Nop()})
	run, err := runner.Run(context.Background(), g)
	if err != nil {
		t.Fatal(err)
	}
	// Only the aws resource matches; variables are never evaluated.
	if len(run.Results) != 1 || run.Results[0].ResourceID != "aws_s3_bucket.a" {
		t.Errorf("results = %+v", run.Results)
	}
}

func TestRunCancellation(t *testing.T) {
	policies := []*policy.Policy{testPolicy(t, "p", "aws_s3_bucket", "low", nil)}
	graph := testGraph(t, bucketNode("aws_s3_bucket.a", nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := NewCollectionRunner(policies, &recordingReporter{}, Options{Logger: zerolog.Nop()})
	_, err := runner.Run(ctx, graph)
	if err == nil {
		t.Fatal("cancelled run returned no error")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled in chain", err)
	}
}

// inspectingReporter validates each result at delivery time, whichever
// worker goroutine ends up flushing it.
type inspectingReporter struct {
	mu      sync.Mutex
	seen    int
	partial int
}

func (r *inspectingReporter) OnRunStarted([]*policy.Policy, *iac.Graph) {}

func (r *inspectingReporter) OnResult(res *ResourceResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen++
	if res.Policy == nil || res.Node == nil || res.PolicyName == "" || res.ResourceID == "" || res.Verdict == "" {
		r.partial++
	}
}

func (r *inspectingReporter) OnRunEnded(*RunResult) {}

func TestRunParallelDeliveryComplete(t *testing.T) {
	var policies []*policy.Policy
	for _, name := range []string{"p1", "p2", "p3", "p4"} {
		policies = append(policies, testPolicy(t, name, "aws_s3_bucket", "medium", publicACLCondition(t)))
	}
	var nodes []*iac.ResourceNode
	for _, name := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l"} {
		nodes = append(nodes, bucketNode("aws_s3_bucket."+name, map[string]any{"acl": "public-read"}))
	}

	for i := 0; i < 25; i++ {
		reporter := &inspectingReporter{}
		runner := NewCollectionRunner(policies, reporter, Options{
			Parallelism: 8,
			Logger:      zerolog.Nop(),
		})
		if _, err := runner.Run(context.Background(), testGraph(t, nodes...)); err != nil {
			t.Fatal(err)
		}
		if reporter.seen != len(policies)*len(nodes) {
			t.Fatalf("delivered %d results, want %d", reporter.seen, len(policies)*len(nodes))
		}
		if reporter.partial != 0 {
			t.Fatalf("%d results were not fully published at delivery", reporter.partial)
		}
	}
}
