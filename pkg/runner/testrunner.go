package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/leftguard/leftguard/pkg/iac"
	"github.com/leftguard/leftguard/pkg/policy"
)

// Expectation is the fixture author's declaration of which resources a
// policy must flag, stored as expected.yaml inside the fixture tree.
type Expectation struct {
	// Failed lists resource addresses the policy must fail.
	Failed []string `yaml:"failed"`

	// Passed lists resource addresses the policy must pass.
	Passed []string `yaml:"passed"`
}

// PolicyTestResult is the outcome of running one policy against its
// fixture tree.
type PolicyTestResult struct {
	// PolicyName is the tested policy.
	PolicyName string `json:"policy"`

	// FixtureDir is the fixture tree that was evaluated.
	FixtureDir string `json:"fixture_dir"`

	// Mismatches describe expectation violations; empty means the test
	// passed.
	Mismatches []string `json:"mismatches,omitempty"`

	// Skipped is true when the policy has no fixture tree.
	Skipped bool `json:"skipped,omitempty"`
}

// Passed reports whether the fixture expectations held.
func (r *PolicyTestResult) Passed() bool {
	return !r.Skipped && len(r.Mismatches) == 0
}

// TestRunner runs policy-author fixtures: for each policy, a directory of
// IaC sources under <policy-dir>/tests/<policy-name>/ plus an
// expected.yaml declaring which resources must fail and pass.
type TestRunner struct {
	policies []*policy.Policy
	provider iac.Provider
	testsDir string
	logger   zerolog.Logger
}

// NewTestRunner creates a fixture runner. testsDir is the root holding
// one fixture tree per policy name.
func NewTestRunner(policies []*policy.Policy, provider iac.Provider, testsDir string, logger zerolog.Logger) *TestRunner {
	return &TestRunner{
		policies: policies,
		provider: provider,
		testsDir: testsDir,
		logger:   logger.With().Str("component", "test-runner").Logger(),
	}
}

// Run evaluates every policy against its fixture tree. The boolean is
// true when every fixture-backed policy met its expectations and at least
// one fixture existed.
func (t *TestRunner) Run(ctx context.Context) ([]*PolicyTestResult, bool, error) {
	if len(t.policies) == 0 {
		return nil, false, ErrNoPolicies
	}

	var results []*PolicyTestResult
	tested := 0
	ok := true

	for _, pol := range t.policies {
		fixtureDir := filepath.Join(t.testsDir, pol.Name)
		result := &PolicyTestResult{PolicyName: pol.Name, FixtureDir: fixtureDir}

		if info, err := os.Stat(fixtureDir); err != nil || !info.IsDir() {
			result.Skipped = true
			t.logger.Warn().Str("policy", pol.Name).Msg("No fixture tree, skipping")
			results = append(results, result)
			continue
		}
		tested++

		mismatches, err := t.runFixture(ctx, pol, fixtureDir)
		if err != nil {
			return nil, false, fmt.Errorf("fixture for policy %q: %w", pol.Name, err)
		}
		result.Mismatches = mismatches
		if len(mismatches) > 0 {
			ok = false
		}
		results = append(results, result)
	}

	return results, ok && tested > 0, nil
}

func (t *TestRunner) runFixture(ctx context.Context, pol *policy.Policy, fixtureDir string) ([]string, error) {
	expected, err := t.loadExpectation(fixtureDir)
	if err != nil {
		return nil, err
	}

	graph, err := t.provider.Parse(ctx, fixtureDir, nil, "default")
	if err != nil {
		return nil, fmt.Errorf("failed to parse fixture sources: %w", err)
	}

	// Warn filters never apply in fixture runs: expectations are written
	// against raw verdicts.
	collector := &collectingReporter{}
	runner := NewCollectionRunner([]*policy.Policy{pol}, collector, Options{Logger: t.logger})
	if _, err := runner.Run(ctx, graph); err != nil {
		return nil, err
	}

	verdicts := make(map[string]Verdict, len(collector.results))
	for _, res := range collector.results {
		verdicts[res.ResourceID] = res.Verdict
	}

	var mismatches []string
	for _, id := range expected.Failed {
		if v, found := verdicts[id]; !found {
			mismatches = append(mismatches, fmt.Sprintf("expected %s to fail, but it was not evaluated", id))
		} else if v != VerdictFail {
			mismatches = append(mismatches, fmt.Sprintf("expected %s to fail, got %s", id, v))
		}
	}
	for _, id := range expected.Passed {
		if v, found := verdicts[id]; !found {
			mismatches = append(mismatches, fmt.Sprintf("expected %s to pass, but it was not evaluated", id))
		} else if v != VerdictPass {
			mismatches = append(mismatches, fmt.Sprintf("expected %s to pass, got %s", id, v))
		}
	}
	sort.Strings(mismatches)
	return mismatches, nil
}

func (t *TestRunner) loadExpectation(fixtureDir string) (*Expectation, error) {
	for _, name := range []string{"expected.yaml", "expected.yml"} {
		data, err := os.ReadFile(filepath.Join(fixtureDir, name))
		if err != nil {
			continue
		}
		var expected Expectation
		if err := yaml.Unmarshal(data, &expected); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", name, err)
		}
		return &expected, nil
	}
	return nil, fmt.Errorf("no expected.yaml in %s", fixtureDir)
}

// collectingReporter buffers results for expectation checks.
type collectingReporter struct {
	results []*ResourceResult
}

func (c *collectingReporter) OnRunStarted([]*policy.Policy, *iac.Graph) {}
func (c *collectingReporter) OnResult(result *ResourceResult) {
	c.results = append(c.results, result)
}
func (c *collectingReporter) OnRunEnded(*RunResult) {}
