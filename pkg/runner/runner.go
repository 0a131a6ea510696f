package runner

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/leftguard/leftguard/pkg/iac"
	"github.com/leftguard/leftguard/pkg/policy"
	"github.com/leftguard/leftguard/pkg/telemetry"
)

// ErrNoPolicies is returned by Run when the runner was constructed with an
// empty policy set. Callers detect this before evaluation starts and map
// it to a non-zero exit.
var ErrNoPolicies = errors.New("no policies selected")

// Reporter receives runner lifecycle callbacks. Results stream one at a
// time in deterministic order; implementations must tolerate zero results.
type Reporter interface {
	// OnRunStarted is called once before any evaluation.
	OnRunStarted(policies []*policy.Policy, graph *iac.Graph)

	// OnResult is called for every produced result, in (policy, node)
	// order, as soon as the ordered prefix is complete.
	OnResult(result *ResourceResult)

	// OnRunEnded is called once after every pair has been evaluated.
	OnRunEnded(result *RunResult)
}

// RunState tracks the runner lifecycle.
type RunState int

const (
	StateCreated RunState = iota
	StateStarted
	StateEvaluating
	StateFinished
)

// Options carries the run-scoped configuration for a CollectionRunner.
// Nothing is read from ambient global state.
type Options struct {
	// WarnFilter downgrades matching failures to warnings. Nil or empty
	// means no downgrades.
	WarnFilter *policy.ExecutionFilter

	// Parallelism bounds the evaluation worker pool. Zero or negative
	// uses the available CPU parallelism.
	Parallelism int

	// Logger is the run logger. The zero value is a disabled logger.
	Logger zerolog.Logger

	// Metrics records run counters when non-nil.
	Metrics *telemetry.Metrics
}

// CollectionRunner evaluates every selected policy against every matching
// graph node in a single pass. A runner is single-use: Run may be called
// exactly once.
type CollectionRunner struct {
	policies []*policy.Policy
	reporter Reporter
	opts     Options

	mu    sync.Mutex
	state RunState
}

// NewCollectionRunner creates a runner over an already-filtered policy
// set. The set may be empty; Run reports that before evaluating.
func NewCollectionRunner(policies []*policy.Policy, reporter Reporter, opts Options) *CollectionRunner {
	return &CollectionRunner{
		policies: policies,
		reporter: reporter,
		opts:     opts,
		state:    StateCreated,
	}
}

// pair is one (policy, matching node) evaluation unit with its position
// in the deterministic output order.
type pair struct {
	policyIdx int
	node      *iac.ResourceNode
}

// Run evaluates the policy set against the graph and drives the reporter.
// The returned RunResult's Failed flag is true iff any fail verdict
// survived the warn filter. A single pair's evaluation error never aborts
// the run; it is recorded as an error-verdict result.
func (r *CollectionRunner) Run(ctx context.Context, graph *iac.Graph) (*RunResult, error) {
	if err := r.transition(StateCreated, StateStarted); err != nil {
		return nil, err
	}
	if len(r.policies) == 0 {
		return nil, ErrNoPolicies
	}

	started := time.Now()
	logger := r.opts.Logger.With().Str("component", "collection-runner").Logger()

	if r.opts.Metrics != nil {
		r.opts.Metrics.RecordRunStarted(graph.Workspace())
	}
	r.reporter.OnRunStarted(r.policies, graph)

	if err := r.transition(StateStarted, StateEvaluating); err != nil {
		return nil, err
	}

	// Expand the (policy x matching node) space up front so slots for the
	// deterministic output order exist before the fan-out.
	var pairs []pair
	for i, pol := range r.policies {
		for _, node := range graph.ByType(pol.ResourceType) {
			pairs = append(pairs, pair{policyIdx: i, node: node})
		}
	}

	results := make([]*ResourceResult, len(pairs))
	flusher := &orderedFlusher{results: results, reporter: r.reporter}

	workers := r.opts.Parallelism
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > len(pairs) && len(pairs) > 0 {
		workers = len(pairs)
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				flusher.set(idx, r.evaluate(r.policies[pairs[idx].policyIdx], pairs[idx].node, logger))
			}
		}()
	}

dispatch:
	for idx := range pairs {
		select {
		case jobs <- idx:
		case <-ctx.Done():
			// Cancellation abandons the whole run; individual pairs are
			// never cancelled.
			break dispatch
		}
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("run abandoned: %w", err)
	}

	run := &RunResult{
		ID:        uuid.New().String(),
		Workspace: graph.Workspace(),
		Results:   results,
		Counts:    make(map[Verdict]int),
		Policies:  len(r.policies),
		Resources: graph.Len(),
		StartedAt: started,
		Duration:  time.Since(started),
	}
	for _, res := range results {
		run.Counts[res.Verdict]++
		if res.Verdict == VerdictFail {
			run.Failed = true
		}
		if r.opts.Metrics != nil {
			r.opts.Metrics.RecordResult(string(res.Verdict), string(res.Severity))
		}
	}

	if err := r.transition(StateEvaluating, StateFinished); err != nil {
		return nil, err
	}
	r.reporter.OnRunEnded(run)

	if r.opts.Metrics != nil {
		status := "passed"
		if run.Failed {
			status = "failed"
		}
		r.opts.Metrics.RecordRunCompleted(status, run.Duration)
	}

	logger.Info().
		Str("run_id", run.ID).
		Int("pairs", len(pairs)).
		Int("failures", run.Counts[VerdictFail]).
		Int("warnings", run.Counts[VerdictWarn]).
		Bool("failed", run.Failed).
		Dur("duration", run.Duration).
		Msg("Run finished")

	return run, nil
}

// evaluate produces the result for a single pair. Every verdict path goes
// through the warn filter so reclassification happens before aggregation.
func (r *CollectionRunner) evaluate(pol *policy.Policy, node *iac.ResourceNode, logger zerolog.Logger) *ResourceResult {
	result := &ResourceResult{
		Policy:     pol,
		PolicyName: pol.Name,
		Severity:   pol.Severity,
		Node:       node,
		ResourceID: node.ID,
		Location:   node.Location,
	}

	matched, err := pol.Evaluate(node.Attributes)
	switch {
	case err != nil:
		result.Verdict = VerdictError
		result.Error = err.Error()
		logger.Warn().
			Str("policy", pol.Name).
			Str("resource", node.ID).
			Err(err).
			Msg("Policy evaluation failed, continuing")
	case matched:
		result.Verdict = VerdictFail
		result.Message = pol.Description
		result.Remediation = pol.Remediation
	default:
		result.Verdict = VerdictPass
	}

	// An empty warn filter downgrades nothing; matching everything is the
	// selection filter's semantics, not the warn filter's.
	if result.Verdict == VerdictFail && r.opts.WarnFilter != nil && !r.opts.WarnFilter.Empty() {
		if r.opts.WarnFilter.Matches(pol.Attributes()) {
			result.OriginalVerdict = VerdictFail
			result.Verdict = VerdictWarn
		}
	}
	return result
}

func (r *CollectionRunner) transition(from, to RunState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != from {
		return fmt.Errorf("invalid runner state transition: %d -> %d (current %d)", from, to, r.state)
	}
	r.state = to
	return nil
}

// orderedFlusher streams results to the reporter as the ordered prefix of
// the result slots fills in, so output begins before the whole run ends
// without ever reordering results.
type orderedFlusher struct {
	mu       sync.Mutex
	next     int
	results  []*ResourceResult
	reporter Reporter
}

// set publishes one result slot and flushes the completed prefix. The
// slot write happens under the same mutex as every read, so a result is
// fully visible to whichever worker ends up delivering it.
func (f *orderedFlusher) set(idx int, res *ResourceResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[idx] = res
	for f.next < len(f.results) && f.results[f.next] != nil {
		f.reporter.OnResult(f.results[f.next])
		f.next++
	}
}
