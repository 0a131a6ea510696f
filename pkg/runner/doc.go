// Package runner orchestrates evaluating a policy set against a resource
// graph: it walks every (policy, matching node) pair, isolates per-pair
// evaluation errors, applies the warn filter, and drives the reporter
// lifecycle. Evaluation is pure computation over immutable data, so pairs
// fan out across a bounded worker pool while results are still delivered
// in deterministic (policy, node) order.
package runner
