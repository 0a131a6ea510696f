// Package iac defines the resource graph model produced by parsing
// infrastructure-as-code sources, and the provider contract that front
// ends (e.g. the Terraform HCL parser) implement to produce it.
//
// The graph is immutable after build: the runner and reporters only read
// it. Node order is parse order and is the ordering contract for
// deterministic reporting.
package iac
