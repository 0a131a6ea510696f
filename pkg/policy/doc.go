// Package policy provides the policy model for shift-left IaC evaluation:
// severity ordering, the boolean condition tree evaluated against resource
// attributes, the YAML/JSON loader, and the glob-based execution filter
// used to select policies and downgrade findings to warnings.
package policy
