package iac

import (
	"fmt"

	"github.com/gobwas/glob"
)

// Location identifies where a node was declared in the source tree.
type Location struct {
	// Path is the source file, relative to the source directory.
	Path string `json:"path"`

	// StartLine is the first line of the declaration.
	StartLine int `json:"start_line"`

	// EndLine is the last line of the declaration.
	EndLine int `json:"end_line"`
}

func (l Location) String() string {
	return fmt.Sprintf("%s:%d-%d", l.Path, l.StartLine, l.EndLine)
}

// Reference is an outgoing edge from a node to another node's address.
type Reference struct {
	// Target is the referenced node address (e.g. "aws_s3_bucket.logs").
	Target string `json:"target"`

	// Resolved indicates whether Target names a node present in the graph.
	// Unresolved references are kept for reporting but never followed.
	Resolved bool `json:"resolved"`
}

// ResourceNode is one declared infrastructure object in the parsed graph.
type ResourceNode struct {
	// ID is the node address, unique within the graph and stable across
	// runs for the same source (e.g. "module.net.aws_subnet.private").
	ID string `json:"id"`

	// Type is the resource type (e.g. "aws_s3_bucket").
	Type string `json:"type"`

	// Name is the declaration label within its type.
	Name string `json:"name"`

	// Kind distinguishes resources, data sources, modules and variables.
	Kind NodeKind `json:"kind"`

	// Attributes holds the resolved attribute mapping for the node.
	// Unknown (computed) values are represented as nil.
	Attributes map[string]any `json:"attributes,omitempty"`

	// Location is the source provenance of the declaration.
	Location Location `json:"location"`

	// References are outgoing edges to other node addresses.
	References []Reference `json:"references,omitempty"`

	// ModulePath is the containing module chain, empty for the root module.
	ModulePath []string `json:"module_path,omitempty"`
}

// NodeKind classifies graph nodes.
type NodeKind string

const (
	KindResource NodeKind = "resource"
	KindData     NodeKind = "data"
	KindModule   NodeKind = "module"
	KindVariable NodeKind = "variable"
	KindLocal    NodeKind = "local"
	KindOutput   NodeKind = "output"
)

// Graph is the ordered, immutable-after-build collection of parsed nodes.
type Graph struct {
	workspace string
	sourceDir string
	nodes     []*ResourceNode
	byID      map[string]*ResourceNode
}

// NewGraph creates an empty graph for the given source directory and
// workspace label.
func NewGraph(sourceDir, workspace string) *Graph {
	return &Graph{
		workspace: workspace,
		sourceDir: sourceDir,
		byID:      make(map[string]*ResourceNode),
	}
}

// Add appends a node in parse order. Adding a duplicate ID is a parse
// error: the same address cannot be declared twice.
func (g *Graph) Add(node *ResourceNode) error {
	if _, exists := g.byID[node.ID]; exists {
		return NewParseError(node.Location.Path,
			fmt.Sprintf("duplicate node address %q", node.ID), nil)
	}
	g.nodes = append(g.nodes, node)
	g.byID[node.ID] = node
	return nil
}

// ResolveReferences marks every reference whose target is present in the
// graph as resolved. Called once by providers after all nodes are added.
func (g *Graph) ResolveReferences() {
	for _, node := range g.nodes {
		for i := range node.References {
			_, ok := g.byID[node.References[i].Target]
			node.References[i].Resolved = ok
		}
	}
}

// Workspace returns the workspace label the graph was parsed under.
func (g *Graph) Workspace() string { return g.workspace }

// SourceDir returns the root source directory.
func (g *Graph) SourceDir() string { return g.sourceDir }

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// Nodes returns all nodes in parse order.
func (g *Graph) Nodes() []*ResourceNode { return g.nodes }

// Get returns the node with the given address, if present.
func (g *Graph) Get(id string) (*ResourceNode, bool) {
	n, ok := g.byID[id]
	return n, ok
}

// ByType returns, in parse order, the resource and data nodes whose type
// matches the selector. The selector supports * and ? globbing; any other
// character is literal. A malformed selector matches nothing.
func (g *Graph) ByType(selector string) []*ResourceNode {
	matcher, err := glob.Compile(selector)
	if err != nil {
		return nil
	}
	var out []*ResourceNode
	for _, node := range g.nodes {
		if node.Kind != KindResource && node.Kind != KindData {
			continue
		}
		if matcher.Match(node.Type) {
			out = append(out, node)
		}
	}
	return out
}
