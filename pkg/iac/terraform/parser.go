package terraform

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"

	"github.com/leftguard/leftguard/pkg/iac"
)

// builder accumulates parsed files and resolved values while the graph is
// under construction.
type builder struct {
	sourceDir string
	workspace string
	parser    *hclparse.Parser

	// files maps relative paths to parsed bodies, in sorted path order.
	files map[string]*hclsyntax.Body
	paths []string

	variableDecls map[string]*hclsyntax.Block
	localExprs    map[string]hclsyntax.Expression
	localPaths    map[string]string

	varValues   map[string]cty.Value
	localValues map[string]cty.Value
	evalCtx     *hcl.EvalContext
}

func newBuilder(sourceDir, workspace string) *builder {
	return &builder{
		sourceDir:     sourceDir,
		workspace:     workspace,
		parser:        hclparse.NewParser(),
		files:         make(map[string]*hclsyntax.Body),
		variableDecls: make(map[string]*hclsyntax.Block),
		localExprs:    make(map[string]hclsyntax.Expression),
		localPaths:    make(map[string]string),
		varValues:     make(map[string]cty.Value),
		localValues:   make(map[string]cty.Value),
	}
}

// loadSources parses every *.tf file under the source directory. Files are
// visited in sorted path order so graph order is stable across runs.
func (b *builder) loadSources(ctx context.Context) error {
	var tfFiles []string
	err := filepath.WalkDir(b.sourceDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".terraform" {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(path, ".tf.json") {
			// JSON configuration syntax is not supported; skipping it
			// silently would drop resources from the graph.
			return iac.NewParseError(b.relPath(path), "JSON configuration syntax is not supported", nil)
		}
		if strings.HasSuffix(path, ".tf") {
			tfFiles = append(tfFiles, path)
		}
		return nil
	})
	if err != nil {
		if iac.IsParseError(err) {
			return err
		}
		return iac.NewParseError(b.sourceDir, "failed to walk source directory", err)
	}
	if len(tfFiles) == 0 {
		return iac.NewParseError(b.sourceDir, "no terraform files found", nil)
	}
	sort.Strings(tfFiles)

	for _, path := range tfFiles {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		file, diags := b.parser.ParseHCLFile(path)
		if diags.HasErrors() {
			return iac.NewParseError(b.relPath(path), "syntax error", diags)
		}
		body, ok := file.Body.(*hclsyntax.Body)
		if !ok {
			return iac.NewParseError(b.relPath(path), "unsupported file body", nil)
		}
		rel := b.relPath(path)
		b.files[rel] = body
		b.paths = append(b.paths, rel)
		b.collectDecls(rel, body)
	}
	return nil
}

func (b *builder) relPath(path string) string {
	rel, err := filepath.Rel(b.sourceDir, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}

// collectDecls gathers variable and locals declarations; other blocks are
// read during graph construction.
func (b *builder) collectDecls(path string, body *hclsyntax.Body) {
	for _, block := range body.Blocks {
		switch block.Type {
		case "variable":
			if len(block.Labels) == 1 {
				b.variableDecls[block.Labels[0]] = block
			}
		case "locals":
			for name, attr := range block.Body.Attributes {
				b.localExprs[name] = attr.Expr
				b.localPaths[name] = path
			}
		}
	}
}

// loadVarFiles evaluates tfvars files in order; later files override.
func (b *builder) loadVarFiles(varFiles []string) error {
	for _, path := range varFiles {
		file, diags := b.parser.ParseHCLFile(path)
		if diags.HasErrors() {
			return iac.NewParseError(path, "syntax error in var file", diags)
		}
		attrs, diags := file.Body.JustAttributes()
		if diags.HasErrors() {
			return iac.NewParseError(path, "invalid var file", diags)
		}
		for name, attr := range attrs {
			value, diags := attr.Expr.Value(nil)
			if diags.HasErrors() {
				return iac.NewParseError(path,
					fmt.Sprintf("cannot evaluate value for %q", name), diags)
			}
			b.varValues[name] = value
		}
	}
	return nil
}

// resolveVariables fills variable values from declarations (defaults) and
// resolves locals topologically. Undefined or cyclic references fail the
// parse before any evaluation happens.
func (b *builder) resolveVariables() error {
	for name, block := range b.variableDecls {
		if _, overridden := b.varValues[name]; overridden {
			continue
		}
		attr, ok := block.Body.Attributes["default"]
		if !ok {
			// Declared but unset: evaluates as null, treated as absent.
			b.varValues[name] = cty.NullVal(cty.DynamicPseudoType)
			continue
		}
		value, diags := attr.Expr.Value(nil)
		if diags.HasErrors() {
			return iac.NewParseError(b.localPathFor(block),
				fmt.Sprintf("cannot evaluate default for variable %q", name), diags)
		}
		b.varValues[name] = value
	}

	// Every var reference anywhere in the sources must name a declaration.
	for _, path := range b.paths {
		for _, tr := range bodyTraversals(b.files[path]) {
			if tr.RootName() != "var" {
				continue
			}
			name, ok := traversalAttr(tr)
			if !ok {
				continue
			}
			if _, declared := b.variableDecls[name]; !declared {
				if _, provided := b.varValues[name]; !provided {
					return iac.NewVariableError(name,
						fmt.Sprintf("undefined variable referenced in %s", path))
				}
			}
		}
	}

	return b.resolveLocals()
}

// resolveLocals resolves local values in dependency order. No progress on
// a non-empty pending set means a reference cycle.
func (b *builder) resolveLocals() error {
	pending := make(map[string][]string, len(b.localExprs))
	for name, expr := range b.localExprs {
		var deps []string
		for _, tr := range expr.Variables() {
			if tr.RootName() != "local" {
				continue
			}
			if dep, ok := traversalAttr(tr); ok {
				if _, known := b.localExprs[dep]; !known {
					return iac.NewVariableError(dep,
						fmt.Sprintf("undefined local referenced in %s", b.localPaths[name]))
				}
				deps = append(deps, dep)
			}
		}
		pending[name] = deps
	}

	for len(pending) > 0 {
		progressed := false
		for name, deps := range pending {
			ready := true
			for _, dep := range deps {
				if _, done := b.localValues[dep]; !done {
					ready = false
					break
				}
			}
			if !ready {
				continue
			}
			value, diags := b.localExprs[name].Value(b.baseEvalContext())
			if diags.HasErrors() {
				// Locals referencing resources or functions we do not
				// evaluate degrade to unknown rather than failing.
				value = cty.NullVal(cty.DynamicPseudoType)
			}
			b.localValues[name] = value
			delete(pending, name)
			progressed = true
		}
		if !progressed {
			names := make([]string, 0, len(pending))
			for name := range pending {
				names = append(names, name)
			}
			sort.Strings(names)
			return iac.NewVariableError(names[0],
				fmt.Sprintf("reference cycle between locals: %s", strings.Join(names, ", ")))
		}
	}
	return nil
}

func (b *builder) localPathFor(block *hclsyntax.Block) string {
	return b.relPath(block.DefRange().Filename)
}

// baseEvalContext builds the evaluation scope shared by all expressions:
// input variables, resolved locals, and the terraform/path namespaces.
func (b *builder) baseEvalContext() *hcl.EvalContext {
	if b.evalCtx != nil {
		b.evalCtx.Variables["local"] = objectVal(b.localValues)
		return b.evalCtx
	}
	b.evalCtx = &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"var":   objectVal(b.varValues),
			"local": objectVal(b.localValues),
			"terraform": cty.ObjectVal(map[string]cty.Value{
				"workspace": cty.StringVal(b.workspace),
			}),
			"path": cty.ObjectVal(map[string]cty.Value{
				"module": cty.StringVal("."),
				"root":   cty.StringVal("."),
				"cwd":    cty.StringVal("."),
			}),
		},
	}
	return b.evalCtx
}

func objectVal(values map[string]cty.Value) cty.Value {
	if len(values) == 0 {
		return cty.EmptyObjectVal
	}
	return cty.ObjectVal(values)
}

// buildGraph walks every file in order and turns top-level blocks into
// graph nodes. References come from expression traversals; evaluation
// failures degrade individual attributes to nil (unknown), never the run.
func (b *builder) buildGraph() (*iac.Graph, error) {
	graph := iac.NewGraph(b.sourceDir, b.workspace)

	for _, path := range b.paths {
		body := b.files[path]
		for _, block := range body.Blocks {
			node, err := b.blockNode(path, block)
			if err != nil {
				return nil, err
			}
			if node == nil {
				continue
			}
			if err := graph.Add(node); err != nil {
				return nil, err
			}
		}
	}

	graph.ResolveReferences()
	return graph, nil
}

func (b *builder) blockNode(path string, block *hclsyntax.Block) (*iac.ResourceNode, error) {
	loc := iac.Location{
		Path:      path,
		StartLine: block.DefRange().Start.Line,
		EndLine:   block.Body.EndRange.End.Line,
	}

	switch block.Type {
	case "resource":
		if len(block.Labels) != 2 {
			return nil, iac.NewParseError(path, "resource block requires type and name labels", nil)
		}
		return b.valueNode(block, loc, iac.ResourceNode{
			ID:   block.Labels[0] + "." + block.Labels[1],
			Type: block.Labels[0],
			Name: block.Labels[1],
			Kind: iac.KindResource,
		}), nil
	case "data":
		if len(block.Labels) != 2 {
			return nil, iac.NewParseError(path, "data block requires type and name labels", nil)
		}
		return b.valueNode(block, loc, iac.ResourceNode{
			ID:   "data." + block.Labels[0] + "." + block.Labels[1],
			Type: block.Labels[0],
			Name: block.Labels[1],
			Kind: iac.KindData,
		}), nil
	case "module":
		if len(block.Labels) != 1 {
			return nil, iac.NewParseError(path, "module block requires a name label", nil)
		}
		return b.valueNode(block, loc, iac.ResourceNode{
			ID:   "module." + block.Labels[0],
			Type: "module",
			Name: block.Labels[0],
			Kind: iac.KindModule,
		}), nil
	case "variable":
		if len(block.Labels) != 1 {
			return nil, iac.NewParseError(path, "variable block requires a name label", nil)
		}
		name := block.Labels[0]
		return &iac.ResourceNode{
			ID:       "var." + name,
			Type:     "variable",
			Name:     name,
			Kind:     iac.KindVariable,
			Location: loc,
			Attributes: map[string]any{
				"value": ctyToGo(b.varValues[name]),
			},
		}, nil
	case "output":
		if len(block.Labels) != 1 {
			return nil, iac.NewParseError(path, "output block requires a name label", nil)
		}
		return b.valueNode(block, loc, iac.ResourceNode{
			ID:   "output." + block.Labels[0],
			Type: "output",
			Name: block.Labels[0],
			Kind: iac.KindOutput,
		}), nil
	case "locals", "provider", "terraform", "moved", "import", "check", "removed":
		return nil, nil
	default:
		return nil, nil
	}
}

// valueNode fills attributes and reference edges for a block-backed node.
func (b *builder) valueNode(block *hclsyntax.Block, loc iac.Location, node iac.ResourceNode) *iac.ResourceNode {
	node.Location = loc
	node.Attributes = b.bodyToMap(block.Body)
	node.References = b.bodyReferences(block.Body)
	return &node
}

// bodyToMap converts a block body into a nested attribute mapping.
// Repeated nested blocks of the same type collapse into a list, matching
// how Terraform exposes them. Values we cannot evaluate become nil.
func (b *builder) bodyToMap(body *hclsyntax.Body) map[string]any {
	attrs := make(map[string]any, len(body.Attributes)+len(body.Blocks))
	ctx := b.baseEvalContext()

	names := make([]string, 0, len(body.Attributes))
	for name := range body.Attributes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		value, diags := body.Attributes[name].Expr.Value(ctx)
		if diags.HasErrors() || !value.IsWhollyKnown() {
			attrs[name] = nil
			continue
		}
		attrs[name] = ctyToGo(value)
	}

	blockValues := make(map[string][]any)
	var blockOrder []string
	for _, nested := range body.Blocks {
		key := nested.Type
		if _, seen := blockValues[key]; !seen {
			blockOrder = append(blockOrder, key)
		}
		blockValues[key] = append(blockValues[key], b.bodyToMap(nested.Body))
	}
	for _, key := range blockOrder {
		values := blockValues[key]
		if len(values) == 1 {
			attrs[key] = values[0]
		} else {
			attrs[key] = values
		}
	}
	return attrs
}

// bodyReferences extracts outgoing edges from every expression in the
// body, deduplicated, in first-appearance order.
func (b *builder) bodyReferences(body *hclsyntax.Body) []iac.Reference {
	var refs []iac.Reference
	seen := make(map[string]bool)
	for _, tr := range bodyTraversals(body) {
		target, ok := traversalTarget(tr)
		if !ok || seen[target] {
			continue
		}
		seen[target] = true
		refs = append(refs, iac.Reference{Target: target})
	}
	return refs
}

// bodyTraversals collects variable traversals from a body recursively, in
// source order.
func bodyTraversals(body *hclsyntax.Body) []hcl.Traversal {
	var out []hcl.Traversal
	names := make([]string, 0, len(body.Attributes))
	for name := range body.Attributes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		out = append(out, body.Attributes[name].Expr.Variables()...)
	}
	for _, block := range body.Blocks {
		out = append(out, bodyTraversals(block.Body)...)
	}
	return out
}

// traversalAttr returns the first attribute step after the root
// (e.g. "region" for var.region).
func traversalAttr(tr hcl.Traversal) (string, bool) {
	if len(tr) < 2 {
		return "", false
	}
	step, ok := tr[1].(hcl.TraverseAttr)
	if !ok {
		return "", false
	}
	return step.Name, true
}

// traversalTarget maps a traversal to a graph node address, or reports
// that the traversal is not an edge (variables, locals, iteration scopes).
func traversalTarget(tr hcl.Traversal) (string, bool) {
	root := tr.RootName()
	switch root {
	case "var", "local", "terraform", "path", "count", "each", "self":
		return "", false
	case "module":
		name, ok := traversalAttr(tr)
		if !ok {
			return "", false
		}
		return "module." + name, true
	case "data":
		if len(tr) < 3 {
			return "", false
		}
		typeStep, ok := tr[1].(hcl.TraverseAttr)
		if !ok {
			return "", false
		}
		nameStep, ok := tr[2].(hcl.TraverseAttr)
		if !ok {
			return "", false
		}
		return "data." + typeStep.Name + "." + nameStep.Name, true
	default:
		// A bare two-step traversal like aws_s3_bucket.logs is a resource
		// reference.
		name, ok := traversalAttr(tr)
		if !ok {
			return "", false
		}
		return root + "." + name, true
	}
}
