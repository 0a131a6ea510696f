package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/jmespath/go-jmespath"

	"github.com/leftguard/leftguard/pkg/runner"
)

// Options configures a reporter instance.
type Options struct {
	// Writer receives the rendered output.
	Writer io.Writer

	// Query is an optional jmespath expression applied to JSON documents
	// before writing.
	Query string

	// SummaryMode selects the CLI summary grouping: "policy" or
	// "resource".
	SummaryMode string

	// IncludePasses requests pass results in the output. Failures,
	// warnings and errors are always included.
	IncludePasses bool
}

// Factory builds a reporter from options.
type Factory func(opts Options) runner.Reporter

var outputs = map[string]Factory{
	"cli":       func(opts Options) runner.Reporter { return NewCLIReporter(opts) },
	"json":      func(opts Options) runner.Reporter { return NewJSONReporter(opts) },
	"github":    func(opts Options) runner.Reporter { return NewGitHubReporter(opts) },
	"jsongraph": func(opts Options) runner.Reporter { return NewGraphReporter(opts) },
}

// New returns the reporter registered under name.
func New(name string, opts Options) (runner.Reporter, error) {
	factory, ok := outputs[name]
	if !ok {
		return nil, fmt.Errorf("unknown output format %q (available: %v)", name, Names())
	}
	return factory(opts), nil
}

// Names lists the registered output formats, sorted.
func Names() []string {
	names := make([]string, 0, len(outputs))
	for name := range outputs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RunNames lists the formats valid for the run command: every format
// except the graph dump, which belongs to the dump command.
func RunNames() []string {
	var names []string
	for _, name := range Names() {
		if name != "jsongraph" {
			names = append(names, name)
		}
	}
	return names
}

// writeJSON marshals v, applies the optional jmespath query, and writes
// the document with a trailing newline.
func writeJSON(w io.Writer, query string, v any) error {
	if query != "" {
		// Round-trip through generic shapes so jmespath can walk the
		// document.
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return err
		}
		result, err := jmespath.Search(query, doc)
		if err != nil {
			return fmt.Errorf("invalid output query %q: %w", query, err)
		}
		v = result
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
