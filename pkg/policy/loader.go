package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// PolicyFile is the on-disk document shape: one file carries a list of
// policy specs.
type PolicyFile struct {
	Policies []PolicySpec `yaml:"policies" validate:"required,min=1,dive"`
}

// PolicySpec is the declarative policy definition as authored in YAML or
// JSON, validated before compilation into a Policy.
type PolicySpec struct {
	Name         string          `yaml:"name" validate:"required"`
	Resource     string          `yaml:"resource" validate:"required"`
	Description  string          `yaml:"description"`
	Severity     string          `yaml:"severity"`
	Categories   []string        `yaml:"categories"`
	Mode         string          `yaml:"mode"`
	Remediation  string          `yaml:"remediation"`
	Conditions   []ConditionSpec `yaml:"conditions"`
}

// ConditionSpec is one node of the authored condition tree. Exactly one
// of And/Or/Not or the leaf fields (Key, Op, Value) may be set.
type ConditionSpec struct {
	And   []ConditionSpec `yaml:"and,omitempty"`
	Or    []ConditionSpec `yaml:"or,omitempty"`
	Not   []ConditionSpec `yaml:"not,omitempty"`
	Key   string          `yaml:"key,omitempty"`
	Op    string          `yaml:"op,omitempty"`
	Value any             `yaml:"value,omitempty"`
}

// Loader reads policy definitions from disk.
type Loader struct {
	logger   zerolog.Logger
	validate *validator.Validate
	watcher  *fsnotify.Watcher
	mu       sync.Mutex
}

// NewLoader creates a policy loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger:   logger.With().Str("component", "policy-loader").Logger(),
		validate: validator.New(),
	}
}

var policyFilePatterns = []string{".yml", ".yaml", ".json"}

func isPolicyFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, p := range policyFilePatterns {
		if ext == p {
			return true
		}
	}
	return false
}

// LoadDir loads every policy file under dir recursively. Policy names must
// be unique across the whole set; load order is directory walk order,
// which is deterministic, and becomes evaluation order.
func (l *Loader) LoadDir(ctx context.Context, dir string) ([]*Policy, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to stat policy dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("policy path %s is not a directory", dir)
	}

	var policies []*Policy
	seen := make(map[string]string)

	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isPolicyFile(path) {
			return nil
		}
		// Fixture trees under tests/ belong to the test runner, not the set.
		if rel, rerr := filepath.Rel(dir, path); rerr == nil {
			if first := strings.Split(filepath.ToSlash(rel), "/")[0]; first == "tests" {
				return nil
			}
		}
		loaded, err := l.LoadFile(path)
		if err != nil {
			return err
		}
		for _, p := range loaded {
			if prev, dup := seen[p.Name]; dup {
				return fmt.Errorf("duplicate policy %q in %s (already defined in %s)", p.Name, path, prev)
			}
			seen[p.Name] = path
			policies = append(policies, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info().
		Int("count", len(policies)).
		Str("dir", dir).
		Msg("Policies loaded")

	return policies, nil
}

// FindPolicyFiles returns every policy file under dir in walk order,
// skipping fixture trees under tests/.
func FindPolicyFiles(dir string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isPolicyFile(path) {
			return nil
		}
		if rel, rerr := filepath.Rel(dir, path); rerr == nil {
			if first := strings.Split(filepath.ToSlash(rel), "/")[0]; first == "tests" {
				return nil
			}
		}
		paths = append(paths, path)
		return nil
	})
	return paths, err
}

// LoadFile loads and compiles the policies in a single file.
func (l *Loader) LoadFile(path string) ([]*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}

	var file PolicyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if err := l.validate.Struct(&file); err != nil {
		return nil, fmt.Errorf("invalid policy file %s: %w", path, err)
	}

	policies := make([]*Policy, 0, len(file.Policies))
	for i := range file.Policies {
		p, err := CompilePolicy(&file.Policies[i])
		if err != nil {
			return nil, fmt.Errorf("policy %q in %s: %w", file.Policies[i].Name, path, err)
		}
		p.Source = path
		policies = append(policies, p)
	}
	return policies, nil
}

// CompilePolicy turns a validated spec into an immutable Policy.
func CompilePolicy(spec *PolicySpec) (*Policy, error) {
	cond, err := CompileConditions(spec.Conditions)
	if err != nil {
		return nil, err
	}
	return &Policy{
		Name:         spec.Name,
		ResourceType: spec.Resource,
		Description:  spec.Description,
		Severity:     ParseSeverity(spec.Severity),
		Categories:   spec.Categories,
		Mode:         spec.Mode,
		Remediation:  spec.Remediation,
		Condition:    cond,
	}, nil
}

// CompileConditions compiles an authored condition list. An empty list
// yields a nil condition, which matches every node of the selected type.
// A top-level list of siblings is an implicit AND.
func CompileConditions(specs []ConditionSpec) (Condition, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	children := make(And, 0, len(specs))
	for i := range specs {
		child, err := compileCondition(&specs[i])
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	if len(children) == 1 {
		return children[0], nil
	}
	return children, nil
}

func compileCondition(spec *ConditionSpec) (Condition, error) {
	branches := 0
	if len(spec.And) > 0 {
		branches++
	}
	if len(spec.Or) > 0 {
		branches++
	}
	if len(spec.Not) > 0 {
		branches++
	}
	if spec.Key != "" {
		branches++
	}
	if branches != 1 {
		return nil, fmt.Errorf("condition must have exactly one of and/or/not/key, got %d", branches)
	}

	switch {
	case len(spec.And) > 0:
		children, err := compileChildren(spec.And)
		if err != nil {
			return nil, err
		}
		return And(children), nil
	case len(spec.Or) > 0:
		children, err := compileChildren(spec.Or)
		if err != nil {
			return nil, err
		}
		return Or(children), nil
	case len(spec.Not) > 0:
		// Multiple children under not are an implicit AND, inverted.
		children, err := compileChildren(spec.Not)
		if err != nil {
			return nil, err
		}
		if len(children) == 1 {
			return Not{Child: children[0]}, nil
		}
		return Not{Child: And(children)}, nil
	default:
		op := Op(spec.Op)
		if spec.Op == "" {
			op = OpEq
		}
		return NewMatch(spec.Key, op, spec.Value)
	}
}

func compileChildren(specs []ConditionSpec) ([]Condition, error) {
	children := make([]Condition, 0, len(specs))
	for i := range specs {
		child, err := compileCondition(&specs[i])
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return children, nil
}

// ValidateFiles schema-validates policy files without keeping the result,
// returning per-file error lists. Used by the validate command.
func (l *Loader) ValidateFiles(paths []string) map[string][]error {
	failures := make(map[string][]error)
	names := make(map[string]string)
	for _, path := range paths {
		loaded, err := l.LoadFile(path)
		if err != nil {
			failures[path] = append(failures[path], err)
			continue
		}
		for _, p := range loaded {
			if prev, dup := names[p.Name]; dup {
				failures[path] = append(failures[path],
					fmt.Errorf("duplicate policy %q (already defined in %s)", p.Name, prev))
				continue
			}
			names[p.Name] = path
		}
	}
	return failures
}

// Watch watches dir for policy file changes and invokes reload with the
// freshly loaded set, debounced. Reload errors are logged and the previous
// set stays in effect.
func (l *Loader) Watch(ctx context.Context, dir string, reload func([]*Policy)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	l.mu.Lock()
	l.watcher = watcher
	l.mu.Unlock()

	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	go l.processEvents(ctx, dir, reload)

	l.logger.Info().Str("dir", dir).Msg("Watching policy directory")
	return nil
}

func (l *Loader) processEvents(ctx context.Context, dir string, reload func([]*Policy)) {
	var reloadTimer *time.Timer
	const reloadDelay = 500 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			_ = l.StopWatching()
			return

		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove) == 0 {
				continue
			}
			if !isPolicyFile(event.Name) {
				continue
			}
			l.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Policy file changed")

			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(reloadDelay, func() {
				policies, err := l.LoadDir(ctx, dir)
				if err != nil {
					l.logger.Error().Err(err).Msg("Policy reload failed, keeping previous set")
					return
				}
				reload(policies)
			})

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

// StopWatching stops watching for file changes.
func (l *Loader) StopWatching() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.watcher != nil {
		w := l.watcher
		l.watcher = nil
		return w.Close()
	}
	return nil
}
