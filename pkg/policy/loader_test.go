package policy

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func writePolicyFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const validPolicy = `
policies:
  - name: s3-no-public-acl
    resource: aws_s3_bucket
    description: Buckets must not use public ACLs
    severity: high
    categories: [security]
    mode: deny
    conditions:
      - key: acl
        op: glob
        value: public-*
`

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writePolicyFile(t, dir, "s3.yaml", validPolicy)
	writePolicyFile(t, dir, "iam.yml", `
policies:
  - name: iam-no-wildcard
    resource: aws_iam_policy
    severity: critical
    conditions:
      - key: statement
        op: contains
        value: "*"
`)
	// Fixture trees are not part of the loaded set.
	writePolicyFile(t, dir, "tests/s3-no-public-acl/expected.yaml", "failed: []\n")
	// Non-policy files are ignored.
	writePolicyFile(t, dir, "README.md", "# policies")

	loader := NewLoader(zerolog.Nop())
	policies, err := loader.LoadDir(context.Background(), dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if len(policies) != 2 {
		t.Fatalf("loaded %d policies, want 2", len(policies))
	}
	// Walk order is lexical: iam.yml before s3.yaml.
	if policies[0].Name != "iam-no-wildcard" || policies[1].Name != "s3-no-public-acl" {
		t.Errorf("load order = %s, %s", policies[0].Name, policies[1].Name)
	}

	p := policies[1]
	if p.Severity != SeverityHigh {
		t.Errorf("severity = %s, want high", p.Severity)
	}
	if p.ResourceType != "aws_s3_bucket" {
		t.Errorf("resource type = %s", p.ResourceType)
	}
	if p.Condition == nil {
		t.Fatal("condition not compiled")
	}
	got, err := p.Evaluate(map[string]any{"acl": "public-read"})
	if err != nil || !got {
		t.Errorf("Evaluate = %v, %v; want match", got, err)
	}
}

func TestLoadDirRejectsDuplicateNames(t *testing.T) {
	dir := t.TempDir()
	writePolicyFile(t, dir, "a.yaml", validPolicy)
	writePolicyFile(t, dir, "b.yaml", validPolicy)

	loader := NewLoader(zerolog.Nop())
	_, err := loader.LoadDir(context.Background(), dir)
	if err == nil {
		t.Fatal("duplicate policy names were accepted")
	}
	if !strings.Contains(err.Error(), "duplicate policy") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadFileErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantIn  string
	}{
		{
			name:    "missing name",
			content: "policies:\n  - resource: aws_s3_bucket\n",
			wantIn:  "Name",
		},
		{
			name:    "missing resource",
			content: "policies:\n  - name: x\n",
			wantIn:  "Resource",
		},
		{
			name:    "empty document",
			content: "policies: []\n",
			wantIn:  "Policies",
		},
		{
			name: "unknown operator",
			content: `
policies:
  - name: x
    resource: aws_s3_bucket
    conditions:
      - key: acl
        op: fuzzy
        value: y
`,
			wantIn: "unknown operator",
		},
		{
			name: "bad regex",
			content: `
policies:
  - name: x
    resource: aws_s3_bucket
    conditions:
      - key: acl
        op: regex
        value: "("
`,
			wantIn: "invalid regex",
		},
		{
			name: "mixed branch and leaf",
			content: `
policies:
  - name: x
    resource: aws_s3_bucket
    conditions:
      - key: acl
        op: eq
        value: private
        or:
          - key: acl
            op: eq
            value: public
`,
			wantIn: "exactly one",
		},
	}

	loader := NewLoader(zerolog.Nop())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := writePolicyFile(t, dir, "p.yaml", tt.content)
			_, err := loader.LoadFile(path)
			if err == nil {
				t.Fatal("invalid policy file was accepted")
			}
			if !strings.Contains(err.Error(), tt.wantIn) {
				t.Errorf("error %q does not mention %q", err, tt.wantIn)
			}
		})
	}
}

func TestCompileConditions(t *testing.T) {
	attrs := map[string]any{"acl": "public-read", "port": 22}

	tests := []struct {
		name  string
		specs []ConditionSpec
		want  bool
	}{
		{
			name: "top-level list is implicit and",
			specs: []ConditionSpec{
				{Key: "acl", Op: "glob", Value: "public-*"},
				{Key: "port", Op: "eq", Value: 22},
			},
			want: true,
		},
		{
			name: "empty op defaults to eq",
			specs: []ConditionSpec{
				{Key: "port", Value: 22},
			},
			want: true,
		},
		{
			name: "or branch",
			specs: []ConditionSpec{
				{Or: []ConditionSpec{
					{Key: "acl", Op: "eq", Value: "private"},
					{Key: "port", Op: "eq", Value: 22},
				}},
			},
			want: true,
		},
		{
			name: "not with multiple children inverts their and",
			specs: []ConditionSpec{
				{Not: []ConditionSpec{
					{Key: "acl", Op: "eq", Value: "public-read"},
					{Key: "port", Op: "eq", Value: 9999},
				}},
			},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cond, err := CompileConditions(tt.specs)
			if err != nil {
				t.Fatalf("CompileConditions: %v", err)
			}
			got, err := cond.Evaluate(attrs)
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			if got != tt.want {
				t.Errorf("Evaluate = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidateFiles(t *testing.T) {
	dir := t.TempDir()
	good := writePolicyFile(t, dir, "good.yaml", validPolicy)
	bad := writePolicyFile(t, dir, "bad.yaml", "policies:\n  - resource: aws_s3_bucket\n")

	loader := NewLoader(zerolog.Nop())
	failures := loader.ValidateFiles([]string{good, bad})
	if len(failures) != 1 {
		t.Fatalf("got failures for %d files, want 1", len(failures))
	}
	if _, ok := failures[bad]; !ok {
		t.Errorf("expected failure entry for %s, got %v", bad, failures)
	}
}

func TestFindPolicyFiles(t *testing.T) {
	dir := t.TempDir()
	writePolicyFile(t, dir, "a.yaml", validPolicy)
	writePolicyFile(t, dir, "nested/b.yml", validPolicy)
	writePolicyFile(t, dir, "tests/a/expected.yaml", "failed: []\n")
	writePolicyFile(t, dir, "notes.txt", "ignore me")

	paths, err := FindPolicyFiles(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 2 {
		t.Fatalf("found %d files, want 2: %v", len(paths), paths)
	}
}
