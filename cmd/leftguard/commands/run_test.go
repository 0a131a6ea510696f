package commands

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func writeFile(t *testing.T, dir, name, content string) string {
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

// execute runs the CLI with the given args and restores the shared flag
// state afterwards.
func execute(t *testing.T, args ...string) error {
	t.Helper()
	t.Cleanup(func() {
		verbose = false
		noColor = false
	})
	cmd := newRootCommand("test", "none", "none")
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(context.Background())
}

func runFixtures(t *testing.T) (sourceDir, policyDir string) {
	t.Helper()
	sourceDir = t.TempDir()
	writeFile(t, sourceDir, "main.tf", `
resource "aws_s3_bucket" "logs" {
  bucket = "acme-logs"
  acl    = "private"
}
`)
	policyDir = t.TempDir()
	writeFile(t, policyDir, "s3.yaml", `
policies:
  - name: s3-no-public-acl
    resource: aws_s3_bucket
    severity: high
    conditions:
      - key: acl
        op: glob
        value: public-*
`)
	return sourceDir, policyDir
}

func TestRunRejectsGraphDumpFormat(t *testing.T) {
	err := execute(t, "run", "-p", t.TempDir(), "-o", "jsongraph")
	if err == nil {
		t.Fatal("jsongraph was accepted by the run command")
	}
	if !strings.Contains(err.Error(), "jsongraph") {
		t.Errorf("error %q does not name the rejected format", err)
	}
}

func TestRunReportsInvalidOutputQuery(t *testing.T) {
	sourceDir, policyDir := runFixtures(t)
	outFile := filepath.Join(t.TempDir(), "out.json")

	err := execute(t, "run",
		"-d", sourceDir,
		"-p", policyDir,
		"-o", "json",
		"--output-file", outFile,
		"--output-query", "results[?",
	)
	if err == nil {
		t.Fatal("invalid output query produced a success exit")
	}
	if !strings.Contains(err.Error(), "output query") {
		t.Errorf("error %q does not mention the output query", err)
	}
}

func TestRunPassingEvaluation(t *testing.T) {
	sourceDir, policyDir := runFixtures(t)
	outFile := filepath.Join(t.TempDir(), "out.json")

	err := execute(t, "run",
		"-d", sourceDir,
		"-p", policyDir,
		"-o", "json",
		"--output-file", outFile,
	)
	if err != nil {
		t.Fatalf("passing run returned %v", err)
	}
	data, readErr := os.ReadFile(outFile)
	if readErr != nil {
		t.Fatal(readErr)
	}
	if !strings.Contains(string(data), `"failed": false`) {
		t.Errorf("output %s does not record a passing run", data)
	}
}

func TestVerboseFlagEnablesDebugLogging(t *testing.T) {
	previous := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(previous) })

	policyDir := t.TempDir()
	writeFile(t, policyDir, "s3.yaml", `
policies:
  - name: s3-no-public-acl
    resource: aws_s3_bucket
    severity: high
    conditions:
      - key: acl
        op: glob
        value: public-*
`)
	if err := execute(t, "--verbose", "validate", "-p", policyDir); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if zerolog.GlobalLevel() != zerolog.DebugLevel {
		t.Errorf("global level = %s, want debug", zerolog.GlobalLevel())
	}
}
