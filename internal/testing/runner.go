// Package testing provides test utilities and helpers for workflow-compiler tests.
package testing

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kubiyabot/workflow-compiler/internal/compiler"
	"github.com/kubiyabot/workflow-compiler/internal/workflow"
)

// fixtureExtensions lists the file extensions a fixture may use, in probe order.
var fixtureExtensions = []string{".lua", ".yaml", ".yml", ".json"}

// TestFixture represents a workflow definition fixture under testdata/fixtures.
type TestFixture struct {
	Name        string
	Path        string
	Description string
}

// TestResult holds the outcome of compiling a fixture. Evaluation and
// validation failures land here rather than in an error return so tests can
// assert on fixtures that are designed to fail.
type TestResult struct {
	// Workflows are the definitions that loaded, valid or not.
	Workflows []workflow.Workflow

	// Manifests are the canonical artifacts for definitions that validated.
	Manifests []*workflow.Manifest

	// Problems are the structural errors across all definitions.
	Problems []workflow.ValidationError

	// EvalErr is the evaluation or parse failure, nil when loading succeeded.
	EvalErr error

	Duration time.Duration
}

// TestRunner compiles workflow fixtures through the in-process pipeline.
type TestRunner struct {
	RepoRoot    string
	FixturesDir string
	compiler    *compiler.Compiler
	t           *testing.T
}

// NewTestRunner creates a runner rooted at the repository.
func NewTestRunner(t *testing.T) (*TestRunner, error) {
	t.Helper()

	repoRoot, err := findRepoRoot()
	if err != nil {
		return nil, fmt.Errorf("failed to find repo root: %w", err)
	}

	return &TestRunner{
		RepoRoot:    repoRoot,
		FixturesDir: filepath.Join(repoRoot, "testdata", "fixtures"),
		compiler:    compiler.New(compiler.Options{}),
		t:           t,
	}, nil
}

// findRepoRoot finds the repository root by looking for go.mod
func findRepoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("could not find go.mod in any parent directory")
		}
		dir = parent
	}
}

// GetFixture returns a fixture by name, probing the supported extensions.
func (r *TestRunner) GetFixture(name string) TestFixture {
	for _, ext := range fixtureExtensions {
		path := filepath.Join(r.FixturesDir, name+ext)
		if _, err := os.Stat(path); err == nil {
			return TestFixture{Name: name, Path: path}
		}
	}
	// Missing fixtures surface as a load error in CompileFixture.
	return TestFixture{Name: name, Path: filepath.Join(r.FixturesDir, name+".lua")}
}

// ListFixtures returns all available fixtures
func (r *TestRunner) ListFixtures() ([]TestFixture, error) {
	var fixtures []TestFixture
	for _, ext := range fixtureExtensions {
		files, err := filepath.Glob(filepath.Join(r.FixturesDir, "*"+ext))
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			fixtures = append(fixtures, TestFixture{
				Name: strings.TrimSuffix(filepath.Base(f), ext),
				Path: f,
			})
		}
	}
	return fixtures, nil
}

// CompileFixture loads a fixture and compiles every definition in it. The
// error return covers infrastructure failures only; pipeline outcomes, good
// and bad, are reported through the TestResult.
func (r *TestRunner) CompileFixture(fixture TestFixture) (*TestResult, error) {
	r.t.Helper()

	if _, err := os.Stat(fixture.Path); err != nil {
		return nil, fmt.Errorf("fixture %s: %w", fixture.Name, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	start := time.Now()
	result := &TestResult{}

	wfs, err := r.compiler.LoadFile(ctx, fixture.Path)
	if err != nil {
		result.EvalErr = err
		result.Duration = time.Since(start)
		return result, nil
	}
	result.Workflows = wfs

	for i := range wfs {
		res, err := r.compiler.CompileWorkflow(&wfs[i])
		if err != nil {
			var invalid *compiler.InvalidWorkflowError
			if !errors.As(err, &invalid) {
				return nil, fmt.Errorf("fixture %s: %w", fixture.Name, err)
			}
			result.Problems = append(result.Problems, invalid.Errors...)
			continue
		}
		result.Manifests = append(result.Manifests, res.Manifest)
	}

	result.Duration = time.Since(start)
	return result, nil
}

// Assertions provides test assertion helpers
type Assertions struct {
	t      *testing.T
	result *TestResult
}

// NewAssertions creates a new assertions helper
func NewAssertions(t *testing.T, result *TestResult) *Assertions {
	return &Assertions{t: t, result: result}
}

// Compiled asserts every definition in the fixture produced a manifest.
func (a *Assertions) Compiled() *Assertions {
	a.t.Helper()
	if a.result.EvalErr != nil {
		a.t.Errorf("fixture did not evaluate: %v", a.result.EvalErr)
		return a
	}
	if len(a.result.Problems) > 0 {
		a.t.Errorf("fixture did not validate: %s", workflow.JoinErrors(a.result.Problems))
		return a
	}
	if len(a.result.Manifests) == 0 {
		a.t.Error("no manifests produced")
	}
	return a
}

// FailedEvaluation asserts the fixture did not make it out of the sandbox.
func (a *Assertions) FailedEvaluation() *Assertions {
	a.t.Helper()
	if a.result.EvalErr == nil {
		a.t.Error("expected an evaluation failure, fixture evaluated cleanly")
	}
	return a
}

// FailedValidation asserts the fixture evaluated but carries structural problems.
func (a *Assertions) FailedValidation() *Assertions {
	a.t.Helper()
	if a.result.EvalErr != nil {
		a.t.Errorf("expected validation problems, got evaluation failure: %v", a.result.EvalErr)
		return a
	}
	if len(a.result.Problems) == 0 {
		a.t.Error("expected validation problems, fixture validated cleanly")
	}
	return a
}

// ManifestCount asserts how many definitions compiled.
func (a *Assertions) ManifestCount(expected int) *Assertions {
	a.t.Helper()
	if len(a.result.Manifests) != expected {
		a.t.Errorf("expected %d manifests, got %d", expected, len(a.result.Manifests))
	}
	return a
}

// HasStep asserts a compiled manifest carries a step with the given name.
func (a *Assertions) HasStep(manifest, step string) *Assertions {
	a.t.Helper()
	for _, m := range a.result.Manifests {
		if m.Name != manifest {
			continue
		}
		for _, s := range m.Steps {
			if s.Name == step {
				return a
			}
		}
		a.t.Errorf("manifest %q has no step %q, steps: %v", manifest, step, m.StepNames())
		return a
	}
	a.t.Errorf("manifest %q not found", manifest)
	return a
}

// StepUses asserts a step compiled down to the given executor type.
func (a *Assertions) StepUses(manifest, step string, executor workflow.ExecutorType) *Assertions {
	a.t.Helper()
	for _, m := range a.result.Manifests {
		if m.Name != manifest {
			continue
		}
		for _, s := range m.Steps {
			if s.Name != step {
				continue
			}
			if s.Executor.Type != executor {
				a.t.Errorf("step %q executor = %q, expected %q", step, s.Executor.Type, executor)
			}
			return a
		}
	}
	a.t.Errorf("step %q not found in manifest %q", step, manifest)
	return a
}

// StepDependsOn asserts the manifest preserved a dependency edge.
func (a *Assertions) StepDependsOn(manifest, step, dep string) *Assertions {
	a.t.Helper()
	for _, m := range a.result.Manifests {
		if m.Name != manifest {
			continue
		}
		for _, s := range m.Steps {
			if s.Name != step {
				continue
			}
			for _, d := range s.Depends {
				if d == dep {
					return a
				}
			}
			a.t.Errorf("step %q depends = %v, expected %q", step, s.Depends, dep)
			return a
		}
	}
	a.t.Errorf("step %q not found in manifest %q", step, manifest)
	return a
}

// ProblemMentions asserts some validation problem contains the given text.
func (a *Assertions) ProblemMentions(expected string) *Assertions {
	a.t.Helper()
	for _, p := range a.result.Problems {
		if strings.Contains(p.Error(), expected) {
			return a
		}
	}
	a.t.Errorf("no problem mentions %q, got: %s", expected, workflow.JoinErrors(a.result.Problems))
	return a
}

// YAMLContains asserts the rendered manifest YAML contains a string.
func (a *Assertions) YAMLContains(manifest, expected string) *Assertions {
	a.t.Helper()
	for _, m := range a.result.Manifests {
		if m.Name != manifest {
			continue
		}
		out, err := m.YAML()
		if err != nil {
			a.t.Errorf("manifest %q did not render: %v", manifest, err)
			return a
		}
		if !strings.Contains(string(out), expected) {
			a.t.Errorf("manifest %q YAML does not contain %q, got:\n%s", manifest, expected, out)
		}
		return a
	}
	a.t.Errorf("manifest %q not found", manifest)
	return a
}

// DurationLessThan asserts the compilation took less than the specified duration
func (a *Assertions) DurationLessThan(d time.Duration) *Assertions {
	a.t.Helper()
	if a.result.Duration >= d {
		a.t.Errorf("compilation took %v, expected less than %v", a.result.Duration, d)
	}
	return a
}
