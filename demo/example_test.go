// Package demo provides example tests demonstrating the public compile API.
//
// Run with: go test ./demo -v
package demo

import (
	"os"
	"reflect"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/kubiyabot/workflow-compiler/pkg/wfc"
)

// TestWorkflowCompiles verifies the example workflow compiles without errors.
func TestWorkflowCompiles(t *testing.T) {
	result, err := wfc.CompileFile("release.lua", nil)
	if err != nil {
		t.Fatalf("compilation failed: %v", err)
	}

	m := result.Manifest
	if m.Name != "release" {
		t.Errorf("manifest name = %q, want release", m.Name)
	}
	if len(m.Steps) != 4 {
		t.Fatalf("steps = %d, want 4", len(m.Steps))
	}
	if m.Steps[2].Executor.Type != wfc.ExecutorContainer {
		t.Errorf("package step executor = %q, want container", m.Steps[2].Executor.Type)
	}
	if m.Steps[2].Output != "IMAGE_REF" {
		t.Errorf("package step output = %q, want IMAGE_REF", m.Steps[2].Output)
	}
}

// TestManifestMatchesGolden compares the compiled manifest against
// output/release.yaml, field by field rather than byte by byte so formatting
// differences don't matter.
func TestManifestMatchesGolden(t *testing.T) {
	golden, err := os.ReadFile("output/release.yaml")
	if err != nil {
		t.Fatalf("failed to read golden manifest: %v", err)
	}

	result, err := wfc.CompileFile("release.lua", nil)
	if err != nil {
		t.Fatalf("compilation failed: %v", err)
	}
	rendered, err := result.Manifest.YAML()
	if err != nil {
		t.Fatalf("failed to render manifest: %v", err)
	}

	var want, got map[string]any
	if err := yaml.Unmarshal(golden, &want); err != nil {
		t.Fatalf("golden manifest is not valid YAML: %v", err)
	}
	if err := yaml.Unmarshal(rendered, &got); err != nil {
		t.Fatalf("rendered manifest is not valid YAML: %v", err)
	}

	if !reflect.DeepEqual(got, want) {
		t.Errorf("manifest drifted from output/release.yaml\ngot:\n%s\nwant:\n%s", rendered, golden)
	}
}

// TestProgrammaticEquivalent builds the same pipeline through the fluent API
// and checks it compiles to the same step graph as the builder source.
func TestProgrammaticEquivalent(t *testing.T) {
	wf := wfc.NewWorkflow("release").
		WithDescription("Lint, test, package, and publish a service release").
		WithParam("version", true, nil).
		WithParam("channel", false, "stable").
		WithParam("registry", false, "registry.example.com").
		Add(wfc.ShellStep("lint", "golangci-lint run ./...")).
		Add(wfc.ShellStep("test", "go test ./...").
			WithRetry(2, 15)).
		Add(wfc.ContainerStep("package", "docker:27", "docker build -t {{registry}}/app:{{version}} .").
			DependsOn("lint", "test").
			WithOutput("IMAGE_REF")).
		Add(wfc.ShellStep("publish", "docker push {{IMAGE_REF}}").
			DependsOn("package").
			WithPrecondition("{{channel}}", "stable"))

	if errs := wfc.Validate(wf); len(errs) > 0 {
		t.Fatalf("validation problems: %v", errs)
	}
	manifest, err := wfc.BuildManifest(wf)
	if err != nil {
		t.Fatalf("BuildManifest failed: %v", err)
	}

	compiled, err := wfc.CompileFile("release.lua", nil)
	if err != nil {
		t.Fatalf("compilation failed: %v", err)
	}

	if !reflect.DeepEqual(manifest.StepNames(), compiled.Manifest.StepNames()) {
		t.Errorf("step graph differs: %v vs %v", manifest.StepNames(), compiled.Manifest.StepNames())
	}
	for i := range manifest.Steps {
		if manifest.Steps[i].Executor.Type != compiled.Manifest.Steps[i].Executor.Type {
			t.Errorf("step %d executor = %q vs %q",
				i, manifest.Steps[i].Executor.Type, compiled.Manifest.Steps[i].Executor.Type)
		}
	}
}
