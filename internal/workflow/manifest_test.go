package workflow

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestBuildManifestRoundTrip(t *testing.T) {
	wf := New("deploy").
		WithDescription("roll out the service").
		WithParam("env", true, "staging").
		WithRunner("core-runner").
		Add(ShellStep("build", "make build").WithOutput("artifact")).
		Add(ContainerStep("test", "golang:1.25", "go test ./...").DependsOn("build")).
		Add(AgentStep("notify", "deployed to {{env}}", "core-runner").
			DependsOn("test").
			WithRetry(2, 30).
			ContinueOnFailure())

	if errs := Validate(wf); len(errs) != 0 {
		t.Fatalf("fixture must be valid, got %v", errs)
	}

	m, err := BuildManifest(wf)
	if err != nil {
		t.Fatalf("BuildManifest() error = %v", err)
	}

	if len(m.Steps) != len(wf.Steps) {
		t.Errorf("manifest has %d steps, workflow has %d", len(m.Steps), len(wf.Steps))
	}
	if !reflect.DeepEqual(m.StepNames(), wf.StepNames()) {
		t.Errorf("step names differ: %v vs %v", m.StepNames(), wf.StepNames())
	}
	if m.Name != "deploy" || m.Runner != "core-runner" {
		t.Errorf("manifest header = %q/%q", m.Name, m.Runner)
	}
	if p, ok := m.Params["env"]; !ok || !p.Required || p.Default != "staging" {
		t.Errorf("params not carried: %+v", m.Params)
	}
}

func TestBuildManifestJSONShape(t *testing.T) {
	wf := New("ping").Add(ShellStep("hello", "echo hi"))
	m, err := BuildManifest(wf)
	if err != nil {
		t.Fatalf("BuildManifest() error = %v", err)
	}

	data, err := m.JSON()
	if err != nil {
		t.Fatalf("JSON() error = %v", err)
	}

	var decoded struct {
		Name  string `json:"name"`
		Steps []struct {
			Name     string         `json:"name"`
			Executor map[string]any `json:"executor"`
			Depends  []string       `json:"depends"`
		} `json:"steps"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("decoding manifest JSON: %v", err)
	}

	if decoded.Steps[0].Executor["type"] != "shell" {
		t.Errorf("executor.type = %v, want shell", decoded.Steps[0].Executor["type"])
	}
	if decoded.Steps[0].Executor["command"] != "echo hi" {
		t.Errorf("executor.command = %v", decoded.Steps[0].Executor["command"])
	}
	// depends must serialize as an empty list, not null
	if decoded.Steps[0].Depends == nil {
		t.Error("depends decoded as nil; manifest must emit a list")
	}
	if strings.Contains(string(data), `"depends": null`) {
		t.Error("manifest JSON contains null depends")
	}
}

func TestBuildManifestInternalError(t *testing.T) {
	tests := []struct {
		name string
		wf   *Workflow
	}{
		{"nil workflow", nil},
		{"missing name", &Workflow{Steps: []Step{{Name: "s", Executor: shellExec("x")}}}},
		{"no steps", &Workflow{Name: "x"}},
		{
			"unwired executor",
			&Workflow{Name: "x", Steps: []Step{{Name: "s", Executor: Executor{Type: ExecutorShell}}}},
		},
		{
			"unknown variant",
			&Workflow{Name: "x", Steps: []Step{{Name: "s", Executor: Executor{Type: "warp"}}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildManifest(tt.wf)
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, ErrInternal) {
				t.Errorf("error %v must wrap ErrInternal", err)
			}
		})
	}
}

func TestManifestIsolatedFromModel(t *testing.T) {
	wf := New("wf").
		Add(ShellStep("a", "true").WithRetry(3, 5, 1).WithOutput("o")).
		Add(ShellStep("b", "true").DependsOn("a"))

	m, err := BuildManifest(wf)
	if err != nil {
		t.Fatalf("BuildManifest() error = %v", err)
	}

	// mutate the model after serialization; manifest must not change
	wf.Steps[1].Depends[0] = "changed"
	wf.Steps[0].Retry.ExitCodes[0] = 99

	if m.Steps[1].Depends[0] != "a" {
		t.Errorf("manifest depends aliases model: %v", m.Steps[1].Depends)
	}
	if m.Steps[0].Retry.ExitCodes[0] != 1 {
		t.Errorf("manifest retry aliases model: %v", m.Steps[0].Retry.ExitCodes)
	}
}
