package evaluator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kubiyabot/workflow-compiler/internal/workflow"
)

func evalFixture(t *testing.T, s *Sandbox, name string) (*workflow.Workflow, error) {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("read fixture %s: %v", name, err)
	}
	return s.Evaluate(context.Background(), string(data))
}

func evalKind(t *testing.T, err error) Kind {
	t.Helper()
	var evalErr *Error
	if !errors.As(err, &evalErr) {
		t.Fatalf("expected *evaluator.Error, got %T: %v", err, err)
	}
	return evalErr.Kind
}

func TestEvaluateRelease(t *testing.T) {
	wf, err := evalFixture(t, New(Options{}), "release.lua")
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}

	if wf.Name != "release" {
		t.Errorf("Name = %q, want %q", wf.Name, "release")
	}
	if wf.Runner != "core-runner" {
		t.Errorf("Runner = %q, want %q", wf.Runner, "core-runner")
	}
	if !wf.Params["version"].Required {
		t.Error("param version should be required")
	}
	if got := wf.Params["channel"].Default; got != "stable" {
		t.Errorf("param channel default = %v, want stable", got)
	}

	want := []string{"checkout", "build", "test", "publish"}
	if got := wf.StepNames(); len(got) != len(want) {
		t.Fatalf("StepNames() = %v, want %v", got, want)
	} else {
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("step %d = %q, want %q", i, got[i], want[i])
			}
		}
	}

	build := wf.FindStep("build")
	if build == nil {
		t.Fatal("step build not found")
	}
	if build.Executor.Type != workflow.ExecutorContainer {
		t.Errorf("build executor = %q, want container", build.Executor.Type)
	}
	if build.Executor.Container.Image != "golang:1.25" {
		t.Errorf("build image = %q", build.Executor.Container.Image)
	}
	if len(build.Executor.Container.Packages) != 2 {
		t.Errorf("build packages = %v", build.Executor.Container.Packages)
	}
	if build.Output != "ARTIFACT" {
		t.Errorf("build output = %q, want ARTIFACT", build.Output)
	}

	test := wf.FindStep("test")
	if test.Retry == nil || test.Retry.Limit != 2 || test.Retry.IntervalSec != 30 {
		t.Errorf("test retry = %+v", test.Retry)
	}
	if len(test.Retry.ExitCodes) != 1 || test.Retry.ExitCodes[0] != 1 {
		t.Errorf("test retry exit codes = %v", test.Retry.ExitCodes)
	}

	publish := wf.FindStep("publish")
	if len(publish.Preconditions) != 1 || publish.Preconditions[0].Expected != "stable" {
		t.Errorf("publish preconditions = %+v", publish.Preconditions)
	}

	if errs := workflow.Validate(wf); len(errs) != 0 {
		t.Errorf("Validate() = %v, want clean", errs)
	}
}

func TestEvaluateExecutorVariants(t *testing.T) {
	src := `
workflow("mixed")
step("notify").agent({ message = "Summarize the results", runners = { "agent-runner" } })
step("fan").depends("notify").subworkflow("cleanup", { env = "prod" })
step("best_effort").depends("fan").shell("true").continue_on_failure()
`
	wf, err := New(Options{}).Evaluate(context.Background(), src)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}

	notify := wf.FindStep("notify")
	if notify.Executor.Type != workflow.ExecutorInlineAgent {
		t.Fatalf("notify executor = %q", notify.Executor.Type)
	}
	if len(notify.Executor.Agent.Runners) != 1 || notify.Executor.Agent.Runners[0] != "agent-runner" {
		t.Errorf("notify runners = %v", notify.Executor.Agent.Runners)
	}

	fan := wf.FindStep("fan")
	if fan.Executor.Type != workflow.ExecutorSubWorkflow {
		t.Fatalf("fan executor = %q", fan.Executor.Type)
	}
	if fan.Executor.SubWorkflow.Workflow != "cleanup" {
		t.Errorf("fan target = %q", fan.Executor.SubWorkflow.Workflow)
	}
	if fan.Executor.SubWorkflow.Params["env"] != "prod" {
		t.Errorf("fan params = %v", fan.Executor.SubWorkflow.Params)
	}

	if !wf.FindStep("best_effort").ContinueOnFailure {
		t.Error("best_effort should continue on failure")
	}
}

func TestEvaluateReturnedWorkflowWins(t *testing.T) {
	src := `
local first = workflow("first")
step("a").shell("true")
workflow("second")
step("b").shell("true")
return first
`
	wf, err := New(Options{}).Evaluate(context.Background(), src)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if wf.Name != "first" {
		t.Errorf("Name = %q, want first", wf.Name)
	}
	if len(wf.Steps) != 1 || wf.Steps[0].Name != "a" {
		t.Errorf("Steps = %v", wf.StepNames())
	}
}

func TestEvaluateLastDeclaredWins(t *testing.T) {
	src := `
workflow("first")
step("a").shell("true")
workflow("second")
step("b").shell("true")
`
	wf, err := New(Options{}).Evaluate(context.Background(), src)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if wf.Name != "second" {
		t.Errorf("Name = %q, want second", wf.Name)
	}
}

func TestEvaluateColonCallStyle(t *testing.T) {
	src := `
local wf = workflow("colon")
wf:description("colon style")
local s = wf:step("build")
s:shell("make")
s:output("RESULT")
`
	wf, err := New(Options{}).Evaluate(context.Background(), src)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if wf.Description != "colon style" {
		t.Errorf("Description = %q", wf.Description)
	}
	st := wf.FindStep("build")
	if st == nil || st.Executor.Shell == nil || st.Executor.Shell.Command != "make" {
		t.Fatalf("step = %+v", st)
	}
	if st.Output != "RESULT" {
		t.Errorf("Output = %q, want RESULT", st.Output)
	}
}

func TestEvaluateParamsExposed(t *testing.T) {
	s := New(Options{Params: map[string]any{"env": "prod", "replicas": 3}})
	src := `
workflow("deploy")
step("apply").shell("deploy --env " .. params.env .. " --replicas " .. params.replicas)
`
	wf, err := s.Evaluate(context.Background(), src)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	got := wf.Steps[0].Executor.Shell.Command
	if got != "deploy --env prod --replicas 3" {
		t.Errorf("command = %q", got)
	}
}

func TestEvaluateFailureKinds(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   Kind
	}{
		{
			name:   "syntax error",
			source: `workflow(`,
			want:   KindSyntax,
		},
		{
			name:   "undefined helper",
			source: `workflow("w") bogus_helper()`,
			want:   KindUndefinedSymbol,
		},
		{
			name:   "no workflow declared",
			source: `local x = 1 + 1`,
			want:   KindNoWorkflow,
		},
		{
			name:   "step before workflow",
			source: `step("orphan").shell("true")`,
			want:   KindRuntime,
		},
		{
			name:   "explicit error",
			source: `workflow("w") error("boom")`,
			want:   KindRuntime,
		},
		{
			name:   "os library removed",
			source: `workflow("w") step("s").shell(os.getenv("HOME"))`,
			want:   KindUndefinedSymbol,
		},
		{
			name:   "io library removed",
			source: `workflow("w") io.open("/etc/passwd")`,
			want:   KindUndefinedSymbol,
		},
		{
			name:   "load disabled",
			source: `workflow("w") load("return 1")()`,
			want:   KindUndefinedSymbol,
		},
		{
			name:   "dofile disabled",
			source: `workflow("w") dofile("x.lua")`,
			want:   KindUndefinedSymbol,
		},
		{
			name:   "require unavailable",
			source: `local posix = require("posix")`,
			want:   KindUndefinedSymbol,
		},
		{
			name:   "math.random removed",
			source: `workflow("w") step("s").output("N" .. math.random(10))`,
			want:   KindUndefinedSymbol,
		},
	}

	s := New(Options{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Evaluate(context.Background(), tt.source)
			if err == nil {
				t.Fatal("Evaluate() should fail")
			}
			if got := evalKind(t, err); got != tt.want {
				t.Errorf("kind = %q, want %q (err: %v)", got, tt.want, err)
			}
		})
	}
}

func TestEvaluateTimeout(t *testing.T) {
	s := New(Options{Timeout: 50 * time.Millisecond})
	start := time.Now()
	_, err := evalFixture(t, s, "spin.lua")
	if err == nil {
		t.Fatal("Evaluate() should fail")
	}
	if got := evalKind(t, err); got != KindTimeout {
		t.Fatalf("kind = %q, want %q", got, KindTimeout)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("evaluation ran %s past its budget", elapsed)
	}
}

func TestEvaluateCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	data, err := os.ReadFile(filepath.Join("testdata", "spin.lua"))
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	_, err = New(Options{}).Evaluate(ctx, string(data))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	var evalErr *Error
	if errors.As(err, &evalErr) {
		t.Errorf("caller cancellation should not be reported as a candidate fault: %v", evalErr)
	}
}

func TestSandboxIsReusable(t *testing.T) {
	s := New(Options{})
	for i := 0; i < 3; i++ {
		wf, err := s.Evaluate(context.Background(), `workflow("again") step("s").shell("true")`)
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if len(wf.Steps) != 1 {
			t.Fatalf("run %d: steps leaked across evaluations: %v", i, wf.StepNames())
		}
	}
}
