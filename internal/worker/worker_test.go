package worker_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/kubiyabot/workflow-compiler/internal/evaluator"
	"github.com/kubiyabot/workflow-compiler/internal/worker"
	"github.com/kubiyabot/workflow-compiler/internal/workflow"
)

func TestIsWorkerProcess(t *testing.T) {
	if worker.IsWorkerProcess() {
		t.Error("IsWorkerProcess() should be false in test context")
	}
	t.Setenv("WFC_WORKER", "1")
	if !worker.IsWorkerProcess() {
		t.Error("IsWorkerProcess() should be true with WFC_WORKER=1")
	}
}

func TestServeEvaluatesRequests(t *testing.T) {
	var in bytes.Buffer
	enc := json.NewEncoder(&in)
	enc.Encode(worker.Request{ID: "1", Source: `workflow("ok") step("s").shell("true")`})
	enc.Encode(worker.Request{ID: "2", Source: `workflow(`})

	var out bytes.Buffer
	worker.NewServer(worker.SandboxHandler{}).Serve(&in, &out)

	dec := json.NewDecoder(&out)

	var first worker.Response
	if err := dec.Decode(&first); err != nil {
		t.Fatalf("decode first response: %v", err)
	}
	if first.ID != "1" || first.Err != "" {
		t.Fatalf("first response = %+v", first)
	}
	var wf workflow.Workflow
	if err := json.Unmarshal(first.Workflow, &wf); err != nil {
		t.Fatalf("unmarshal workflow: %v", err)
	}
	if wf.Name != "ok" || len(wf.Steps) != 1 {
		t.Errorf("workflow = %+v", wf)
	}

	var second worker.Response
	if err := dec.Decode(&second); err != nil {
		t.Fatalf("decode second response: %v", err)
	}
	if second.ID != "2" {
		t.Errorf("second ID = %q", second.ID)
	}
	if second.ErrKind != string(evaluator.KindSyntax) {
		t.Errorf("second ErrKind = %q, want %q", second.ErrKind, evaluator.KindSyntax)
	}
	if second.Err == "" {
		t.Error("second response should carry an error message")
	}
}

func TestServeForwardsParams(t *testing.T) {
	var in bytes.Buffer
	json.NewEncoder(&in).Encode(worker.Request{
		ID:     "1",
		Source: `workflow("p") step("s").shell("run --env " .. params.env)`,
		Params: map[string]any{"env": "staging"},
	})

	var out bytes.Buffer
	worker.NewServer(worker.SandboxHandler{}).Serve(&in, &out)

	var resp worker.Response
	if err := json.NewDecoder(&out).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Err != "" {
		t.Fatalf("response error: %s", resp.Err)
	}
	var wf workflow.Workflow
	if err := json.Unmarshal(resp.Workflow, &wf); err != nil {
		t.Fatalf("unmarshal workflow: %v", err)
	}
	if got := wf.Steps[0].Executor.Shell.Command; got != "run --env staging" {
		t.Errorf("command = %q", got)
	}
}

func TestServeRejectsMalformedLine(t *testing.T) {
	in := bytes.NewBufferString("not json\n")
	var out bytes.Buffer
	worker.NewServer(worker.SandboxHandler{}).Serve(in, &out)

	var resp worker.Response
	if err := json.NewDecoder(&out).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Err == "" {
		t.Error("malformed input should produce an error response")
	}
}

func TestPoolCreation(t *testing.T) {
	// Spawning real workers re-executes the test binary.
	t.Skip("requires the compiled wfc binary")

	pool, err := worker.NewPool(2, worker.Options{})
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	defer pool.Close()

	if pool.Size() != 2 {
		t.Errorf("Pool.Size() = %d, want 2", pool.Size())
	}
}
