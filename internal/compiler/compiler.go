// Package compiler runs the offline half of the pipeline: evaluate builder
// source, validate the model, build the manifest. No model calls happen here;
// the orchestrator reaches the same stages through its refinement loop. The
// CLI compile and validate commands, the public API, and the MCP tools all
// share this path.
package compiler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kubiyabot/workflow-compiler/internal/evaluator"
	"github.com/kubiyabot/workflow-compiler/internal/workflow"
)

// InvalidWorkflowError carries the full ordered problem list of a workflow
// that evaluated but failed validation.
type InvalidWorkflowError struct {
	// Name is the workflow name when the definition declared one.
	Name   string
	Errors []workflow.ValidationError
}

func (e *InvalidWorkflowError) Error() string {
	return workflow.JoinErrors(e.Errors)
}

// Options configures a Compiler. The zero value compiles with an in-process
// sandbox under default limits.
type Options struct {
	// Evaluator runs builder source. Nil means a fresh in-process sandbox.
	Evaluator evaluator.Evaluator

	// EvalTimeout bounds each sandbox evaluation when no Evaluator is given.
	EvalTimeout time.Duration

	// Params are exposed to builder source as the params table when no
	// Evaluator is given.
	Params map[string]any
}

// Compiler turns workflow definitions into validated manifests.
type Compiler struct {
	eval evaluator.Evaluator
}

// New builds a Compiler.
func New(opts Options) *Compiler {
	eval := opts.Evaluator
	if eval == nil {
		eval = evaluator.New(evaluator.Options{Timeout: opts.EvalTimeout, Params: opts.Params})
	}
	return &Compiler{eval: eval}
}

// Result is one compiled workflow.
type Result struct {
	Workflow *workflow.Workflow
	Manifest *workflow.Manifest
}

// Compile evaluates one builder source and builds its manifest. Validation
// problems come back as an *InvalidWorkflowError, evaluation problems as an
// *evaluator.Error.
func (c *Compiler) Compile(ctx context.Context, source string) (*Result, error) {
	wf, err := c.eval.Evaluate(ctx, source)
	if err != nil {
		return nil, err
	}
	return c.CompileWorkflow(wf)
}

// CompileWorkflow validates an already-built model and builds its manifest.
func (c *Compiler) CompileWorkflow(wf *workflow.Workflow) (*Result, error) {
	if errs := workflow.Validate(wf); len(errs) > 0 {
		return nil, &InvalidWorkflowError{Name: wf.Name, Errors: errs}
	}
	manifest, err := workflow.BuildManifest(wf)
	if err != nil {
		return nil, err
	}
	return &Result{Workflow: wf, Manifest: manifest}, nil
}

// LoadFile reads workflow definitions from path. Builder source (.lua) runs
// in the sandbox and yields exactly one definition; YAML and JSON files may
// carry several documents. Nothing is validated yet.
func (c *Compiler) LoadFile(ctx context.Context, path string) ([]workflow.Workflow, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".lua":
		source, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		wf, err := c.eval.Evaluate(ctx, string(source))
		if err != nil {
			return nil, err
		}
		return []workflow.Workflow{*wf}, nil
	case ".yaml", ".yml", ".json":
		return workflow.LoadDefinitions(path)
	}
	return nil, fmt.Errorf("unsupported input %q (want .lua, .yaml, or .json)", path)
}

// CompileFile compiles a single-workflow file. Multi-document files are
// rejected; load those with LoadFile and compile each definition.
func (c *Compiler) CompileFile(ctx context.Context, path string) (*Result, error) {
	wfs, err := c.LoadFile(ctx, path)
	if err != nil {
		return nil, err
	}
	if len(wfs) != 1 {
		return nil, fmt.Errorf("%s contains %d workflows; load them with LoadFile", path, len(wfs))
	}
	return c.CompileWorkflow(&wfs[0])
}
