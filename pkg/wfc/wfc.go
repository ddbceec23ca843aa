// Package wfc provides a public API for the workflow compiler.
//
// This package turns task descriptions and builder source into validated
// workflow manifests, without going through the CLI.
//
// Compile builder source:
//
//	result, err := wfc.Compile(source, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	yaml, _ := result.Manifest.YAML()
//
// Compose from a task description (needs an OpenAI API key):
//
//	result, err := wfc.Compose(ctx, "build, test and deploy the api", &wfc.CompileOptions{
//	    MaxRounds: 5,
//	})
//
// Programmatic workflow construction:
//
//	wf := wfc.NewWorkflow("greeter")
//	wf.Add(wfc.ShellStep("greet", "echo hello").WithOutput("GREETING"))
//
//	if errs := wfc.Validate(wf); len(errs) > 0 {
//	    log.Fatal(errs)
//	}
package wfc

import (
	"context"
	"os"
	"time"

	"github.com/kubiyabot/workflow-compiler/internal/backend"
	"github.com/kubiyabot/workflow-compiler/internal/compiler"
	"github.com/kubiyabot/workflow-compiler/internal/evaluator"
	"github.com/kubiyabot/workflow-compiler/internal/orchestrator"
	"github.com/kubiyabot/workflow-compiler/internal/platform"
)

// CompileOptions configures compilation and composition. The zero value is
// usable; Compile ignores the generation fields.
type CompileOptions struct {
	// EvalTimeout bounds each sandbox evaluation.
	// Defaults to five seconds.
	EvalTimeout time.Duration

	// Params are exposed to builder source as the global params table.
	Params map[string]any

	// MaxRounds bounds refinement rounds when composing. Defaults to three.
	MaxRounds int

	// RefinementPolicy selects how much history refinement prompts carry:
	// "last_round" (default) or "full_history".
	RefinementPolicy string

	// Model overrides the default model for composition.
	Model string

	// MaxTokens caps the model response length. Zero means no cap.
	MaxTokens int

	// APIKey authenticates model requests. Empty falls back to the
	// WFC_OPENAI_API_KEY environment variable.
	APIKey string

	// BaseURL points the model client at a different endpoint, such as a
	// proxy or a compatible local server.
	BaseURL string

	// RequestTimeout bounds a whole Compose run. Zero means no bound
	// beyond the caller's context.
	RequestTimeout time.Duration

	// PlatformURL enables live runner and integration context when set.
	PlatformURL string

	// PlatformAPIKey authenticates platform requests.
	PlatformAPIKey string
}

// CompileResult is a successful offline compilation.
type CompileResult struct {
	// Workflow is the evaluated definition.
	Workflow *Workflow

	// Manifest is the serializable compilation artifact.
	Manifest *Manifest
}

// ComposeResult is a successful model-assisted compilation.
type ComposeResult struct {
	Workflow *Workflow
	Manifest *Manifest

	// Rounds is how many attempts the refinement loop made.
	Rounds int

	// Warnings surface degraded context loading.
	Warnings []string
}

// InvalidWorkflowError carries the full ordered problem list of a workflow
// that evaluated but failed validation.
type InvalidWorkflowError = compiler.InvalidWorkflowError

// Compile evaluates builder source in the sandbox, validates the result, and
// builds the manifest. No model calls are made. Validation problems come back
// as an *InvalidWorkflowError; evaluation problems as an *EvalError.
func Compile(source string, opts *CompileOptions) (*CompileResult, error) {
	if opts == nil {
		opts = &CompileOptions{}
	}

	c := compiler.New(compiler.Options{EvalTimeout: opts.EvalTimeout, Params: opts.Params})
	res, err := c.Compile(context.Background(), source)
	if err != nil {
		return nil, err
	}
	return &CompileResult{Workflow: res.Workflow, Manifest: res.Manifest}, nil
}

// CompileFile compiles a workflow file. Builder source (.lua) runs in the
// sandbox; YAML and JSON definitions are parsed directly. Multi-document
// files are not supported here; load those with LoadDefinitions.
func CompileFile(path string, opts *CompileOptions) (*CompileResult, error) {
	if opts == nil {
		opts = &CompileOptions{}
	}

	c := compiler.New(compiler.Options{EvalTimeout: opts.EvalTimeout, Params: opts.Params})
	res, err := c.CompileFile(context.Background(), path)
	if err != nil {
		return nil, err
	}
	return &CompileResult{Workflow: res.Workflow, Manifest: res.Manifest}, nil
}

// Compose generates a workflow from a task description, refining invalid
// candidates up to the round budget. On exhaustion the returned error is an
// *ExhaustedError carrying the full attempt history; on context cancellation
// it is ErrCancelled.
func Compose(ctx context.Context, task string, opts *CompileOptions) (*ComposeResult, error) {
	if opts == nil {
		opts = &CompileOptions{}
	}

	apiKey := opts.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("WFC_OPENAI_API_KEY")
	}
	generator, err := backend.NewOpenAIGenerator(backend.OpenAIConfig{
		APIKey:       apiKey,
		BaseURL:      opts.BaseURL,
		DefaultModel: opts.Model,
	})
	if err != nil {
		return nil, err
	}
	defer generator.Close()

	var loader platform.Loader = &platform.Static{}
	if opts.PlatformURL != "" {
		loader = platform.NewClient(platform.Config{
			BaseURL: opts.PlatformURL,
			APIKey:  opts.PlatformAPIKey,
		})
	}

	orch, err := orchestrator.New(orchestrator.Options{
		Generator:      generator,
		Evaluator:      evaluator.New(evaluator.Options{Timeout: opts.EvalTimeout, Params: opts.Params}),
		Loader:         loader,
		MaxRounds:      opts.MaxRounds,
		Policy:         opts.RefinementPolicy,
		Model:          opts.Model,
		MaxTokens:      opts.MaxTokens,
		RequestTimeout: opts.RequestTimeout,
	})
	if err != nil {
		return nil, err
	}

	res, err := orch.Run(ctx, task)
	if err != nil {
		return nil, err
	}
	return &ComposeResult{
		Workflow: res.Workflow,
		Manifest: res.Manifest,
		Rounds:   len(res.Rounds),
		Warnings: res.Warnings,
	}, nil
}
