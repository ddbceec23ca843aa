package wfc

import (
	"github.com/kubiyabot/workflow-compiler/internal/evaluator"
	"github.com/kubiyabot/workflow-compiler/internal/orchestrator"
	"github.com/kubiyabot/workflow-compiler/internal/workflow"
)

// The workflow model, re-exported for callers.
type (
	Workflow        = workflow.Workflow
	Step            = workflow.Step
	Param           = workflow.Param
	Executor        = workflow.Executor
	ExecutorType    = workflow.ExecutorType
	RetryPolicy     = workflow.RetryPolicy
	Precondition    = workflow.Precondition
	Manifest        = workflow.Manifest
	ManifestStep    = workflow.ManifestStep
	ValidationError = workflow.ValidationError
	ErrorKind       = workflow.ErrorKind
	StepBuilder     = workflow.StepBuilder
)

// Executor variants.
const (
	ExecutorShell       = workflow.ExecutorShell
	ExecutorContainer   = workflow.ExecutorContainer
	ExecutorInlineAgent = workflow.ExecutorInlineAgent
	ExecutorSubWorkflow = workflow.ExecutorSubWorkflow
)

// Evaluation failures and refinement outcomes.
type (
	EvalError      = evaluator.Error
	EvalKind       = evaluator.Kind
	ExhaustedError = orchestrator.ExhaustedError
	Round          = orchestrator.Round
)

// Evaluation failure kinds.
const (
	EvalKindSyntax          = evaluator.KindSyntax
	EvalKindUndefinedSymbol = evaluator.KindUndefinedSymbol
	EvalKindTimeout         = evaluator.KindTimeout
	EvalKindNoWorkflow      = evaluator.KindNoWorkflow
	EvalKindRuntime         = evaluator.KindRuntime
)

// ErrCancelled reports a Compose run aborted by the caller's context.
var ErrCancelled = orchestrator.ErrCancelled

// NewWorkflow starts a fluent workflow definition.
func NewWorkflow(name string) *Workflow {
	return workflow.New(name)
}

// ShellStep starts a step that runs a command on the runner host.
func ShellStep(name, command string) *StepBuilder {
	return workflow.ShellStep(name, command)
}

// ContainerStep starts a step that runs a command inside an image.
func ContainerStep(name, image, command string) *StepBuilder {
	return workflow.ContainerStep(name, image, command)
}

// AgentStep starts a step that delegates to an inline agent.
func AgentStep(name, message string, runners ...string) *StepBuilder {
	return workflow.AgentStep(name, message, runners...)
}

// SubWorkflowStep starts a step that invokes another workflow.
func SubWorkflowStep(name, workflowName string) *StepBuilder {
	return workflow.SubWorkflowStep(name, workflowName)
}

// Validate runs every structural check and returns the ordered problem list,
// empty when the workflow is valid.
func Validate(wf *Workflow) []ValidationError {
	return workflow.Validate(wf)
}

// RenderErrors formats a problem list one line per problem.
func RenderErrors(errs []ValidationError) []string {
	return workflow.RenderErrors(errs)
}

// BuildManifest serializes a validated workflow. Call Validate first;
// unvalidated input can fail with an internal error.
func BuildManifest(wf *Workflow) (*Manifest, error) {
	return workflow.BuildManifest(wf)
}

// LoadDefinitions parses a YAML or JSON definition file, which may contain
// multiple workflow documents.
func LoadDefinitions(path string) ([]Workflow, error) {
	return workflow.LoadDefinitions(path)
}

// ParseDefinition parses a single workflow definition from bytes.
func ParseDefinition(data []byte) (*Workflow, error) {
	return workflow.ParseDefinition(data)
}
