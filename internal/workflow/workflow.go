// Package workflow defines the in-memory workflow model, its structural
// validation rules, and the canonical manifest representation consumed by the
// execution service. A model is owned by the compilation round that built it
// and is never mutated concurrently.
package workflow

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// ExecutorType identifies the kind of work a step performs.
type ExecutorType string

const (
	ExecutorShell       ExecutorType = "shell"
	ExecutorContainer   ExecutorType = "container"
	ExecutorInlineAgent ExecutorType = "inline_agent"
	ExecutorSubWorkflow ExecutorType = "sub_workflow"
)

// Workflow is the top-level unit: a named, ordered collection of steps whose
// dependency relation must form a DAG.
type Workflow struct {
	Name        string           `yaml:"name" json:"name"`
	Description string           `yaml:"description,omitempty" json:"description,omitempty"`
	Params      map[string]Param `yaml:"params,omitempty" json:"params,omitempty"`
	Runner      string           `yaml:"runner,omitempty" json:"runner,omitempty"`
	Steps       []Step           `yaml:"steps" json:"steps"`
}

// Param declares a workflow input: whether the caller must supply it and the
// value used when they don't.
type Param struct {
	Required bool `yaml:"required" json:"required"`
	Default  any  `yaml:"default,omitempty" json:"default,omitempty"`
}

// Step is a unit of work inside a workflow.
type Step struct {
	Name              string         `yaml:"name" json:"name"`
	Executor          Executor       `yaml:"executor" json:"executor"`
	Depends           []string       `yaml:"depends,omitempty" json:"depends,omitempty"`
	Output            string         `yaml:"output,omitempty" json:"output,omitempty"`
	Retry             *RetryPolicy   `yaml:"retry,omitempty" json:"retry,omitempty"`
	Preconditions     []Precondition `yaml:"preconditions,omitempty" json:"preconditions,omitempty"`
	ContinueOnFailure bool           `yaml:"continue_on_failure,omitempty" json:"continue_on_failure,omitempty"`
}

// RetryPolicy controls re-execution of a failed step.
type RetryPolicy struct {
	Limit       int   `yaml:"limit" json:"limit"`
	IntervalSec int   `yaml:"interval_sec" json:"interval_sec"`
	ExitCodes   []int `yaml:"exit_codes,omitempty" json:"exit_codes,omitempty"`
}

// Precondition gates a step on a condition evaluating to an expected value.
type Precondition struct {
	Condition string `yaml:"condition" json:"condition"`
	Expected  string `yaml:"expected" json:"expected"`
}

// Executor is a tagged union over the supported executor variants. Exactly one
// variant pointer is set for a well-formed executor; the wire form flattens the
// active variant's fields next to the type tag.
type Executor struct {
	Type        ExecutorType
	Shell       *ShellSpec
	Container   *ContainerSpec
	Agent       *AgentSpec
	SubWorkflow *SubWorkflowSpec
}

// ShellSpec runs a command with the runner's default shell.
type ShellSpec struct {
	Command string
}

// ContainerSpec runs a command or script inside a container image. Script and
// Packages carry the script-with-dependencies form: the script executes in the
// image after the listed packages are installed.
type ContainerSpec struct {
	Image    string
	Command  string
	Script   string
	Packages []string
}

// AgentSpec delegates the step to an inline agent with a message template,
// targeting one or more runners.
type AgentSpec struct {
	Message string
	Runners []string
}

// SubWorkflowSpec invokes another workflow by name.
type SubWorkflowSpec struct {
	Workflow string
	Params   map[string]string
}

// executorWire is the flattened on-the-wire shape shared by JSON and YAML.
type executorWire struct {
	Type     ExecutorType      `yaml:"type" json:"type"`
	Command  string            `yaml:"command,omitempty" json:"command,omitempty"`
	Image    string            `yaml:"image,omitempty" json:"image,omitempty"`
	Script   string            `yaml:"script,omitempty" json:"script,omitempty"`
	Packages []string          `yaml:"packages,omitempty" json:"packages,omitempty"`
	Message  string            `yaml:"message,omitempty" json:"message,omitempty"`
	Runners  []string          `yaml:"runners,omitempty" json:"runners,omitempty"`
	Workflow string            `yaml:"workflow,omitempty" json:"workflow,omitempty"`
	Params   map[string]string `yaml:"params,omitempty" json:"params,omitempty"`
}

func (e Executor) toWire() executorWire {
	w := executorWire{Type: e.Type}
	switch {
	case e.Shell != nil:
		w.Command = e.Shell.Command
	case e.Container != nil:
		w.Image = e.Container.Image
		w.Command = e.Container.Command
		w.Script = e.Container.Script
		w.Packages = e.Container.Packages
	case e.Agent != nil:
		w.Message = e.Agent.Message
		w.Runners = e.Agent.Runners
	case e.SubWorkflow != nil:
		w.Workflow = e.SubWorkflow.Workflow
		w.Params = e.SubWorkflow.Params
	}
	return w
}

func (e *Executor) fromWire(w executorWire) {
	*e = Executor{Type: w.Type}
	switch w.Type {
	case ExecutorShell:
		e.Shell = &ShellSpec{Command: w.Command}
	case ExecutorContainer:
		e.Container = &ContainerSpec{Image: w.Image, Command: w.Command, Script: w.Script, Packages: w.Packages}
	case ExecutorInlineAgent:
		e.Agent = &AgentSpec{Message: w.Message, Runners: w.Runners}
	case ExecutorSubWorkflow:
		e.SubWorkflow = &SubWorkflowSpec{Workflow: w.Workflow, Params: w.Params}
	default:
		// Unknown variants keep their tag so the validator can name them.
	}
}

// MarshalJSON implements json.Marshaler.
func (e Executor) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.toWire())
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Executor) UnmarshalJSON(data []byte) error {
	var w executorWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	e.fromWire(w)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (e Executor) MarshalYAML() (any, error) {
	return e.toWire(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (e *Executor) UnmarshalYAML(node *yaml.Node) error {
	var w executorWire
	if err := node.Decode(&w); err != nil {
		return err
	}
	e.fromWire(w)
	return nil
}

// checkWired verifies the union invariant: a known type tag with its matching
// variant populated. Validation reports user-facing problems; this guards the
// programmer-error case of serializing a model that skipped validation.
func (e Executor) checkWired() error {
	switch e.Type {
	case ExecutorShell:
		if e.Shell == nil {
			return fmt.Errorf("shell executor without shell spec")
		}
	case ExecutorContainer:
		if e.Container == nil {
			return fmt.Errorf("container executor without container spec")
		}
	case ExecutorInlineAgent:
		if e.Agent == nil {
			return fmt.Errorf("inline_agent executor without agent spec")
		}
	case ExecutorSubWorkflow:
		if e.SubWorkflow == nil {
			return fmt.Errorf("sub_workflow executor without sub-workflow spec")
		}
	default:
		return fmt.Errorf("unknown executor type %q", e.Type)
	}
	return nil
}

// StepNames returns the step names in declaration order.
func (wf *Workflow) StepNames() []string {
	names := make([]string, len(wf.Steps))
	for i, s := range wf.Steps {
		names[i] = s.Name
	}
	return names
}

// FindStep returns the step with the given name, or nil.
func (wf *Workflow) FindStep(name string) *Step {
	for i := range wf.Steps {
		if wf.Steps[i].Name == name {
			return &wf.Steps[i]
		}
	}
	return nil
}
