package workflow

// New creates an empty workflow with the given name.
func New(name string) *Workflow {
	return &Workflow{
		Name:  name,
		Steps: make([]Step, 0),
	}
}

// WithDescription sets the workflow description.
func (wf *Workflow) WithDescription(desc string) *Workflow {
	wf.Description = desc
	return wf
}

// WithParam declares a workflow parameter.
func (wf *Workflow) WithParam(name string, required bool, def any) *Workflow {
	if wf.Params == nil {
		wf.Params = make(map[string]Param)
	}
	wf.Params[name] = Param{Required: required, Default: def}
	return wf
}

// WithRunner sets the target runner.
func (wf *Workflow) WithRunner(runner string) *Workflow {
	wf.Runner = runner
	return wf
}

// Add appends a built step to the workflow.
func (wf *Workflow) Add(b *StepBuilder) *Workflow {
	wf.Steps = append(wf.Steps, b.Build())
	return wf
}

// StepBuilder provides a fluent API for constructing steps.
type StepBuilder struct {
	step Step
}

// ShellStep creates a step that runs a shell command.
func ShellStep(name, command string) *StepBuilder {
	return &StepBuilder{
		step: Step{
			Name:     name,
			Executor: Executor{Type: ExecutorShell, Shell: &ShellSpec{Command: command}},
		},
	}
}

// ContainerStep creates a step that runs inside a container image.
func ContainerStep(name, image, command string) *StepBuilder {
	return &StepBuilder{
		step: Step{
			Name:     name,
			Executor: Executor{Type: ExecutorContainer, Container: &ContainerSpec{Image: image, Command: command}},
		},
	}
}

// AgentStep creates a step that delegates to an inline agent.
func AgentStep(name, message string, runners ...string) *StepBuilder {
	return &StepBuilder{
		step: Step{
			Name:     name,
			Executor: Executor{Type: ExecutorInlineAgent, Agent: &AgentSpec{Message: message, Runners: runners}},
		},
	}
}

// SubWorkflowStep creates a step that invokes another workflow.
func SubWorkflowStep(name, workflowName string) *StepBuilder {
	return &StepBuilder{
		step: Step{
			Name:     name,
			Executor: Executor{Type: ExecutorSubWorkflow, SubWorkflow: &SubWorkflowSpec{Workflow: workflowName}},
		},
	}
}

// WithScript sets a script and its package list on a container step. No effect
// on other variants.
func (b *StepBuilder) WithScript(script string, packages ...string) *StepBuilder {
	if b.step.Executor.Container != nil {
		b.step.Executor.Container.Script = script
		b.step.Executor.Container.Packages = packages
	}
	return b
}

// WithSubWorkflowParam passes a parameter to the invoked sub-workflow.
func (b *StepBuilder) WithSubWorkflowParam(name, value string) *StepBuilder {
	if b.step.Executor.SubWorkflow != nil {
		if b.step.Executor.SubWorkflow.Params == nil {
			b.step.Executor.SubWorkflow.Params = make(map[string]string)
		}
		b.step.Executor.SubWorkflow.Params[name] = value
	}
	return b
}

// DependsOn declares dependencies on other steps by name.
func (b *StepBuilder) DependsOn(names ...string) *StepBuilder {
	b.step.Depends = append(b.step.Depends, names...)
	return b
}

// WithOutput sets the output capture name for the step.
func (b *StepBuilder) WithOutput(output string) *StepBuilder {
	b.step.Output = output
	return b
}

// WithRetry sets the retry policy.
func (b *StepBuilder) WithRetry(limit, intervalSec int, exitCodes ...int) *StepBuilder {
	b.step.Retry = &RetryPolicy{Limit: limit, IntervalSec: intervalSec, ExitCodes: exitCodes}
	return b
}

// WithPrecondition gates the step on a condition matching an expected value.
func (b *StepBuilder) WithPrecondition(condition, expected string) *StepBuilder {
	b.step.Preconditions = append(b.step.Preconditions, Precondition{Condition: condition, Expected: expected})
	return b
}

// ContinueOnFailure lets downstream steps run even if this one fails.
func (b *StepBuilder) ContinueOnFailure() *StepBuilder {
	b.step.ContinueOnFailure = true
	return b
}

// Build returns the constructed step.
func (b *StepBuilder) Build() Step {
	return b.step
}
