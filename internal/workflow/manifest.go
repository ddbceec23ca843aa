package workflow

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Manifest is the canonical wire representation of a validated workflow, the
// stable contract consumed by the execution service. Build one only from a
// model that Validate reported clean; ownership of the data transfers to the
// caller once built.
type Manifest struct {
	Name        string           `json:"name" yaml:"name"`
	Description string           `json:"description,omitempty" yaml:"description,omitempty"`
	Params      map[string]Param `json:"params,omitempty" yaml:"params,omitempty"`
	Runner      string           `json:"runner,omitempty" yaml:"runner,omitempty"`
	Steps       []ManifestStep   `json:"steps" yaml:"steps"`
}

// ManifestStep mirrors Step with wire guarantees: depends is always a list,
// never null.
type ManifestStep struct {
	Name              string         `json:"name" yaml:"name"`
	Executor          Executor       `json:"executor" yaml:"executor"`
	Depends           []string       `json:"depends" yaml:"depends"`
	Output            string         `json:"output,omitempty" yaml:"output,omitempty"`
	Retry             *RetryPolicy   `json:"retry,omitempty" yaml:"retry,omitempty"`
	Preconditions     []Precondition `json:"preconditions,omitempty" yaml:"preconditions,omitempty"`
	ContinueOnFailure bool           `json:"continue_on_failure,omitempty" yaml:"continue_on_failure,omitempty"`
}

// BuildManifest converts a validated model into its canonical manifest. It is
// a pure mapping: the only failure path is an invariant breach (a model that
// skipped validation), reported as ErrInternal and treated by callers as a
// programmer error rather than user-facing feedback.
func BuildManifest(wf *Workflow) (*Manifest, error) {
	if wf == nil {
		return nil, fmt.Errorf("%w: nil workflow", ErrInternal)
	}
	if wf.Name == "" || len(wf.Steps) == 0 {
		return nil, fmt.Errorf("%w: workflow %q failed shape checks", ErrInternal, wf.Name)
	}

	m := &Manifest{
		Name:        wf.Name,
		Description: wf.Description,
		Runner:      wf.Runner,
		Steps:       make([]ManifestStep, 0, len(wf.Steps)),
	}
	if len(wf.Params) > 0 {
		m.Params = make(map[string]Param, len(wf.Params))
		for name, p := range wf.Params {
			m.Params[name] = p
		}
	}

	for i, step := range wf.Steps {
		if err := step.Executor.checkWired(); err != nil {
			return nil, fmt.Errorf("%w: step %d (%q): %v", ErrInternal, i, step.Name, err)
		}
		depends := make([]string, len(step.Depends))
		copy(depends, step.Depends)

		var retry *RetryPolicy
		if step.Retry != nil {
			r := *step.Retry
			r.ExitCodes = append([]int(nil), step.Retry.ExitCodes...)
			retry = &r
		}

		m.Steps = append(m.Steps, ManifestStep{
			Name:              step.Name,
			Executor:          step.Executor,
			Depends:           depends,
			Output:            step.Output,
			Retry:             retry,
			Preconditions:     append([]Precondition(nil), step.Preconditions...),
			ContinueOnFailure: step.ContinueOnFailure,
		})
	}
	return m, nil
}

// JSON renders the manifest as indented JSON.
func (m *Manifest) JSON() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

// YAML renders the manifest as YAML.
func (m *Manifest) YAML() ([]byte, error) {
	return yaml.Marshal(m)
}

// StepNames returns the manifest step names in order.
func (m *Manifest) StepNames() []string {
	names := make([]string, len(m.Steps))
	for i, s := range m.Steps {
		names[i] = s.Name
	}
	return names
}
