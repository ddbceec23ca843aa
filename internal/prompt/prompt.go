// Package prompt renders the instructions sent to a generation capability.
// Rendering is pure: the same task and snapshot always produce the same
// prompt, so compilation transcripts are reproducible.
package prompt

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"

	"github.com/kubiyabot/workflow-compiler/internal/platform"
)

const systemPrompt = `You are a workflow compiler assistant. You translate task descriptions
into workflow definitions written in a small Lua DSL. Respond with Lua code
only, no prose and no code fences.

DSL reference:

  local wf = workflow("name")        -- exactly one workflow per answer
  wf.description("what it does")
  wf.param("env", { required = true })
  wf.param("window", { default = "1h" })
  wf.runner("runner-name")

  step("fetch").shell("command with {{env}} placeholders")
  step("build")
    .depends("fetch")
    .container({ image = "golang:1.25", command = "make", packages = { "git" } })
    .output("ARTIFACT")
  step("notify").agent({ message = "Summarize {{ARTIFACT}}", runners = { "agent-runner" } })
  step("sweep").subworkflow("cleanup", { env = "{{env}}" })
  step("flaky").retry({ limit = 2, interval_sec = 30 })
  step("gated").precondition("{{env}}", "prod")

  return wf

Rules:
- every step name is unique
- depends() may only name steps defined in the same workflow
- placeholders {{x}} must refer to a declared param or an upstream output
- prefer runners and integrations from the provided execution context`

const generationTmpl = `Task:
{{ .Task }}

Execution context:
{{- if .Runners }}
- runners: {{ join ", " .Runners }}
{{- else }}
- runners: none registered, omit runner() unless the task demands one
{{- end }}
{{- if .Integrations }}
- integrations: {{ join ", " .Integrations }}
{{- end }}
{{- if .Secrets }}
- secrets available: {{ join ", " .Secrets }}
{{- end }}

Write the workflow definition now.`

const refinementTmpl = `Task:
{{ .Task }}

Execution context:
{{- if .Runners }}
- runners: {{ join ", " .Runners }}
{{- else }}
- runners: none registered
{{- end }}
{{- if .Integrations }}
- integrations: {{ join ", " .Integrations }}
{{- end }}
{{- if .Secrets }}
- secrets available: {{ join ", " .Secrets }}
{{- end }}

{{ range $i, $a := .Attempts }}
Attempt {{ add $i 1 }}:
{{ $a.Source }}

Problems found in attempt {{ add $i 1 }}:
{{- range $a.Errors }}
- {{ . }}
{{- end }}
{{ end }}
Produce a corrected workflow definition. Fix every listed problem and keep
the parts that were already valid. Respond with Lua code only.`

// Attempt is one prior candidate and the problems it had.
type Attempt struct {
	Source string
	Errors []string
}

// Builder renders generation and refinement prompts.
type Builder struct {
	gen    *template.Template
	refine *template.Template
}

// NewBuilder parses the prompt templates.
func NewBuilder() (*Builder, error) {
	gen, err := template.New("generation").Funcs(sprig.FuncMap()).Parse(generationTmpl)
	if err != nil {
		return nil, fmt.Errorf("parse generation template: %w", err)
	}
	refine, err := template.New("refinement").Funcs(sprig.FuncMap()).Parse(refinementTmpl)
	if err != nil {
		return nil, fmt.Errorf("parse refinement template: %w", err)
	}
	return &Builder{gen: gen, refine: refine}, nil
}

// System returns the fixed system prompt with the DSL reference.
func (b *Builder) System() string {
	return systemPrompt
}

type promptData struct {
	Task         string
	Runners      []string
	Integrations []string
	Secrets      []string
	Attempts     []Attempt
}

func newPromptData(task string, snap *platform.Snapshot) promptData {
	d := promptData{Task: task}
	if snap == nil {
		return d
	}
	for _, r := range snap.Runners {
		label := r.Name
		if len(r.Capabilities) > 0 {
			label += " [" + strings.Join(r.Capabilities, "/") + "]"
		}
		d.Runners = append(d.Runners, label)
	}
	for _, in := range snap.Integrations {
		d.Integrations = append(d.Integrations, in.Name)
	}
	d.Secrets = snap.SecretsAvailable
	return d
}

// Generation renders the first-round prompt.
func (b *Builder) Generation(task string, snap *platform.Snapshot) (string, error) {
	var sb strings.Builder
	if err := b.gen.Execute(&sb, newPromptData(task, snap)); err != nil {
		return "", fmt.Errorf("render generation prompt: %w", err)
	}
	return sb.String(), nil
}

// Refinement renders a follow-up prompt from prior attempts and their
// problems. The caller decides how much history to include.
func (b *Builder) Refinement(task string, snap *platform.Snapshot, attempts []Attempt) (string, error) {
	if len(attempts) == 0 {
		return "", fmt.Errorf("refinement prompt needs at least one attempt")
	}
	data := newPromptData(task, snap)
	data.Attempts = attempts

	var sb strings.Builder
	if err := b.refine.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("render refinement prompt: %w", err)
	}
	return sb.String(), nil
}
