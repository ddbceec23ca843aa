package workflow

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// placeholderPattern matches {{name}} references inside executor fields, with
// an optional leading dot so template-style {{.name}} also resolves.
var placeholderPattern = regexp.MustCompile(`\{\{\s*\.?([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)

// CheckShape performs the purely structural model checks: a name exists and
// the step list is non-empty. Executor semantics belong to Validate.
func (wf *Workflow) CheckShape() []ValidationError {
	var errs []ValidationError
	if strings.TrimSpace(wf.Name) == "" {
		errs = append(errs, ValidationError{
			Path:    "workflow.name",
			Kind:    KindMissingField,
			Message: "workflow name is required",
		})
	}
	if len(wf.Steps) == 0 {
		errs = append(errs, ValidationError{
			Path:    "workflow.steps",
			Kind:    KindMissingField,
			Message: "workflow must have at least one step",
		})
	}
	return errs
}

// Validate checks a workflow model and returns every structural problem found,
// as an ordered list. Checks run in a fixed order (shape, executor fields,
// dependency resolution, cycle detection, parameter references) and within a
// check, errors appear in step-declaration order. The ordering is a contract:
// refinement requests are constructed from the rendered list and must be
// reproducible for an unmodified model. An empty result means valid.
func Validate(wf *Workflow) []ValidationError {
	errs := wf.CheckShape()
	errs = append(errs, checkUniqueNames(wf)...)
	errs = append(errs, checkParams(wf)...)
	errs = append(errs, checkExecutors(wf)...)
	errs = append(errs, checkDependencies(wf)...)
	errs = append(errs, checkCycles(wf)...)
	errs = append(errs, checkPlaceholders(wf)...)
	return errs
}

func checkUniqueNames(wf *Workflow) []ValidationError {
	var errs []ValidationError
	seen := make(map[string]bool, len(wf.Steps))
	for i, step := range wf.Steps {
		if step.Name == "" {
			continue // reported by checkExecutors
		}
		if seen[step.Name] {
			errs = append(errs, ValidationError{
				Path:    fmt.Sprintf("steps[%d].name", i),
				Kind:    KindMissingField,
				Message: fmt.Sprintf("duplicate step name %q", step.Name),
			})
			continue
		}
		seen[step.Name] = true
	}
	return errs
}

func checkParams(wf *Workflow) []ValidationError {
	var errs []ValidationError
	names := make([]string, 0, len(wf.Params))
	for name := range wf.Params {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		switch wf.Params[name].Default.(type) {
		case nil, string, bool, int, int64, float64:
		default:
			errs = append(errs, ValidationError{
				Path:    fmt.Sprintf("params.%s.default", name),
				Kind:    KindTypeMismatch,
				Message: fmt.Sprintf("default for parameter %q must be a scalar value", name),
			})
		}
	}
	return errs
}

// fieldRule names one required field of an executor variant and how to test
// for its presence.
type fieldRule struct {
	field   string
	present func(e Executor) bool
}

// requiredFields is the variant-keyed required-field table. Only the rules of
// the selected variant are enforced; fields of other variants never leak in.
var requiredFields = map[ExecutorType][]fieldRule{
	ExecutorShell: {
		{"command", func(e Executor) bool { return e.Shell != nil && e.Shell.Command != "" }},
	},
	ExecutorContainer: {
		{"image", func(e Executor) bool { return e.Container != nil && e.Container.Image != "" }},
	},
	ExecutorInlineAgent: {
		{"message", func(e Executor) bool { return e.Agent != nil && e.Agent.Message != "" }},
		{"runners", func(e Executor) bool { return e.Agent != nil && len(e.Agent.Runners) > 0 }},
	},
	ExecutorSubWorkflow: {
		{"workflow", func(e Executor) bool { return e.SubWorkflow != nil && e.SubWorkflow.Workflow != "" }},
	},
}

func checkExecutors(wf *Workflow) []ValidationError {
	var errs []ValidationError
	for i, step := range wf.Steps {
		if step.Name == "" {
			errs = append(errs, ValidationError{
				Path:    fmt.Sprintf("steps[%d].name", i),
				Kind:    KindMissingField,
				Message: fmt.Sprintf("step %d is missing a name", i+1),
			})
		}

		rules, known := requiredFields[step.Executor.Type]
		if !known {
			msg := fmt.Sprintf("unknown executor type %q", step.Executor.Type)
			if step.Executor.Type == "" {
				msg = "step has no executor"
			}
			errs = append(errs, ValidationError{
				Path:    fmt.Sprintf("steps[%d].executor.type", i),
				Kind:    KindUnsupportedExecutor,
				Message: msg,
			})
		} else {
			for _, rule := range rules {
				if !rule.present(step.Executor) {
					errs = append(errs, ValidationError{
						Path:    fmt.Sprintf("steps[%d].executor.%s", i, rule.field),
						Kind:    KindMissingField,
						Message: fmt.Sprintf("%s step %q missing %s", step.Executor.Type, step.Name, rule.field),
					})
				}
			}
		}

		if step.Retry != nil {
			if step.Retry.Limit < 1 {
				errs = append(errs, ValidationError{
					Path:    fmt.Sprintf("steps[%d].retry.limit", i),
					Kind:    KindTypeMismatch,
					Message: "retry limit must be at least 1",
				})
			}
			if step.Retry.IntervalSec < 0 {
				errs = append(errs, ValidationError{
					Path:    fmt.Sprintf("steps[%d].retry.interval_sec", i),
					Kind:    KindTypeMismatch,
					Message: "retry interval must not be negative",
				})
			}
		}

		for j, pre := range step.Preconditions {
			if pre.Condition == "" {
				errs = append(errs, ValidationError{
					Path:    fmt.Sprintf("steps[%d].preconditions[%d].condition", i, j),
					Kind:    KindMissingField,
					Message: fmt.Sprintf("precondition %d of step %q has no condition", j+1, step.Name),
				})
			}
		}
	}
	return errs
}

func checkDependencies(wf *Workflow) []ValidationError {
	var errs []ValidationError
	known := make(map[string]bool, len(wf.Steps))
	for _, step := range wf.Steps {
		known[step.Name] = true
	}
	for i, step := range wf.Steps {
		for _, dep := range step.Depends {
			if !known[dep] {
				errs = append(errs, ValidationError{
					Path:    fmt.Sprintf("steps[%d].depends", i),
					Kind:    KindUnknownDependency,
					Message: fmt.Sprintf("step %q depends on unknown step %q", step.Name, dep),
				})
			}
		}
	}
	return errs
}

// checkCycles runs a three-color depth-first traversal over the dependency
// graph. Steps are visited in declaration order and dependencies in declared
// order, so the reported cycles are deterministic. Every back-edge yields one
// CyclicDependency error naming the cycle's member steps.
func checkCycles(wf *Workflow) []ValidationError {
	const (
		white = iota
		gray
		black
	)

	index := make(map[string]int, len(wf.Steps)) // name -> declaration index
	for i, step := range wf.Steps {
		if _, dup := index[step.Name]; !dup {
			index[step.Name] = i
		}
	}
	// Edges only to steps that exist; unknown names were already reported.
	adj := make(map[string][]string, len(wf.Steps))
	for _, step := range wf.Steps {
		for _, dep := range step.Depends {
			if _, ok := index[dep]; ok {
				adj[step.Name] = append(adj[step.Name], dep)
			}
		}
	}

	color := make(map[string]int, len(wf.Steps))
	var stack []string
	var errs []ValidationError

	var visit func(name string)
	visit = func(name string) {
		color[name] = gray
		stack = append(stack, name)
		for _, dep := range adj[name] {
			switch color[dep] {
			case white:
				visit(dep)
			case gray:
				start := 0
				for k, s := range stack {
					if s == dep {
						start = k
						break
					}
				}
				members := append([]string(nil), stack[start:]...)
				errs = append(errs, ValidationError{
					Path:    fmt.Sprintf("steps[%d].depends", index[name]),
					Kind:    KindCyclicDependency,
					Message: fmt.Sprintf("dependency cycle: %s", strings.Join(append(members, dep), " -> ")),
				})
			}
		}
		stack = stack[:len(stack)-1]
		color[name] = black
	}

	for _, step := range wf.Steps {
		if color[step.Name] == white {
			visit(step.Name)
		}
	}
	return errs
}

// checkPlaceholders resolves every {{name}} reference inside executor fields
// and preconditions against the declared parameters plus the outputs of steps
// the referencing step (transitively) depends on.
func checkPlaceholders(wf *Workflow) []ValidationError {
	var errs []ValidationError

	outputs := make(map[string]string, len(wf.Steps)) // step name -> output name
	deps := make(map[string][]string, len(wf.Steps))
	for _, step := range wf.Steps {
		if step.Output != "" {
			outputs[step.Name] = step.Output
		}
		deps[step.Name] = step.Depends
	}

	// upstream collects output names reachable through the dependency graph,
	// tolerant of cycles (reported separately by checkCycles).
	upstream := func(name string) map[string]bool {
		visible := make(map[string]bool)
		visited := make(map[string]bool)
		var walk func(n string)
		walk = func(n string) {
			if visited[n] {
				return
			}
			visited[n] = true
			for _, d := range deps[n] {
				if out, ok := outputs[d]; ok {
					visible[out] = true
				}
				walk(d)
			}
		}
		walk(name)
		return visible
	}

	for i, step := range wf.Steps {
		visible := upstream(step.Name)
		fields := executorStringFields(step.Executor)
		for k := range fields {
			fields[k].path = "executor." + fields[k].path
		}
		for j, pre := range step.Preconditions {
			fields = append(fields,
				fieldText{path: fmt.Sprintf("preconditions[%d].condition", j), text: pre.Condition},
				fieldText{path: fmt.Sprintf("preconditions[%d].expected", j), text: pre.Expected},
			)
		}
		reported := make(map[string]bool)
		for _, f := range fields {
			for _, match := range placeholderPattern.FindAllStringSubmatch(f.text, -1) {
				ref := match[1]
				if _, declared := wf.Params[ref]; declared || visible[ref] || reported[ref] {
					continue
				}
				reported[ref] = true
				errs = append(errs, ValidationError{
					Path:    fmt.Sprintf("steps[%d].%s", i, f.path),
					Kind:    KindMissingField,
					Message: fmt.Sprintf("step %q references undeclared parameter %q", step.Name, ref),
				})
			}
		}
	}
	return errs
}

type fieldText struct {
	path string
	text string
}

func executorStringFields(e Executor) []fieldText {
	switch {
	case e.Shell != nil:
		return []fieldText{{"command", e.Shell.Command}}
	case e.Container != nil:
		fields := []fieldText{{"image", e.Container.Image}, {"command", e.Container.Command}, {"script", e.Container.Script}}
		return fields
	case e.Agent != nil:
		return []fieldText{{"message", e.Agent.Message}}
	case e.SubWorkflow != nil:
		fields := make([]fieldText, 0, len(e.SubWorkflow.Params))
		for _, v := range sortedValues(e.SubWorkflow.Params) {
			fields = append(fields, fieldText{"params", v})
		}
		return fields
	}
	return nil
}

func sortedValues(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	vals := make([]string, len(keys))
	for i, k := range keys {
		vals[i] = m[k]
	}
	return vals
}
