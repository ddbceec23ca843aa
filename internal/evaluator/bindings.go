package evaluator

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/kubiyabot/workflow-compiler/internal/workflow"
)

// binding collects the workflows a candidate declares. Handles are plain Lua
// tables whose fields close over the Go-side state, so both `h.shell(...)`
// and `h:shell(...)` call styles work.
type binding struct {
	workflows []*workflowState
	handles   map[*lua.LTable]*workflowState
}

type workflowState struct {
	wf      workflow.Workflow
	steps   []*stepState
	current *stepState
}

type stepState struct {
	step workflow.Step
}

func newBinding() *binding {
	return &binding{handles: make(map[*lua.LTable]*workflowState)}
}

func (b *binding) lastWorkflow() *workflowState {
	if len(b.workflows) == 0 {
		return nil
	}
	return b.workflows[len(b.workflows)-1]
}

func (b *binding) handleFor(tbl *lua.LTable) *workflowState {
	return b.handles[tbl]
}

func (ws *workflowState) build() *workflow.Workflow {
	wf := ws.wf
	wf.Steps = make([]workflow.Step, len(ws.steps))
	for i, st := range ws.steps {
		wf.Steps[i] = st.step
	}
	return &wf
}

// register installs the global constructors. workflow(name) opens a new
// workflow and returns its handle; step(name) adds a step to the most recent
// workflow and returns a chainable step handle.
func (b *binding) register(L *lua.LState) {
	L.SetGlobal("workflow", L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		ws := &workflowState{}
		ws.wf.Name = name
		b.workflows = append(b.workflows, ws)
		L.Push(b.newWorkflowHandle(L, ws))
		return 1
	}))

	L.SetGlobal("step", L.NewFunction(func(L *lua.LState) int {
		ws := b.lastWorkflow()
		if ws == nil {
			L.RaiseError("no workflow declared; call workflow(name) first")
			return 0
		}
		name := L.CheckString(1)
		L.Push(b.newStepHandle(L, ws.addStep(name)))
		return 1
	}))
}

func (ws *workflowState) addStep(name string) *stepState {
	st := &stepState{}
	st.step.Name = name
	ws.steps = append(ws.steps, st)
	ws.current = st
	return st
}

// argBase returns the index of the first real argument, skipping the handle
// itself when the candidate used colon call syntax.
func argBase(L *lua.LState, handle *lua.LTable) int {
	if L.GetTop() >= 1 && L.Get(1) == lua.LValue(handle) {
		return 1
	}
	return 0
}

func (b *binding) newWorkflowHandle(L *lua.LState, ws *workflowState) *lua.LTable {
	h := L.NewTable()
	b.handles[h] = ws

	method := func(name string, fn func(L *lua.LState, base int)) {
		h.RawSetString(name, L.NewFunction(func(L *lua.LState) int {
			fn(L, argBase(L, h))
			L.Push(h)
			return 1
		}))
	}

	method("description", func(L *lua.LState, base int) {
		ws.wf.Description = L.CheckString(base + 1)
	})
	method("runner", func(L *lua.LState, base int) {
		ws.wf.Runner = L.CheckString(base + 1)
	})
	method("param", func(L *lua.LState, base int) {
		name := L.CheckString(base + 1)
		p := workflow.Param{}
		if L.GetTop() > base+1 {
			opts := L.CheckTable(base + 2)
			p.Required = lua.LVAsBool(opts.RawGetString("required"))
			p.Default = luaToGo(opts.RawGetString("default"))
		}
		if ws.wf.Params == nil {
			ws.wf.Params = make(map[string]workflow.Param)
		}
		ws.wf.Params[name] = p
	})
	// step returns the new step handle instead of the workflow handle so
	// chains like wf.step("x").shell(...) dispatch on the step.
	h.RawSetString("step", L.NewFunction(func(L *lua.LState) int {
		base := argBase(L, h)
		L.Push(b.newStepHandle(L, ws.addStep(L.CheckString(base+1))))
		return 1
	}))

	return h
}

func (b *binding) newStepHandle(L *lua.LState, st *stepState) *lua.LTable {
	h := L.NewTable()

	method := func(name string, fn func(L *lua.LState, base int)) {
		h.RawSetString(name, L.NewFunction(func(L *lua.LState) int {
			fn(L, argBase(L, h))
			L.Push(h)
			return 1
		}))
	}

	method("shell", func(L *lua.LState, base int) {
		st.step.Executor = workflow.Executor{
			Type:  workflow.ExecutorShell,
			Shell: &workflow.ShellSpec{Command: L.CheckString(base + 1)},
		}
	})
	method("container", func(L *lua.LState, base int) {
		opts := L.CheckTable(base + 1)
		st.step.Executor = workflow.Executor{
			Type: workflow.ExecutorContainer,
			Container: &workflow.ContainerSpec{
				Image:    stringField(opts, "image"),
				Command:  stringField(opts, "command"),
				Script:   stringField(opts, "script"),
				Packages: stringsField(opts, "packages"),
			},
		}
	})
	method("agent", func(L *lua.LState, base int) {
		opts := L.CheckTable(base + 1)
		st.step.Executor = workflow.Executor{
			Type: workflow.ExecutorInlineAgent,
			Agent: &workflow.AgentSpec{
				Message: stringField(opts, "message"),
				Runners: stringsField(opts, "runners"),
			},
		}
	})
	method("subworkflow", func(L *lua.LState, base int) {
		spec := &workflow.SubWorkflowSpec{Workflow: L.CheckString(base + 1)}
		if L.GetTop() > base+1 {
			spec.Params = stringMap(L.CheckTable(base + 2))
		}
		st.step.Executor = workflow.Executor{
			Type:        workflow.ExecutorSubWorkflow,
			SubWorkflow: spec,
		}
	})
	method("depends", func(L *lua.LState, base int) {
		for i := base + 1; i <= L.GetTop(); i++ {
			st.step.Depends = append(st.step.Depends, L.CheckString(i))
		}
	})
	method("output", func(L *lua.LState, base int) {
		st.step.Output = L.CheckString(base + 1)
	})
	method("retry", func(L *lua.LState, base int) {
		opts := L.CheckTable(base + 1)
		st.step.Retry = &workflow.RetryPolicy{
			Limit:       intField(opts, "limit"),
			IntervalSec: intField(opts, "interval_sec"),
			ExitCodes:   intsField(opts, "exit_codes"),
		}
	})
	method("precondition", func(L *lua.LState, base int) {
		st.step.Preconditions = append(st.step.Preconditions, workflow.Precondition{
			Condition: L.CheckString(base + 1),
			Expected:  L.OptString(base+2, ""),
		})
	})
	method("continue_on_failure", func(L *lua.LState, base int) {
		st.step.ContinueOnFailure = true
	})

	return h
}

func stringField(tbl *lua.LTable, key string) string {
	if s, ok := tbl.RawGetString(key).(lua.LString); ok {
		return string(s)
	}
	return ""
}

func stringsField(tbl *lua.LTable, key string) []string {
	inner, ok := tbl.RawGetString(key).(*lua.LTable)
	if !ok {
		return nil
	}
	var out []string
	for i := 1; i <= inner.Len(); i++ {
		if s, ok := inner.RawGetInt(i).(lua.LString); ok {
			out = append(out, string(s))
		}
	}
	return out
}

func intField(tbl *lua.LTable, key string) int {
	if n, ok := tbl.RawGetString(key).(lua.LNumber); ok {
		return int(n)
	}
	return 0
}

func intsField(tbl *lua.LTable, key string) []int {
	inner, ok := tbl.RawGetString(key).(*lua.LTable)
	if !ok {
		return nil
	}
	var out []int
	for i := 1; i <= inner.Len(); i++ {
		if n, ok := inner.RawGetInt(i).(lua.LNumber); ok {
			out = append(out, int(n))
		}
	}
	return out
}

func stringMap(tbl *lua.LTable) map[string]string {
	out := make(map[string]string)
	tbl.ForEach(func(k, v lua.LValue) {
		ks, ok := k.(lua.LString)
		if !ok {
			return
		}
		out[string(ks)] = fmt.Sprintf("%v", v)
	})
	return out
}

func luaToGo(v lua.LValue) any {
	switch val := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(val)
	case lua.LNumber:
		f := float64(val)
		if f == float64(int(f)) {
			return int(f)
		}
		return f
	case lua.LString:
		return string(val)
	default:
		return v.String()
	}
}
