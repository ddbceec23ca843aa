// Package evaluator executes candidate workflow definitions inside a
// restricted Lua interpreter. Candidates originate from an untrusted
// generation capability, so the scope exposes only the builder primitives and
// declared parameters: no file system, no network, no ambient process state.
// Every evaluation is bounded by a wall-clock budget independent of the
// caller's overall deadline.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/kubiyabot/workflow-compiler/internal/workflow"
)

// DefaultTimeout bounds a single candidate evaluation.
const DefaultTimeout = 5 * time.Second

// Kind classifies an evaluation failure.
type Kind string

const (
	KindSyntax          Kind = "syntax"
	KindUndefinedSymbol Kind = "undefined_symbol"
	KindTimeout         Kind = "timeout"
	KindNoWorkflow      Kind = "no_workflow"
	KindRuntime         Kind = "runtime"
)

// Error is a structured evaluation failure. It feeds the refinement loop the
// same way validation errors do.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("evaluation failed (%s): %s", e.Kind, e.Message)
}

// Evaluator produces a workflow model from candidate definition source.
type Evaluator interface {
	Evaluate(ctx context.Context, source string) (*workflow.Workflow, error)
}

// Options configures a Sandbox.
type Options struct {
	// Timeout is the wall-clock bound per evaluation. Zero means
	// DefaultTimeout.
	Timeout time.Duration

	// Params are the caller-declared parameter values exposed to candidates
	// as the read-only `params` table.
	Params map[string]any
}

// Sandbox evaluates candidates in-process. It holds no mutable state across
// evaluations; one Sandbox may serve concurrent calls.
type Sandbox struct {
	timeout time.Duration
	params  map[string]any
}

// New creates a sandbox evaluator.
func New(opts Options) *Sandbox {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Sandbox{timeout: timeout, params: opts.Params}
}

// Evaluate runs the candidate and extracts the workflow it declares. The
// result is the workflow value returned by the chunk when there is one,
// otherwise the last workflow declared during execution.
func (s *Sandbox) Evaluate(ctx context.Context, source string) (*workflow.Workflow, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()

	openSafeLibs(L)

	b := newBinding()
	b.register(L)
	pushParams(L, s.params)

	fn, err := L.LoadString(source)
	if err != nil {
		return nil, &Error{Kind: KindSyntax, Message: trimLuaError(err)}
	}

	evalCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	L.SetContext(evalCtx)

	L.Push(fn)
	if err := L.PCall(0, lua.MultRet, nil); err != nil {
		// Caller cancellation is not a candidate fault.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(evalCtx.Err(), context.DeadlineExceeded) {
			return nil, &Error{
				Kind:    KindTimeout,
				Message: fmt.Sprintf("candidate exceeded the %s evaluation budget", s.timeout),
			}
		}
		return nil, classifyRuntime(err)
	}

	// A returned workflow handle wins over declaration order.
	if L.GetTop() > 0 {
		if tbl, ok := L.Get(-1).(*lua.LTable); ok {
			if st := b.handleFor(tbl); st != nil {
				return st.build(), nil
			}
		}
	}

	last := b.lastWorkflow()
	if last == nil {
		return nil, &Error{Kind: KindNoWorkflow, Message: "candidate did not declare a workflow"}
	}
	return last.build(), nil
}

// openSafeLibs loads only side-effect-free standard libraries and removes the
// escape hatches the base library carries.
func openSafeLibs(L *lua.LState) {
	lua.OpenBase(L)
	L.SetGlobal("loadfile", lua.LNil)
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("load", lua.LNil)
	L.SetGlobal("loadstring", lua.LNil)
	L.SetGlobal("print", lua.LNil)
	L.SetGlobal("collectgarbage", lua.LNil)

	lua.OpenTable(L)
	lua.OpenString(L)

	lua.OpenMath(L)
	if tbl, ok := L.GetGlobal("math").(*lua.LTable); ok {
		L.SetField(tbl, "random", lua.LNil)
		L.SetField(tbl, "randomseed", lua.LNil)
	}
}

func pushParams(L *lua.LState, params map[string]any) {
	tbl := L.NewTable()
	for name, val := range params {
		L.SetField(tbl, name, goToLua(L, val))
	}
	L.SetGlobal("params", tbl)
}

func goToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	default:
		return lua.LString(fmt.Sprintf("%v", val))
	}
}

// classifyRuntime maps an interpreter fault to an evaluation error kind.
// Calling or indexing a nil value is how an undefined symbol surfaces in a
// dynamically scoped candidate; everything else is a generic runtime fault.
func classifyRuntime(err error) *Error {
	msg := trimLuaError(err)
	if strings.Contains(msg, "attempt to call") || strings.Contains(msg, "attempt to index") {
		return &Error{Kind: KindUndefinedSymbol, Message: msg}
	}
	return &Error{Kind: KindRuntime, Message: msg}
}

// trimLuaError keeps the first line of an interpreter error, dropping the
// stack traceback that follows it.
func trimLuaError(err error) string {
	msg := err.Error()
	if apiErr, ok := err.(*lua.ApiError); ok {
		msg = apiErr.Object.String()
	}
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	return strings.TrimSpace(msg)
}
