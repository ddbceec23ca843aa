package workflow

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInternal marks invariant violations that indicate a programming error,
// not a user-facing validation problem. Unreachable when validation ran first.
var ErrInternal = errors.New("internal invariant violation")

// ErrorKind is the machine-checkable classification of a ValidationError.
type ErrorKind string

const (
	KindMissingField        ErrorKind = "missing_field"
	KindTypeMismatch        ErrorKind = "type_mismatch"
	KindCyclicDependency    ErrorKind = "cyclic_dependency"
	KindUnknownDependency   ErrorKind = "unknown_dependency"
	KindUnsupportedExecutor ErrorKind = "unsupported_executor_variant"
)

// ValidationError describes one structural problem: the offending entity path,
// a human-readable message, and a machine-checkable kind. Validation collects
// these into ordered lists and never aborts on the first problem.
type ValidationError struct {
	Path    string    `json:"path"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s [%s]", e.Path, e.Message, e.Kind)
}

// RenderErrors formats an error list one line per error, preserving order.
// Refinement prompts are built from this rendering, so it must be stable for
// identical inputs.
func RenderErrors(errs []ValidationError) []string {
	lines := make([]string, len(errs))
	for i, e := range errs {
		lines[i] = e.Error()
	}
	return lines
}

// JoinErrors renders an error list into a single newline-separated string.
func JoinErrors(errs []ValidationError) string {
	return strings.Join(RenderErrors(errs), "\n")
}
