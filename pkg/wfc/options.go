package wfc

import (
	"context"
	"time"
)

// Version information for the workflow compiler.
const (
	// Version is the current version of the workflow compiler.
	Version = "0.3.0"

	// MinGoVersion is the minimum required Go version.
	MinGoVersion = "1.25"
)

// DefaultOptions returns a new CompileOptions with default values.
func DefaultOptions() *CompileOptions {
	return &CompileOptions{}
}

// Option is a functional option for configuring compilation.
type Option func(*CompileOptions)

// WithEvalTimeout bounds each sandbox evaluation.
func WithEvalTimeout(d time.Duration) Option {
	return func(o *CompileOptions) {
		o.EvalTimeout = d
	}
}

// WithParams exposes values to builder source as the params table.
func WithParams(params map[string]any) Option {
	return func(o *CompileOptions) {
		o.Params = params
	}
}

// WithMaxRounds bounds refinement rounds when composing.
func WithMaxRounds(n int) Option {
	return func(o *CompileOptions) {
		o.MaxRounds = n
	}
}

// WithRefinementPolicy selects last_round or full_history refinement.
func WithRefinementPolicy(policy string) Option {
	return func(o *CompileOptions) {
		o.RefinementPolicy = policy
	}
}

// WithModel overrides the model used for composition.
func WithModel(model string) Option {
	return func(o *CompileOptions) {
		o.Model = model
	}
}

// WithMaxTokens caps the model response length.
func WithMaxTokens(n int) Option {
	return func(o *CompileOptions) {
		o.MaxTokens = n
	}
}

// WithAPIKey authenticates model requests.
func WithAPIKey(key string) Option {
	return func(o *CompileOptions) {
		o.APIKey = key
	}
}

// WithBaseURL points the model client at a different endpoint.
func WithBaseURL(url string) Option {
	return func(o *CompileOptions) {
		o.BaseURL = url
	}
}

// WithRequestTimeout bounds a whole Compose run.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *CompileOptions) {
		o.RequestTimeout = d
	}
}

// WithPlatform enables live runner and integration context.
func WithPlatform(url, apiKey string) Option {
	return func(o *CompileOptions) {
		o.PlatformURL = url
		o.PlatformAPIKey = apiKey
	}
}

// ApplyOptions applies functional options to CompileOptions.
func ApplyOptions(opts ...Option) *CompileOptions {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// CompileWith compiles builder source with functional options.
//
// Example:
//
//	result, err := wfc.CompileWith(source,
//	    wfc.WithEvalTimeout(10*time.Second),
//	    wfc.WithParams(map[string]any{"env": "prod"}),
//	)
func CompileWith(source string, opts ...Option) (*CompileResult, error) {
	return Compile(source, ApplyOptions(opts...))
}

// CompileFileWith compiles a workflow file with functional options.
func CompileFileWith(path string, opts ...Option) (*CompileResult, error) {
	return CompileFile(path, ApplyOptions(opts...))
}

// ComposeWith composes a workflow from a task with functional options.
//
// Example:
//
//	result, err := wfc.ComposeWith(ctx, "nightly database backup",
//	    wfc.WithMaxRounds(5),
//	    wfc.WithModel("gpt-4o"),
//	)
func ComposeWith(ctx context.Context, task string, opts ...Option) (*ComposeResult, error) {
	return Compose(ctx, task, ApplyOptions(opts...))
}
