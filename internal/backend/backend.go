// Package backend defines the generation capabilities the compiler can ask
// for candidate workflow definitions. Implementations cover the OpenAI API
// and local command wrappers, and the registry allows new providers to be
// added without touching the orchestration loop.
package backend

import (
	"context"
	"sort"
)

// Request carries one generation call.
type Request struct {
	// System is the instruction prompt. Empty means provider default.
	System string

	// Prompt is the user-turn content.
	Prompt string

	// Model selects the provider model. Empty means the generator default.
	Model string

	// MaxTokens limits the response length. Zero means provider default.
	MaxTokens int

	// OnDelta, when set, receives response fragments as they arrive. The
	// full response is still returned from Generate. Implementations that
	// cannot stream call it once with the whole response.
	OnDelta func(chunk string)
}

// Generator is the interface for generation capabilities.
type Generator interface {
	// Generate produces a candidate definition for the request.
	Generate(ctx context.Context, req Request) (string, error)

	// Name returns a stable identifier for logs and transcripts.
	Name() string

	// Close releases any resources held by the generator.
	Close() error
}

// Registry manages available generators and allows lookup by name.
type Registry struct {
	generators  map[string]Generator
	defaultName string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{generators: make(map[string]Generator)}
}

// Register adds a generator. The first registration becomes the default.
func (r *Registry) Register(name string, g Generator) {
	r.generators[name] = g
	if r.defaultName == "" {
		r.defaultName = name
	}
}

// SetDefault sets which generator to use when none is specified.
func (r *Registry) SetDefault(name string) {
	r.defaultName = name
}

// Get returns a generator by name, or the default if name is empty.
func (r *Registry) Get(name string) (Generator, bool) {
	if name == "" {
		name = r.defaultName
	}
	g, ok := r.generators[name]
	return g, ok
}

// Names returns the registered generator names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.generators))
	for name := range r.generators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close releases all generator resources.
func (r *Registry) Close() error {
	for _, g := range r.generators {
		if err := g.Close(); err != nil {
			return err
		}
	}
	return nil
}
