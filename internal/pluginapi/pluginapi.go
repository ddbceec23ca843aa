// Package pluginapi defines the extension points an out-of-tree module can
// register at link time. The compiler never imports extension modules; an
// extension imports this package and calls RegisterGenerator from an init
// func, and a build-tag-gated file in the final binary blank-imports the
// extension. Keep this package free of dependencies beyond the backend
// contract so extensions stay decoupled.
package pluginapi

import (
	"sort"
	"sync"

	"github.com/kubiyabot/workflow-compiler/internal/backend"
)

// GeneratorFactory builds a generation backend. Factories read their own
// configuration (environment, files); the compiler only selects by name.
type GeneratorFactory func() (backend.Generator, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]GeneratorFactory)
)

// RegisterGenerator wires in a provider under the given name. Later
// registrations with the same name win, so tests can override.
func RegisterGenerator(name string, factory GeneratorFactory) {
	mu.Lock()
	defer mu.Unlock()
	factories[name] = factory
}

// Generator returns the factory registered under name.
func Generator(name string) (GeneratorFactory, bool) {
	mu.RLock()
	defer mu.RUnlock()
	f, ok := factories[name]
	return f, ok
}

// Providers lists the registered provider names, sorted.
func Providers() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
