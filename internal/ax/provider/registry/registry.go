// Package registry is the closed provider registry (design note
// SC-SEC-002): a compile-time map from {kind, name} to a constructor,
// never a dynamic config-supplied path. Config selects among registered
// names; it can never introduce a new one.
package registry

import "fmt"

// Kind is the closed set of provider categories.
type Kind string

const (
	KindLLM     Kind = "llm"
	KindSandbox Kind = "sandbox"
	KindChannel Kind = "channel"
	KindSearch  Kind = "search"
)

// Constructor builds a provider instance of unspecified concrete type; one
// registry entry per (kind, name), cast by the caller who knows what kind
// it asked for.
type Constructor func() (interface{}, error)

// Registry is a closed kind→name→Constructor table built entirely at
// init() time by provider implementation packages calling Register;
// configuration never adds entries.
type Registry struct {
	entries map[Kind]map[string]Constructor
}

// global is the process-wide registry populated by each provider
// implementation's init() function.
var global = &Registry{entries: make(map[Kind]map[string]Constructor)}

// Register adds a constructor for (kind, name). Intended to be called only
// from provider implementation package init() functions — never from
// config loading or request handling.
func Register(kind Kind, name string, ctor Constructor) {
	if global.entries[kind] == nil {
		global.entries[kind] = make(map[string]Constructor)
	}
	if _, exists := global.entries[kind][name]; exists {
		panic(fmt.Sprintf("registry: duplicate registration for %s/%s", kind, name))
	}
	global.entries[kind][name] = ctor
}

// Build constructs the named provider of kind, failing if name was never
// registered. This is the only way a provider instance comes into being —
// there is no path from arbitrary config strings to arbitrary code.
func Build(kind Kind, name string) (interface{}, error) {
	names, ok := global.entries[kind]
	if !ok {
		return nil, fmt.Errorf("registry: no providers registered for kind %q", kind)
	}
	ctor, ok := names[name]
	if !ok {
		return nil, fmt.Errorf("registry: %q is not a known %s provider", name, kind)
	}
	return ctor()
}

// Names returns the registered provider names for kind, for config
// validation and diagnostics.
func Names(kind Kind) []string {
	names := make([]string, 0, len(global.entries[kind]))
	for n := range global.entries[kind] {
		names = append(names, n)
	}
	return names
}

// IsKnown reports whether name is registered under kind.
func IsKnown(kind Kind, name string) bool {
	_, ok := global.entries[kind][name]
	return ok
}
