// Package schema holds the static catalog of logical schema definitions and
// reconciles them against a tenant's CRM custom-object schemas.
package schema

import "sync"

// DataType enumerates the CRM custom-object field types.
type DataType string

const (
	TypeText    DataType = "TEXT"
	TypeNumber  DataType = "NUMBER"
	TypeDate    DataType = "DATE"
	TypeBoolean DataType = "BOOLEAN"
	TypeObject  DataType = "OBJECT"
	TypeArray   DataType = "ARRAY"
)

// Field describes one schema field.
type Field struct {
	Key         string
	Name        string
	DataType    DataType
	Required    bool
	Description string
}

// Definition describes one logical record type and its CRM schema shape.
// Definitions are registered once at startup and treated as immutable for
// the process lifetime.
type Definition struct {
	Key         string
	Name        string
	Description string
	Fields      []Field
}

// Registry is a key -> definition mapping. It is an injectable instance, not
// a package global, so tests can build isolated registries.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]Definition)}
}

// Register adds a definition. A duplicate key overwrites silently: last
// writer wins.
func (r *Registry) Register(def Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[def.Key] = def
}

// Get returns the definition for a key.
func (r *Registry) Get(key string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[key]
	return def, ok
}

// Has reports whether a key is registered.
func (r *Registry) Has(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.defs[key]
	return ok
}

// List returns all registered definitions in no particular order.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Definition, 0, len(r.defs))
	for _, def := range r.defs {
		out = append(out, def)
	}
	return out
}
