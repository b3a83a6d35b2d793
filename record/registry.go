package record

import "fmt"

// Registry holds the schemas a store can materialize records for, keyed by
// kind. Store implementations use it to rebuild a typed record from a
// persisted identity.
type Registry struct {
	byKind  map[string]*Schema
	ordered []*Schema
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byKind: make(map[string]*Schema)}
}

// Register adds a schema. Registering two schemas under the same kind is an
// error; register everything once during startup.
func (r *Registry) Register(s *Schema) error {
	if _, dup := r.byKind[s.Name()]; dup {
		return fmt.Errorf("espalier: schema %q is already registered", s.Name())
	}
	r.byKind[s.Name()] = s
	r.ordered = append(r.ordered, s)
	return nil
}

// MustRegister is Register that panics on error.
func (r *Registry) MustRegister(s *Schema) {
	if err := r.Register(s); err != nil {
		panic(err)
	}
}

// Schema resolves a schema by kind.
func (r *Registry) Schema(kind string) (*Schema, bool) {
	s, ok := r.byKind[kind]
	return s, ok
}

// Schemas returns all registered schemas in registration order.
func (r *Registry) Schemas() []*Schema {
	return append([]*Schema(nil), r.ordered...)
}
