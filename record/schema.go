package record

import (
	"fmt"
)

// Kind tags the value kind of a property. Conversion dispatches over this
// tag; custom kinds are supported by installing converter functions rather
// than by subclassing.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindFloat
	KindBool
	KindDate
	KindDateTime
	KindKey
	KindNested
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindDate:
		return "date"
	case KindDateTime:
		return "datetime"
	case KindKey:
		return "key"
	case KindNested:
		return "nested"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Property describes one field of a schema: its name, value kind, whether it
// is repeated, and the nested schema when Kind is KindNested.
type Property struct {
	Name     string
	Kind     Kind
	Repeated bool
	Nested   *Schema
}

// Schema is the ordered property metadata describing a record type.
type Schema struct {
	name     string
	props    []Property
	byName   map[string]int
	required []string
	unique   []string
}

// NewSchema builds a schema from ordered properties. Property names must be
// unique; nested properties must carry a nested schema and only nested
// properties may.
func NewSchema(name string, props ...Property) (*Schema, error) {
	if name == "" {
		return nil, fmt.Errorf("espalier: schema name must not be empty")
	}
	s := &Schema{
		name:   name,
		props:  append([]Property(nil), props...),
		byName: make(map[string]int, len(props)),
	}
	for i, p := range s.props {
		if p.Name == "" {
			return nil, fmt.Errorf("espalier: schema %q has a property with no name", name)
		}
		if _, dup := s.byName[p.Name]; dup {
			return nil, fmt.Errorf("espalier: schema %q declares property %q twice", name, p.Name)
		}
		if p.Kind == KindNested && p.Nested == nil {
			return nil, fmt.Errorf("espalier: nested property %q of schema %q has no nested schema", p.Name, name)
		}
		if p.Kind != KindNested && p.Nested != nil {
			return nil, fmt.Errorf("espalier: property %q of schema %q carries a nested schema but is %s", p.Name, name, p.Kind)
		}
		s.byName[p.Name] = i
	}
	return s, nil
}

// MustSchema is NewSchema that panics on error. Intended for schemas built
// from literals at startup.
func MustSchema(name string, props ...Property) *Schema {
	s, err := NewSchema(name, props...)
	if err != nil {
		panic(err)
	}
	return s
}

// Name returns the schema's declared type name.
func (s *Schema) Name() string { return s.name }

// Properties returns the ordered property descriptors.
func (s *Schema) Properties() []Property { return s.props }

// Property resolves a descriptor by name.
func (s *Schema) Property(name string) (*Property, bool) {
	i, ok := s.byName[name]
	if !ok {
		return nil, false
	}
	return &s.props[i], true
}

// SetRequired declares properties that must be non-null at persist time.
// The check fires only when a record is persisted, never at construction.
func (s *Schema) SetRequired(names ...string) error {
	for _, n := range names {
		if _, ok := s.byName[n]; !ok {
			return fmt.Errorf("espalier: schema %q has no property %q to require", s.name, n)
		}
	}
	s.required = append([]string(nil), names...)
	return nil
}

// SetUnique declares the schema's single unique property group. Calling it
// again replaces the previous group; a schema never has more than one.
func (s *Schema) SetUnique(names ...string) error {
	for _, n := range names {
		if _, ok := s.byName[n]; !ok {
			return fmt.Errorf("espalier: schema %q has no property %q to make unique", s.name, n)
		}
	}
	s.unique = append([]string(nil), names...)
	return nil
}

// Required returns the declared required property names.
func (s *Schema) Required() []string { return s.required }

// Unique returns the declared unique property group, empty when none.
func (s *Schema) Unique() []string { return s.unique }
