package record

import (
	"fmt"
	"time"
)

// Record is a schema-bound instance: a set of typed field values plus, once
// persisted, an Identity. Nested record values are exclusively owned by
// their parent; setting one stores a deep copy so no two records ever share
// a nested value.
type Record struct {
	schema    *Schema
	values    map[string]any
	key       *Identity
	persisted bool
}

// NewRecord creates a bare, unpersisted record of the given schema.
func NewRecord(schema *Schema) *Record {
	return &Record{
		schema: schema,
		values: make(map[string]any),
	}
}

// Schema returns the record's schema.
func (r *Record) Schema() *Schema { return r.schema }

// Key returns the record's identity: nil before any identity information
// exists, a pending identity after creation with an id or parent, and the
// assigned identity once persisted.
func (r *Record) Key() *Identity {
	if r.key == nil {
		return nil
	}
	k := *r.key
	return &k
}

// Persisted reports whether the record has been stored and its identity
// assigned.
func (r *Record) Persisted() bool { return r.persisted }

// SetPendingKey records the identity requested for this record before its
// first persist. It fails on an already persisted record.
func (r *Record) SetPendingKey(id Identity) error {
	if r.persisted {
		return fmt.Errorf("%w: identity of %q is already assigned", ErrInvalidValue, r.schema.Name())
	}
	if id.Kind() != r.schema.Name() {
		return fmt.Errorf("%w: identity kind %q does not match schema %q", ErrInvalidValue, id.Kind(), r.schema.Name())
	}
	r.key = &id
	return nil
}

// Bind assigns the identity at first persist. Stores call it exactly once;
// a second call with a different identity is rejected so an assigned
// identity can never change.
func (r *Record) Bind(id Identity) error {
	if !id.Complete() {
		return fmt.Errorf("%w: cannot bind incomplete identity %q", ErrInvalidValue, id.Path())
	}
	if id.Kind() != r.schema.Name() {
		return fmt.Errorf("%w: identity kind %q does not match schema %q", ErrInvalidValue, id.Kind(), r.schema.Name())
	}
	if r.persisted {
		if !r.key.Equal(id) {
			return fmt.Errorf("%w: record %q is already bound to %q", ErrInvalidValue, r.schema.Name(), r.key.Path())
		}
		return nil
	}
	r.key = &id
	r.persisted = true
	return nil
}

// Get returns the current value of a property, nil when unset or unknown.
// Nested records and repeated values come back as copies; the record's own
// state can only change through Set and Populate.
func (r *Record) Get(name string) any {
	return copyValue(r.values[name])
}

// Set assigns a property value after checking it against the property's
// kind. Nested records are deep-copied on the way in.
func (r *Record) Set(name string, value any) error {
	prop, ok := r.schema.Property(name)
	if !ok {
		return fmt.Errorf("%w: %q is not a property of %q", ErrInvalidValue, name, r.schema.Name())
	}
	v, err := r.checkValue(prop, value)
	if err != nil {
		return err
	}
	r.values[name] = v
	return nil
}

// Populate assigns every entry of values via Set. Keys absent from the map
// are left untouched; a nil entry clears its field.
func (r *Record) Populate(values map[string]any) error {
	for name, value := range values {
		if err := r.Set(name, value); err != nil {
			return err
		}
	}
	return nil
}

// Clone deep-copies the record, including nested records and repeated
// values. The clone shares the schema and identity but no mutable state.
func (r *Record) Clone() *Record {
	out := &Record{
		schema:    r.schema,
		values:    make(map[string]any, len(r.values)),
		key:       r.key,
		persisted: r.persisted,
	}
	for name, value := range r.values {
		out.values[name] = copyValue(value)
	}
	return out
}

func (r *Record) checkValue(prop *Property, value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	if prop.Repeated {
		elems, ok := value.([]any)
		if !ok {
			return nil, fmt.Errorf("%w: repeated property %q expects a list, got %T", ErrInvalidValue, prop.Name, value)
		}
		out := make([]any, 0, len(elems))
		for _, e := range elems {
			v, err := r.checkScalar(prop, e)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	}
	return r.checkScalar(prop, value)
}

func (r *Record) checkScalar(prop *Property, value any) (any, error) {
	switch prop.Kind {
	case KindString:
		if v, ok := value.(string); ok {
			return v, nil
		}
	case KindInt:
		switch v := value.(type) {
		case int64:
			return v, nil
		case int:
			return int64(v), nil
		case int32:
			return int64(v), nil
		case float64:
			if v == float64(int64(v)) {
				return int64(v), nil
			}
		}
	case KindFloat:
		switch v := value.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		}
	case KindBool:
		if v, ok := value.(bool); ok {
			return v, nil
		}
	case KindDate, KindDateTime:
		if v, ok := value.(time.Time); ok {
			return v, nil
		}
	case KindKey:
		if v, ok := value.(*Identity); ok {
			k := *v
			return &k, nil
		}
		if v, ok := value.(Identity); ok {
			return &v, nil
		}
	case KindNested:
		nested, ok := value.(*Record)
		if !ok {
			return nil, fmt.Errorf("%w: nested property %q expects a record, got %T", ErrInvalidValue, prop.Name, value)
		}
		if nested.schema != prop.Nested {
			return nil, fmt.Errorf("%w: nested property %q expects a %q record, got %q", ErrInvalidValue, prop.Name, prop.Nested.Name(), nested.schema.Name())
		}
		return nested.Clone(), nil
	}
	return nil, fmt.Errorf("%w: property %q of kind %s cannot hold %T", ErrInvalidValue, prop.Name, prop.Kind, value)
}

func copyValue(value any) any {
	switch v := value.(type) {
	case *Record:
		return v.Clone()
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = copyValue(e)
		}
		return out
	case *Identity:
		k := *v
		return &k
	default:
		return v
	}
}
