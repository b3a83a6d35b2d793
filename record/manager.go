package record

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Manager ties a schema, its converter and a store together and carries the
// record lifecycle: building records from external maps, applying full and
// partial updates, and enforcing required and uniqueness constraints at
// persist time.
type Manager struct {
	schema *Schema
	conv   *Converter
	store  Store
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithConverter replaces the default converter. The converter must be bound
// to the manager's schema.
func WithConverter(conv *Converter) ManagerOption {
	return func(m *Manager) { m.conv = conv }
}

// NewManager creates a manager for a schema backed by a store.
func NewManager(schema *Schema, store Store, opts ...ManagerOption) *Manager {
	m := &Manager{schema: schema, store: store}
	for _, opt := range opts {
		opt(m)
	}
	if m.conv == nil {
		m.conv = NewConverter(schema)
	}
	return m
}

// Schema returns the manager's schema.
func (m *Manager) Schema() *Schema { return m.schema }

// Converter returns the manager's converter.
func (m *Manager) Converter() *Converter { return m.conv }

// CreateOptions carries the optional caller-chosen id and parent for
// CreateFromDict.
type CreateOptions struct {
	// ID is the caller-chosen identifier, or nil to let the store
	// allocate one at persist time.
	ID any

	// Parent places the new record under an existing identity. It must
	// be complete when set.
	Parent *Identity

	// SkipNull drops null entries from the input instead of clearing
	// the matching properties.
	SkipNull bool
}

// CreateFromDict builds a new unpersisted record from an external map. When
// an id or parent is given the record gets a pending identity; otherwise it
// stays keyless until Put.
func (m *Manager) CreateFromDict(in map[string]any, opts CreateOptions) (*Record, error) {
	values, err := m.conv.DecodeValues(in, opts.SkipNull)
	if err != nil {
		return nil, err
	}
	rec := NewRecord(m.schema)
	if err := rec.Populate(values); err != nil {
		return nil, err
	}
	if opts.ID != nil || opts.Parent != nil {
		var id Identity
		if opts.Parent != nil {
			if !opts.Parent.Complete() {
				return nil, fmt.Errorf("%w: parent identity %q is incomplete", ErrInvalidValue, opts.Parent.Path())
			}
			id = NewChildIdentity(*opts.Parent, m.schema.Name(), opts.ID)
		} else {
			id = NewIdentity(m.schema.Name(), opts.ID)
		}
		if err := rec.SetPendingKey(id); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// Update applies an external map as a full update: every key present in the
// map is decoded and set, null clearing the property unless skipNull; keys
// absent from the map keep their current values.
func (m *Manager) Update(rec *Record, in map[string]any, skipNull bool) error {
	values, err := m.conv.DecodeValues(in, skipNull)
	if err != nil {
		return err
	}
	return rec.Populate(values)
}

// Patch applies an external map as a partial update. It differs from Update
// only for nested properties: a map value merges into the current nested
// state key by key instead of replacing it wholesale, recursively, so
// nested siblings absent from the patch survive.
func (m *Manager) Patch(rec *Record, in map[string]any, skipNull bool) error {
	current, err := m.conv.EncodeValues(rec, false)
	if err != nil {
		return err
	}
	return m.Update(rec, mergePatch(current, in), skipNull)
}

// mergePatch resolves a patch against the current external state. The
// result holds exactly the patch's top-level keys, since Update leaves the
// rest untouched. A map value merges into the current map at the same key
// so nested siblings survive the wholesale nested replace; everything else
// (null included) overwrites.
func mergePatch(current, patch map[string]any) map[string]any {
	out := make(map[string]any, len(patch))
	for name, value := range patch {
		pm, patchIsMap := value.(map[string]any)
		cm, currentIsMap := current[name].(map[string]any)
		if patchIsMap && currentIsMap {
			out[name] = mergeNested(cm, pm)
			continue
		}
		out[name] = value
	}
	return out
}

// mergeNested overlays a patch map onto the current map, recursively where
// both sides hold maps.
func mergeNested(current, patch map[string]any) map[string]any {
	out := make(map[string]any, len(current)+len(patch))
	for name, value := range current {
		out[name] = value
	}
	for name, value := range patch {
		pm, patchIsMap := value.(map[string]any)
		cm, currentIsMap := out[name].(map[string]any)
		if patchIsMap && currentIsMap {
			out[name] = mergeNested(cm, pm)
			continue
		}
		out[name] = value
	}
	return out
}

// Put persists the record after checking required properties and the
// uniqueness constraint, and binds the identity the store returns.
func (m *Manager) Put(ctx context.Context, rec *Record) (Identity, error) {
	if err := m.CheckRequired(rec); err != nil {
		return Identity{}, err
	}
	if err := m.CheckUnique(ctx, rec); err != nil {
		return Identity{}, err
	}
	id, err := m.store.Put(ctx, rec)
	if err != nil {
		return Identity{}, err
	}
	if !rec.Persisted() {
		if err := rec.Bind(id); err != nil {
			return Identity{}, err
		}
	}
	return id, nil
}

// Get loads the record at the identity, or ErrNotFound.
func (m *Manager) Get(ctx context.Context, id Identity) (*Record, error) {
	return m.store.Get(ctx, id)
}

// GetByKey resolves an opaque key token to a record. A malformed token and
// an absent record both yield (nil, nil); a token of a different schema is
// ErrTypeMismatch.
func (m *Manager) GetByKey(ctx context.Context, tok string) (*Record, error) {
	id := DecodeKey(tok)
	if id == nil {
		return nil, nil
	}
	if id.Kind() != m.schema.Name() {
		return nil, fmt.Errorf("%w: key %q refers to %q, not %q", ErrTypeMismatch, tok, id.Kind(), m.schema.Name())
	}
	rec, err := m.store.Get(ctx, *id)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// UpdateFromDict loads the record the key token names and applies in as a
// full update. The record is returned unpersisted so the caller can run
// further checks before Put.
func (m *Manager) UpdateFromDict(ctx context.Context, in map[string]any, tok string, skipNull bool) (*Record, error) {
	rec, err := m.loadForMutation(ctx, tok)
	if err != nil {
		return nil, err
	}
	if err := m.Update(rec, in, skipNull); err != nil {
		return nil, err
	}
	return rec, nil
}

// PatchFromDict loads the record the key token names and applies in as a
// partial update, without persisting.
func (m *Manager) PatchFromDict(ctx context.Context, in map[string]any, tok string, skipNull bool) (*Record, error) {
	rec, err := m.loadForMutation(ctx, tok)
	if err != nil {
		return nil, err
	}
	if err := m.Patch(rec, in, skipNull); err != nil {
		return nil, err
	}
	return rec, nil
}

func (m *Manager) loadForMutation(ctx context.Context, tok string) (*Record, error) {
	id, err := DecodeKeyStrict(tok)
	if err != nil {
		return nil, err
	}
	if id.Kind() != m.schema.Name() {
		return nil, fmt.Errorf("%w: key %q refers to %q, not %q", ErrTypeMismatch, tok, id.Kind(), m.schema.Name())
	}
	return m.store.Get(ctx, *id)
}

// Delete removes the record at the identity. Absent records delete cleanly.
func (m *Manager) Delete(ctx context.Context, id Identity) error {
	return m.store.Delete(ctx, id)
}

// Query runs a query against the manager's schema.
func (m *Manager) Query(ctx context.Context, q Query) (Iterator, error) {
	return m.store.Query(ctx, m.schema, q)
}

// CheckRequired reports every required property the record leaves unset in
// a single *MissingRequiredError.
func (m *Manager) CheckRequired(rec *Record) error {
	var missing []string
	for _, name := range m.schema.Required() {
		if rec.Get(name) == nil {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return &MissingRequiredError{Props: missing}
	}
	return nil
}

// CheckUnique verifies no other persisted record of the schema carries the
// same values for the unique property group. The check is skipped when the
// schema has no group or any grouped value is unset. It runs a keys-only
// consistent query, so it is advisory under concurrent writers; stores may
// harden it transactionally.
func (m *Manager) CheckUnique(ctx context.Context, rec *Record) error {
	group := m.schema.Unique()
	if len(group) == 0 {
		return nil
	}
	filters := make(map[string]any, len(group))
	var fields []FieldValue
	for _, name := range group {
		value := rec.Get(name)
		if value == nil {
			return nil
		}
		prop, _ := m.schema.Property(name)
		wire, err := m.conv.encodeProperty(prop, value, false)
		if err != nil {
			return err
		}
		filters[name] = wire
		fields = append(fields, FieldValue{Name: name, Value: fmt.Sprint(wire)})
	}
	it, err := m.store.Query(ctx, m.schema, Query{
		Filters:    filters,
		KeysOnly:   true,
		Consistent: true,
	})
	if err != nil {
		return err
	}
	// On first persist any match is a duplicate; an update only conflicts
	// with records other than itself.
	self := rec.Key()
	exemptSelf := rec.Persisted()
	for {
		found, err := it.Next()
		if errors.Is(err, ErrDone) {
			return nil
		}
		if err != nil {
			return err
		}
		other := found.Key()
		if exemptSelf && self != nil && other != nil && self.Equal(*other) {
			continue
		}
		return &DuplicateEntryError{Kind: m.schema.Name(), Fields: fields}
	}
}

// CheckAncestorKind verifies the record's immediate parent is of one of the
// given kinds. Records without a key pass; a keyed record without a parent,
// or with a parent of another kind, fails with ErrInvalidValue.
func (m *Manager) CheckAncestorKind(rec *Record, kinds ...string) error {
	key := rec.Key()
	if key == nil {
		return nil
	}
	parent := key.Parent()
	if parent == nil {
		return fmt.Errorf("%w: %q record has no parent, expected one of %s", ErrInvalidValue, m.schema.Name(), strings.Join(kinds, ", "))
	}
	for _, kind := range kinds {
		if parent.Kind() == kind {
			return nil
		}
	}
	return fmt.Errorf("%w: %q record has parent kind %q, expected one of %s", ErrInvalidValue, m.schema.Name(), parent.Kind(), strings.Join(kinds, ", "))
}
