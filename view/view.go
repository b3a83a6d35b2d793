// Package view translates between record managers and external payloads
// carrying identity metadata. A payload is the record's converted map plus
// four meta fields: the bare id, the parent's key token, the record's own
// key token, and the classname naming the record kind.
package view

import (
	"context"
	"errors"
	"fmt"

	"github.com/jacentio/espalier/record"
)

// Config names the meta fields a Translator reads and writes. Zero-value
// fields fall back to the defaults id, parent, key and classname.
type Config struct {
	IdentityField  string
	ParentField    string
	KeyField       string
	ClassnameField string
}

func (c *Config) applyDefaults() {
	if c.IdentityField == "" {
		c.IdentityField = "id"
	}
	if c.ParentField == "" {
		c.ParentField = "parent"
	}
	if c.KeyField == "" {
		c.KeyField = "key"
	}
	if c.ClassnameField == "" {
		c.ClassnameField = "classname"
	}
}

// Translator exposes one manager's records as external payloads.
type Translator struct {
	mgr *record.Manager
	cfg Config
}

// New creates a translator over a manager.
func New(mgr *record.Manager, cfg Config) *Translator {
	cfg.applyDefaults()
	return &Translator{mgr: mgr, cfg: cfg}
}

// Manager returns the underlying manager.
func (t *Translator) Manager() *record.Manager { return t.mgr }

type meta struct {
	id        any
	parentTok string
	hasParent bool
	keyTok    string
	hasKey    bool
}

// extract copies the payload minus the meta fields and validates the
// classname against the manager's schema.
func (t *Translator) extract(in map[string]any) (map[string]any, meta, error) {
	var md meta
	data := make(map[string]any, len(in))
	for name, value := range in {
		switch name {
		case t.cfg.IdentityField:
			md.id = value
		case t.cfg.ParentField:
			if value != nil {
				tok, ok := value.(string)
				if !ok {
					return nil, md, fmt.Errorf("%w: %q expects a key token, got %T", record.ErrInvalidValue, t.cfg.ParentField, value)
				}
				md.parentTok = tok
				md.hasParent = true
			}
		case t.cfg.KeyField:
			md.hasKey = true
			if value != nil {
				tok, ok := value.(string)
				if !ok {
					return nil, md, fmt.Errorf("%w: %q expects a key token, got %T", record.ErrInvalidValue, t.cfg.KeyField, value)
				}
				md.keyTok = tok
			}
		case t.cfg.ClassnameField:
			if value != nil {
				cn, ok := value.(string)
				if !ok || cn != t.mgr.Schema().Name() {
					return nil, md, fmt.Errorf("%w: classname %v does not match %q", record.ErrTypeMismatch, value, t.mgr.Schema().Name())
				}
			}
		default:
			data[name] = value
		}
	}
	return data, md, nil
}

// inject renders a persisted record as a payload, recomputing every meta
// field from the record's actual identity. Output is always the full
// representation; skipNull only affects how input payloads are read.
func (t *Translator) inject(rec *record.Record) (map[string]any, error) {
	out, err := t.mgr.Converter().EncodeValues(rec, false)
	if err != nil {
		return nil, err
	}
	key := rec.Key()
	if key != nil {
		out[t.cfg.IdentityField] = key.ID()
		out[t.cfg.KeyField] = record.EncodeKey(*key)
		if parent := key.Parent(); parent != nil {
			out[t.cfg.ParentField] = record.EncodeKey(*parent)
		} else {
			out[t.cfg.ParentField] = nil
		}
	} else {
		out[t.cfg.IdentityField] = nil
		out[t.cfg.KeyField] = nil
		out[t.cfg.ParentField] = nil
	}
	out[t.cfg.ClassnameField] = t.mgr.Schema().Name()
	return out, nil
}

// Create builds, persists and returns a new record from a payload. The
// payload may carry an id and a parent token but never a key field, since
// the key does not exist yet.
func (t *Translator) Create(ctx context.Context, in map[string]any, skipNull bool) (map[string]any, error) {
	if _, present := in[t.cfg.KeyField]; present {
		return nil, fmt.Errorf("%w: %q cannot be set on create", record.ErrInvalidValue, t.cfg.KeyField)
	}
	data, md, err := t.extract(in)
	if err != nil {
		return nil, err
	}
	opts := record.CreateOptions{ID: md.id, SkipNull: skipNull}
	if md.hasParent {
		parent, err := record.DecodeKeyStrict(md.parentTok)
		if err != nil {
			return nil, err
		}
		opts.Parent = parent
	}
	rec, err := t.mgr.CreateFromDict(data, opts)
	if err != nil {
		return nil, err
	}
	if _, err := t.mgr.Put(ctx, rec); err != nil {
		return nil, err
	}
	return t.inject(rec)
}

// resolveKey picks the record's key token from the payload and the
// external one. Both present must agree; neither present is an error.
func (t *Translator) resolveKey(md meta, externalTok string) (string, error) {
	switch {
	case md.hasKey && md.keyTok != "" && externalTok != "":
		if md.keyTok != externalTok {
			return "", &record.KeyMismatchError{PayloadKey: md.keyTok, ExternalKey: externalTok}
		}
		return externalTok, nil
	case externalTok != "":
		return externalTok, nil
	case md.hasKey && md.keyTok != "":
		return md.keyTok, nil
	}
	return "", fmt.Errorf("%w: no key token in payload or request", record.ErrInvalidValue)
}

// Update applies the payload as a full update to the record it addresses
// and persists the result. externalTok is the key token from the request
// path, or empty when the payload carries its own.
func (t *Translator) Update(ctx context.Context, in map[string]any, externalTok string, skipNull bool) (map[string]any, error) {
	return t.mutate(ctx, in, externalTok, skipNull, t.mgr.UpdateFromDict)
}

// Patch applies the payload as a partial update, merging nested maps into
// the current state, and persists the result.
func (t *Translator) Patch(ctx context.Context, in map[string]any, externalTok string, skipNull bool) (map[string]any, error) {
	return t.mutate(ctx, in, externalTok, skipNull, t.mgr.PatchFromDict)
}

func (t *Translator) mutate(
	ctx context.Context,
	in map[string]any,
	externalTok string,
	skipNull bool,
	apply func(context.Context, map[string]any, string, bool) (*record.Record, error),
) (map[string]any, error) {
	data, md, err := t.extract(in)
	if err != nil {
		return nil, err
	}
	tok, err := t.resolveKey(md, externalTok)
	if err != nil {
		return nil, err
	}
	rec, err := apply(ctx, data, tok, skipNull)
	if err != nil {
		return nil, err
	}
	if _, err := t.mgr.Put(ctx, rec); err != nil {
		return nil, err
	}
	return t.inject(rec)
}

// Get resolves a key token to a payload. Malformed tokens and absent
// records both yield (nil, nil); a token of another kind is
// record.ErrTypeMismatch.
func (t *Translator) Get(ctx context.Context, tok string) (map[string]any, error) {
	rec, err := t.mgr.GetByKey(ctx, tok)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	return t.inject(rec)
}

// Delete removes the record a key token names. Deleting an absent record
// succeeds; a malformed token or one of another kind is an error.
func (t *Translator) Delete(ctx context.Context, tok string) error {
	id, err := record.DecodeKeyStrict(tok)
	if err != nil {
		return err
	}
	if id.Kind() != t.mgr.Schema().Name() {
		return fmt.Errorf("%w: key %q refers to %q, not %q", record.ErrTypeMismatch, tok, id.Kind(), t.mgr.Schema().Name())
	}
	return t.mgr.Delete(ctx, *id)
}

// Query returns payloads for records matching the filters, optionally
// restricted to descendants of the record ancestorTok names. Filters match
// on external values.
func (t *Translator) Query(ctx context.Context, filters map[string]any, ancestorTok string) (*Rows, error) {
	q := record.Query{Filters: filters}
	if ancestorTok != "" {
		anc, err := record.DecodeKeyStrict(ancestorTok)
		if err != nil {
			return nil, err
		}
		q.Ancestor = anc
	}
	it, err := t.mgr.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	return &Rows{t: t, it: it}, nil
}

// Rows iterates over query results as payloads.
type Rows struct {
	t  *Translator
	it record.Iterator
}

// Next returns the next payload, or record.ErrDone after the last one.
func (r *Rows) Next() (map[string]any, error) {
	rec, err := r.it.Next()
	if err != nil {
		return nil, err
	}
	return r.t.inject(rec)
}

// All drains the iterator into a slice.
func (r *Rows) All() ([]map[string]any, error) {
	var out []map[string]any
	for {
		row, err := r.Next()
		if errors.Is(err, record.ErrDone) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
}
