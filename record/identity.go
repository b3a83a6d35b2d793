package record

import (
	"fmt"

	"github.com/jacentio/espalier/internal/keypath"
)

// PathElem is one (kind, id) step of an identity's ancestor chain.
type PathElem struct {
	Kind string
	ID   any
}

// Identity is the composite address of a persisted record: its kind, its id
// and the ordered chain of ancestors above it. An Identity is a value; once
// bound to a record at first persist it never changes.
//
// The ID is a string, an int64, or nil while the id is still pending
// allocation.
type Identity struct {
	elems []PathElem
}

// NewIdentity builds a root identity. A nil id marks the id as pending; the
// store allocates one at first persist.
func NewIdentity(kind string, id any) Identity {
	return Identity{elems: []PathElem{{Kind: kind, ID: normalizeID(id)}}}
}

// NewChildIdentity builds an identity below parent. The parent must be
// complete.
func NewChildIdentity(parent Identity, kind string, id any) Identity {
	elems := make([]PathElem, 0, len(parent.elems)+1)
	elems = append(elems, parent.elems...)
	elems = append(elems, PathElem{Kind: kind, ID: normalizeID(id)})
	return Identity{elems: elems}
}

// normalizeID collapses integer widths to int64 and leaves strings and nil
// alone. JSON numbers arrive as float64 and are accepted when integral.
func normalizeID(id any) any {
	switch v := id.(type) {
	case nil:
		return nil
	case string:
		return v
	case int64:
		return v
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case float64:
		if v == float64(int64(v)) {
			return int64(v)
		}
		return fmt.Sprint(v)
	default:
		return fmt.Sprint(v)
	}
}

// Zero reports whether the identity carries no path at all.
func (id Identity) Zero() bool { return len(id.elems) == 0 }

// Kind returns the kind of the identity's last element.
func (id Identity) Kind() string {
	if id.Zero() {
		return ""
	}
	return id.elems[len(id.elems)-1].Kind
}

// ID returns the id of the identity's last element, or nil while pending.
func (id Identity) ID() any {
	if id.Zero() {
		return nil
	}
	return id.elems[len(id.elems)-1].ID
}

// Complete reports whether the identity has an allocated id.
func (id Identity) Complete() bool { return !id.Zero() && id.ID() != nil }

// Parent returns the identity of the immediate ancestor, or nil for roots.
func (id Identity) Parent() *Identity {
	if len(id.elems) < 2 {
		return nil
	}
	parent := Identity{elems: append([]PathElem(nil), id.elems[:len(id.elems)-1]...)}
	return &parent
}

// Ancestors returns the ordered (kind, id) chain above this identity.
func (id Identity) Ancestors() []PathElem {
	if len(id.elems) < 2 {
		return nil
	}
	return append([]PathElem(nil), id.elems[:len(id.elems)-1]...)
}

// Equal reports whether two identities address the same record.
func (id Identity) Equal(other Identity) bool {
	if len(id.elems) != len(other.elems) {
		return false
	}
	for i, e := range id.elems {
		if e.Kind != other.elems[i].Kind || e.ID != other.elems[i].ID {
			return false
		}
	}
	return true
}

// Path returns the plaintext path form of the identity, e.g.
// "Person:s:ann/Pet:i:42". Store layers use it as a primary key; callers
// exchanging identities over the wire should use EncodeKey instead.
func (id Identity) Path() string {
	elems := make([]keypath.Elem, 0, len(id.elems))
	for _, e := range id.elems {
		elems = append(elems, keypath.Elem{Kind: e.Kind, ID: e.ID})
	}
	return keypath.Join(elems)
}

// ParsePath rebuilds an identity from its Path form.
func ParsePath(path string) (Identity, error) {
	elems, err := keypath.Parse(path)
	if err != nil {
		return Identity{}, err
	}
	pe := make([]PathElem, 0, len(elems))
	for _, e := range elems {
		pe = append(pe, PathElem{Kind: e.Kind, ID: e.ID})
	}
	return Identity{elems: pe}, nil
}

// String implements fmt.Stringer for diagnostics.
func (id Identity) String() string { return id.Path() }
