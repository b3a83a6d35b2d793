// Package memstore implements record.Store in memory. It backs tests and
// local development; records are deep-copied on the way in and out so no
// caller can alias stored state.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/jacentio/espalier/record"
)

type stored struct {
	rec  *record.Record
	wire map[string]any
}

// Store is a mutex-guarded in-memory record store.
type Store struct {
	mu    sync.RWMutex
	items map[string]stored
	convs map[string]*record.Converter
}

// New creates an empty store.
func New() *Store {
	return &Store{
		items: make(map[string]stored),
		convs: make(map[string]*record.Converter),
	}
}

func (s *Store) converter(schema *record.Schema) *record.Converter {
	conv, ok := s.convs[schema.Name()]
	if !ok {
		conv = record.NewConverter(schema)
		s.convs[schema.Name()] = conv
	}
	return conv
}

// Put stores a deep copy of the record, allocating a uuid identifier when
// the record has no identity or a pending one.
func (s *Store) Put(ctx context.Context, rec *record.Record) (record.Identity, error) {
	if err := ctx.Err(); err != nil {
		return record.Identity{}, err
	}
	id := identityFor(rec)
	cp := rec.Clone()
	if err := cp.Bind(id); err != nil {
		return record.Identity{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	wire, err := s.converter(rec.Schema()).EncodeValues(cp, false)
	if err != nil {
		return record.Identity{}, err
	}
	s.items[id.Path()] = stored{rec: cp, wire: wire}
	return id, nil
}

func identityFor(rec *record.Record) record.Identity {
	key := rec.Key()
	switch {
	case key == nil:
		return record.NewIdentity(rec.Schema().Name(), uuid.NewString())
	case key.Complete():
		return *key
	case key.Parent() != nil:
		return record.NewChildIdentity(*key.Parent(), key.Kind(), uuid.NewString())
	default:
		return record.NewIdentity(key.Kind(), uuid.NewString())
	}
}

// Get returns a deep copy of the record at the identity, or
// record.ErrNotFound.
func (s *Store) Get(ctx context.Context, id record.Identity) (*record.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id.Path()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", record.ErrNotFound, id.Path())
	}
	return item.rec.Clone(), nil
}

// Delete removes the record at the identity. Absent records delete cleanly.
func (s *Store) Delete(ctx context.Context, id record.Identity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, id.Path())
	return nil
}

// Query matches records of the schema against the query's wire-value
// filters and ancestor restriction. Results come back in path order.
func (s *Store) Query(ctx context.Context, schema *record.Schema, q record.Query) (record.Iterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ancestorPrefix string
	if q.Ancestor != nil {
		ancestorPrefix = q.Ancestor.Path() + "/"
	}

	paths := make([]string, 0, len(s.items))
	for path := range s.items {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	var out []*record.Record
	for _, path := range paths {
		item := s.items[path]
		key := item.rec.Key()
		if key.Kind() != schema.Name() {
			continue
		}
		if ancestorPrefix != "" && !strings.HasPrefix(path, ancestorPrefix) {
			continue
		}
		if !matches(item.wire, q.Filters) {
			continue
		}
		if q.KeysOnly {
			skeleton := record.NewRecord(item.rec.Schema())
			if err := skeleton.Bind(*key); err != nil {
				return nil, err
			}
			out = append(out, skeleton)
		} else {
			out = append(out, item.rec.Clone())
		}
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return &sliceIterator{recs: out}, nil
}

func matches(wire, filters map[string]any) bool {
	for name, want := range filters {
		if !equalWire(wire[name], want) {
			return false
		}
	}
	return true
}

// equalWire compares two wire values, tolerating the int64/float64 split
// JSON decoding introduces.
func equalWire(a, b any) bool {
	if af, aok := asFloat(a); aok {
		bf, bok := asFloat(b)
		return bok && af == bf
	}
	return a == b
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

type sliceIterator struct {
	recs []*record.Record
	pos  int
}

func (it *sliceIterator) Next() (*record.Record, error) {
	if it.pos >= len(it.recs) {
		return nil, record.ErrDone
	}
	rec := it.recs[it.pos]
	it.pos++
	return rec, nil
}
