package record

import "context"

// Query selects records of one schema. Filters match on equality against
// external (wire) values; Ancestor restricts results to records whose path
// descends from the given identity.
type Query struct {
	Filters    map[string]any
	Ancestor   *Identity
	KeysOnly   bool
	Consistent bool
	Limit      int
}

// Iterator walks a result set. Next returns ErrDone after the final record.
type Iterator interface {
	Next() (*Record, error)
}

// Store persists records. Implementations must be safe for concurrent use.
type Store interface {
	// Put writes the record, allocating an identity when the record has
	// none or a pending one, and returns the complete identity.
	Put(ctx context.Context, rec *Record) (Identity, error)

	// Get loads the record at the identity, or ErrNotFound.
	Get(ctx context.Context, id Identity) (*Record, error)

	// Delete removes the record at the identity. Deleting an absent
	// record is not an error.
	Delete(ctx context.Context, id Identity) error

	// Query returns an iterator over records of the schema matching q.
	Query(ctx context.Context, schema *Schema, q Query) (Iterator, error)
}
