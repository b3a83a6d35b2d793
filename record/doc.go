// Package record converts between persisted typed records and plain
// JSON-like maps, in both directions, over declarative schemas.
//
// Espalier is designed for applications that shuttle hierarchical, typed
// data between a document store and external JSON payloads while keeping
// identity, required-property and uniqueness guarantees intact.
//
// # Key Features
//
//   - Declarative schemas with nested sub-schemas and repeated properties
//   - Bidirectional map conversion with per-kind override hooks
//   - Opaque, URL-safe key tokens encoding the full identity path
//   - Full updates and recursive partial updates (patch) from maps
//   - Required-property and unique-group checks at persist time
//   - Ancestor-kind validation for hierarchical placement
//
// # Core Types
//
// A [Schema] names a record kind and declares its properties; build one
// with [NewSchema] or [MustSchema]:
//
//	person := record.MustSchema("Person",
//	    record.Property{Name: "name", Kind: record.KindString},
//	    record.Property{Name: "birthday", Kind: record.KindDate},
//	    record.Property{Name: "address", Kind: record.KindNested, Nested: address},
//	)
//
// A [Record] holds typed values for one schema instance, plus its
// [Identity] once persisted. A [Manager] wires a schema to a [Store] and
// carries the lifecycle:
//
//	mgr := record.NewManager(person, store)
//	rec, err := mgr.CreateFromDict(payload, record.CreateOptions{})
//	id, err := mgr.Put(ctx, rec)
//
// # Stores
//
// [Store] is the persistence seam. The dynamo package implements it on
// DynamoDB; the memstore package implements it in memory for tests.
//
// # Errors
//
// The package defines domain-specific errors:
//
//   - [ErrNotFound] - no record at the identity
//   - [ErrInvalidValue] - unknown property or malformed input shape
//   - [ErrConversion] - a value failed per-kind conversion (see [ConversionError])
//   - [ErrNotAKey] - a token does not decode to a complete identity
//   - [ErrTypeMismatch] - a key token names a different record kind
//   - [ErrKeyMismatch] - payload and external key tokens disagree
//   - [ErrMissingRequired] - required properties unset at persist (see [MissingRequiredError])
//   - [ErrDuplicateEntry] - unique group collision (see [DuplicateEntryError])
package record
