package record

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidValue is returned for a malformed property value or nested shape.
	ErrInvalidValue = errors.New("espalier: invalid property value")

	// ErrNotAKey is returned when a key token fails to decode or was required but absent.
	ErrNotAKey = errors.New("espalier: not a valid key token")

	// ErrTypeMismatch is returned when a looked-up record's schema differs from
	// the expected one, or an external classname field conflicts with the schema.
	ErrTypeMismatch = errors.New("espalier: record kind mismatch")

	// ErrKeyMismatch is returned when two supplied identifiers disagree.
	ErrKeyMismatch = errors.New("espalier: supplied key tokens disagree")

	// ErrNotFound is returned when an identity lookup required a result but found none.
	ErrNotFound = errors.New("espalier: record not found")

	// ErrMissingRequired is returned when required properties are unset at persist time.
	ErrMissingRequired = errors.New("espalier: required property not set")

	// ErrDuplicateEntry is returned when a unique property group is violated.
	ErrDuplicateEntry = errors.New("espalier: duplicate entry for unique property")

	// ErrConversion is returned when a property value conversion fails.
	ErrConversion = errors.New("espalier: property conversion failed")

	// ErrDone is returned by iterators when no more records are available.
	ErrDone = errors.New("espalier: no more records")
)

// ConversionError wraps a conversion-time failure with the offending key and
// value. The underlying cause is preserved and reachable via errors.Unwrap.
type ConversionError struct {
	Key   string
	Value any
	Err   error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("espalier: failed converting %v for property %q: %v", e.Value, e.Key, e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }

func (e *ConversionError) Is(target error) bool { return target == ErrConversion }

// MissingRequiredError lists every required property that is unset, not just
// the first one found.
type MissingRequiredError struct {
	Props []string
}

func (e *MissingRequiredError) Error() string {
	if len(e.Props) == 1 {
		return fmt.Sprintf("espalier: required property %q is not set", e.Props[0])
	}
	return fmt.Sprintf("espalier: required properties '%s' are not set", strings.Join(e.Props, "', '"))
}

func (e *MissingRequiredError) Is(target error) bool { return target == ErrMissingRequired }

// FieldValue names one offending field of a uniqueness violation.
type FieldValue struct {
	Name  string
	Value any
}

// DuplicateEntryError reports a unique property group violation, naming the
// offending field=value pairs.
type DuplicateEntryError struct {
	Kind   string
	Fields []FieldValue
}

func (e *DuplicateEntryError) Error() string {
	pairs := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		pairs = append(pairs, fmt.Sprintf("%s=%v", f.Name, f.Value))
	}
	return fmt.Sprintf("espalier: duplicated entry for %s: %s", e.Kind, strings.Join(pairs, ","))
}

func (e *DuplicateEntryError) Is(target error) bool { return target == ErrDuplicateEntry }

// KeyMismatchError reports disagreement between a key found in the payload
// and one supplied out of band (for example from a URL).
type KeyMismatchError struct {
	PayloadKey  string
	ExternalKey string
}

func (e *KeyMismatchError) Error() string {
	return fmt.Sprintf("espalier: key %q in the payload does not match the supplied key %q", e.PayloadKey, e.ExternalKey)
}

func (e *KeyMismatchError) Is(target error) bool { return target == ErrKeyMismatch }
