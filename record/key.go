package record

import (
	"encoding/base64"
	"fmt"
)

// Key tokens are the opaque wire form of an Identity: the identity path in
// url-safe base64 without padding. Callers must not rely on any structure
// inside a token; decode(encode(x)) == x holds for every complete identity.

// EncodeKey serializes a complete identity into an opaque token. It returns
// the empty string for a zero or incomplete identity, which has no portable
// form until the store allocates its id.
func EncodeKey(id Identity) string {
	if !id.Complete() {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString([]byte(id.Path()))
}

// DecodeKey deserializes a key token, returning nil for empty, malformed or
// incomplete input. Use DecodeKeyStrict when absence or corruption must be
// surfaced as an error.
func DecodeKey(tok string) *Identity {
	id, err := DecodeKeyStrict(tok)
	if err != nil {
		return nil
	}
	return id
}

// DecodeKeyStrict deserializes a key token. It returns ErrNotAKey for empty,
// malformed or incomplete input.
func DecodeKeyStrict(tok string) (*Identity, error) {
	if tok == "" {
		return nil, fmt.Errorf("%w: empty token", ErrNotAKey)
	}
	raw, err := base64.RawURLEncoding.DecodeString(tok)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrNotAKey, tok)
	}
	id, err := ParsePath(string(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrNotAKey, tok)
	}
	if !id.Complete() {
		return nil, fmt.Errorf("%w: %q has a pending id", ErrNotAKey, tok)
	}
	return &id, nil
}
