// Package keypath packs identity paths into the textual form shared by the
// key codec and the DynamoDB table layout.
package keypath

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Elem is one (kind, id) step of an identity path.
// ID is either a string, an int64, or nil for a pending (unallocated) id.
type Elem struct {
	Kind string
	ID   any
}

// Sep separates path elements. Kinds and string ids are percent-escaped so
// the separator never appears inside an element.
const Sep = "/"

// Join packs elements into a path string, e.g. "Person:s:ann/Pet:i:42".
// A pending id is encoded as the "p" tag with no value; only the last
// element of a path may be pending.
func Join(elems []Elem) string {
	parts := make([]string, 0, len(elems))
	for _, e := range elems {
		parts = append(parts, encodeElem(e))
	}
	return strings.Join(parts, Sep)
}

// Parse splits a packed path back into elements. It is strict: every
// element must carry a valid tag and a decodable id.
func Parse(path string) ([]Elem, error) {
	if path == "" {
		return nil, fmt.Errorf("keypath: empty path")
	}
	parts := strings.Split(path, Sep)
	elems := make([]Elem, 0, len(parts))
	for i, part := range parts {
		e, err := decodeElem(part)
		if err != nil {
			return nil, err
		}
		if e.ID == nil && i != len(parts)-1 {
			return nil, fmt.Errorf("keypath: pending id before end of path %q", path)
		}
		elems = append(elems, e)
	}
	return elems, nil
}

func encodeElem(e Elem) string {
	kind := url.PathEscape(e.Kind)
	switch id := e.ID.(type) {
	case nil:
		return kind + ":p:"
	case string:
		return kind + ":s:" + url.PathEscape(id)
	case int64:
		return kind + ":i:" + strconv.FormatInt(id, 10)
	case int:
		return kind + ":i:" + strconv.Itoa(id)
	default:
		// Unsupported id types are rejected at identity construction; this
		// keeps Join total for the types Identity can hold.
		return kind + ":s:" + url.PathEscape(fmt.Sprint(id))
	}
}

func decodeElem(part string) (Elem, error) {
	fields := strings.SplitN(part, ":", 3)
	if len(fields) != 3 {
		return Elem{}, fmt.Errorf("keypath: malformed element %q", part)
	}
	kind, err := url.PathUnescape(fields[0])
	if err != nil || kind == "" {
		return Elem{}, fmt.Errorf("keypath: malformed kind in %q", part)
	}
	switch fields[1] {
	case "p":
		if fields[2] != "" {
			return Elem{}, fmt.Errorf("keypath: pending element %q carries an id", part)
		}
		return Elem{Kind: kind}, nil
	case "s":
		id, err := url.PathUnescape(fields[2])
		if err != nil {
			return Elem{}, fmt.Errorf("keypath: malformed string id in %q", part)
		}
		return Elem{Kind: kind, ID: id}, nil
	case "i":
		id, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			return Elem{}, fmt.Errorf("keypath: malformed integer id in %q", part)
		}
		return Elem{Kind: kind, ID: id}, nil
	default:
		return Elem{}, fmt.Errorf("keypath: unknown id tag %q in %q", fields[1], part)
	}
}

// UniquePK computes a hash-distributed partition key for a unique constraint
// row. Hashing spreads constraints across partitions, eliminating hot
// partition risk on popular values.
func UniquePK(kind, field, value string) string {
	data := fmt.Sprintf("%s#%s#%s", kind, field, value)
	h := sha256.Sum256([]byte(data))
	return hex.EncodeToString(h[:16]) // 128-bit hash as hex
}
