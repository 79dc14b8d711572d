// Package hash produces order-independent digests of JSON-shaped values.
// The digest is used as a cache-validation token on decision outcomes and
// for client-side replay detection: two payloads that are deep-equal after
// canonicalization always hash to the same value, regardless of how their
// object keys were ordered when serialized.
package hash

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Canonical returns the canonical JSON serialization of v:
//   - nil → null
//   - arrays keep their order, elements are canonicalized recursively
//   - object keys are sorted lexicographically
//   - all other JSON primitives pass through unchanged
//
// v may be any JSON-serializable value (structs, maps, slices, primitives,
// json.RawMessage). Struct values are normalized through encoding/json first
// so their field tags apply.
func Canonical(v any) ([]byte, error) {
	normalized, err := normalize(v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := writeCanonical(&buf, normalized); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Sum returns the lowercase hex SHA-256 digest of the canonical form of v.
func Sum(v any) (string, error) {
	canonical, err := Canonical(v)
	if err != nil {
		return "", err
	}
	digest := sha256.Sum256(canonical)
	return hex.EncodeToString(digest[:]), nil
}

// normalize round-trips v through encoding/json so that structs, typed maps
// and json.RawMessage all collapse into the plain map/slice/primitive tree
// writeCanonical understands.
func normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: marshal value: %w", err)
	}
	var tree any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, fmt.Errorf("canonicalize: reparse value: %w", err)
	}
	return tree, nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch tv := v.(type) {
	case nil:
		buf.WriteString("null")
	case map[string]any:
		keys := make([]string, 0, len(tv))
		for k := range tv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			keyJSON, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(keyJSON)
			buf.WriteByte(':')
			if err := writeCanonical(buf, tv[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case []any:
		buf.WriteByte('[')
		for i, elem := range tv {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		// string, float64, bool: already normalized primitives.
		primJSON, err := json.Marshal(tv)
		if err != nil {
			return err
		}
		buf.Write(primJSON)
	}
	return nil
}
