// Package canonical implements the single canonicalization routine that
// every signature producer and verifier in this repository must share.
// It turns an arbitrary JSON-marshalable value into a
// deterministic byte sequence: object keys sorted lexicographically, no
// insignificant whitespace, decimals and enums rendered as strings,
// NaN/Infinity rejected by construction, duplicate keys rejected.
package canonical

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Bytes marshals v to JSON, reparses it into a generic tree, strips the
// dotted paths in exclude (e.g. "user_signature",
// "mandate_metadata.mandate_hash"), sorts every object's keys, and
// re-serializes with no extra whitespace. The result is the byte sequence
// that mandate_hash and every signature are computed over.
func Bytes(v interface{}, exclude ...string) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: marshal: %w", err)
	}

	var tree interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("canonical: decode: %w", err)
	}

	for _, path := range exclude {
		removePath(tree, splitPath(path))
	}

	var buf bytes.Buffer
	if err := encode(&buf, tree); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func splitPath(path string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			parts = append(parts, path[start:i])
			start = i + 1
		}
	}
	parts = append(parts, path[start:])
	return parts
}

func removePath(tree interface{}, path []string) {
	if len(path) == 0 {
		return
	}
	m, ok := tree.(map[string]interface{})
	if !ok {
		return
	}
	if len(path) == 1 {
		delete(m, path[0])
		return
	}
	child, ok := m[path[0]]
	if !ok {
		return
	}
	removePath(child, path[1:])
}

// encode writes v in canonical form: objects with lexicographically
// sorted keys, arrays preserving element order, numbers reproduced
// verbatim via json.Number (never re-rendered through float64), and
// strings/booleans/null passed through encoding/json's own escaping.
func encode(buf *bytes.Buffer, v interface{}) error {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := encode(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case []interface{}:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encode(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	case json.Number:
		s := val.String()
		buf.WriteString(s)
		return nil
	case nil:
		buf.WriteString("null")
		return nil
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil
	}
}
