// Package canonicalize provides RFC 8785 (JSON Canonicalization Scheme) style
// serialization for deterministic hashing of ChronoVault events.
package canonicalize

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
)

// ErrCycle is returned when a document contains a self-referential structure.
// Cyclic input must never be silently truncated: the canonical form feeds
// hash computation, and dropped data would corrupt the chain unnoticed.
var ErrCycle = errors.New("canonicalize: document contains a cycle")

// JCS returns the canonical JSON representation of v.
//
// Key features:
// 1. Map keys are sorted lexicographically by UTF-8 bytes.
// 2. List order is preserved.
// 3. HTML escaping is DISABLED (unlike standard json.Marshal).
// 4. Numbers are preserved exactly if passed as json.Number, otherwise standard formatting.
// 5. Cyclic structures are rejected with ErrCycle.
func JCS(v interface{}) ([]byte, error) {
	if err := rejectCycles(reflect.ValueOf(v), make(map[uintptr]bool)); err != nil {
		return nil, err
	}

	// Marshal to intermediate JSON (standard) to respect json tags, then
	// decode to interface{} with UseNumber, then recursively re-marshal.
	// This overrides formatting and key order while keeping struct support.
	intermediate, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("jcs: pre-marshal failed: %w", err)
	}

	var generic interface{}
	decoder := json.NewDecoder(bytes.NewReader(intermediate))
	decoder.UseNumber()
	if err := decoder.Decode(&generic); err != nil {
		return nil, fmt.Errorf("jcs: intermediate decode failed: %w", err)
	}

	return marshalRecursive(generic)
}

// CanonicalHash returns the SHA-256 hex digest of the canonical JSON representation of v.
func CanonicalHash(v interface{}) (string, error) {
	b, err := JCS(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes computes SHA-256 hash of raw bytes and returns hex string
func HashBytes(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// JCSString returns the canonical form as a string
func JCSString(v interface{}) (string, error) {
	data, err := JCS(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// rejectCycles walks v and fails if any container appears on its own path.
// Shared acyclic substructure (a DAG) is allowed; only true cycles fail.
// path holds the addresses of the containers currently being visited.
func rejectCycles(v reflect.Value, path map[uintptr]bool) error {
	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return rejectCycles(v.Elem(), path)
	case reflect.Pointer:
		if v.IsNil() {
			return nil
		}
		addr := v.Pointer()
		if path[addr] {
			return ErrCycle
		}
		path[addr] = true
		defer delete(path, addr)
		return rejectCycles(v.Elem(), path)
	case reflect.Map:
		if v.IsNil() {
			return nil
		}
		addr := v.Pointer()
		if path[addr] {
			return ErrCycle
		}
		path[addr] = true
		defer delete(path, addr)
		iter := v.MapRange()
		for iter.Next() {
			if err := rejectCycles(iter.Value(), path); err != nil {
				return err
			}
		}
		return nil
	case reflect.Slice:
		if v.IsNil() {
			return nil
		}
		addr := v.Pointer()
		if path[addr] {
			return ErrCycle
		}
		path[addr] = true
		defer delete(path, addr)
		for i := 0; i < v.Len(); i++ {
			if err := rejectCycles(v.Index(i), path); err != nil {
				return err
			}
		}
		return nil
	case reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if err := rejectCycles(v.Index(i), path); err != nil {
				return err
			}
		}
		return nil
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if err := rejectCycles(v.Field(i), path); err != nil {
				return err
			}
		}
		return nil
	default:
		return nil
	}
}

func marshalRecursive(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false) // RFC 8785 requires no HTML escaping

	switch t := v.(type) {
	case nil:
		return []byte("null"), nil
	case bool:
		if t {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case json.Number:
		return []byte(t.String()), nil
	case string:
		if err := enc.Encode(t); err != nil {
			return nil, err
		}
		// json.Encoder adds a newline, we must trim it
		return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
	case []interface{}:
		buf.Reset()
		buf.WriteByte('[')
		for i, elem := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			b, err := marshalRecursive(elem)
			if err != nil {
				return nil, err
			}
			buf.Write(b)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	case map[string]interface{}:
		buf.Reset()
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := marshalRecursive(k)
			if err != nil {
				return nil, err
			}
			buf.Write(kb)
			buf.WriteByte(':')

			vb, err := marshalRecursive(t[k])
			if err != nil {
				return nil, err
			}
			buf.Write(vb)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	default:
		// Fallback for unexpected types (like float64 if json.Number wasn't used)
		if err := enc.Encode(v); err != nil {
			return nil, err
		}
		return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
	}
}
