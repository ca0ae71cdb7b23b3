// Package document provides the ordered, schema-flexible value type used for
// the open document fields on templates, instances, and lineage edges. Values
// are a closed variant (string, number, bool, list, map, null) so calling code
// keeps compile-time safety for known keys while tolerating arbitrary
// extension data. All accessors deep-copy so no caller ever observes shared
// state.
package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Kind discriminates the closed set of value variants a document may hold.
type Kind string

// Supported value kinds.
const (
	KindNull   Kind = "null"
	KindString Kind = "string"
	KindNumber Kind = "number"
	KindBool   Kind = "bool"
	KindList   Kind = "list"
	KindMap    Kind = "map"
)

// Value is one immutable document value. The zero Value is null.
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
	list []Value
	doc  *Document
}

// Null returns the null value.
func Null() Value { return Value{kind: KindNull} }

// String wraps a string value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Number wraps a numeric value.
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

// Bool wraps a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// List wraps a list of values. The elements are cloned.
func List(values ...Value) Value {
	cloned := make([]Value, len(values))
	for i, v := range values {
		cloned[i] = v.Clone()
	}
	return Value{kind: KindList, list: cloned}
}

// Map wraps a nested document. The document is cloned.
func Map(d Document) Value {
	clone := d.Clone()
	return Value{kind: KindMap, doc: &clone}
}

// FromRaw converts a JSON-compatible Go value into a Value. Unsupported types
// are rejected rather than silently coerced.
func FromRaw(raw any) (Value, error) {
	switch typed := raw.(type) {
	case nil:
		return Null(), nil
	case string:
		return String(typed), nil
	case bool:
		return Bool(typed), nil
	case float64:
		return Number(typed), nil
	case float32:
		return Number(float64(typed)), nil
	case int:
		return Number(float64(typed)), nil
	case int32:
		return Number(float64(typed)), nil
	case int64:
		return Number(float64(typed)), nil
	case uint:
		return Number(float64(typed)), nil
	case json.Number:
		f, err := typed.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("document: invalid number %q: %w", typed, err)
		}
		return Number(f), nil
	case []any:
		list := make([]Value, 0, len(typed))
		for i, item := range typed {
			v, err := FromRaw(item)
			if err != nil {
				return Value{}, fmt.Errorf("document: list index %d: %w", i, err)
			}
			list = append(list, v)
		}
		return Value{kind: KindList, list: list}, nil
	case map[string]any:
		doc, err := FromRawMap(typed)
		if err != nil {
			return Value{}, err
		}
		return Value{kind: KindMap, doc: &doc}, nil
	case Value:
		return typed.Clone(), nil
	case Document:
		return Map(typed), nil
	default:
		return Value{}, fmt.Errorf("document: unsupported value type %T", raw)
	}
}

// Kind reports the variant stored in the value.
func (v Value) Kind() Kind {
	if v.kind == "" {
		return KindNull
	}
	return v.kind
}

// IsNull reports whether the value is null.
func (v Value) IsNull() bool { return v.Kind() == KindNull }

// AsString returns the string payload when the value is a string.
func (v Value) AsString() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.str, true
}

// AsNumber returns the numeric payload when the value is a number.
func (v Value) AsNumber() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	return v.num, true
}

// AsBool returns the boolean payload when the value is a bool.
func (v Value) AsBool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

// AsList returns a cloned copy of the list payload.
func (v Value) AsList() ([]Value, bool) {
	if v.kind != KindList {
		return nil, false
	}
	out := make([]Value, len(v.list))
	for i, item := range v.list {
		out[i] = item.Clone()
	}
	return out, true
}

// AsMap returns a cloned copy of the nested document.
func (v Value) AsMap() (Document, bool) {
	if v.kind != KindMap || v.doc == nil {
		return Document{}, false
	}
	return v.doc.Clone(), true
}

// Raw converts the value back to its JSON-compatible Go representation.
func (v Value) Raw() any {
	switch v.Kind() {
	case KindString:
		return v.str
	case KindNumber:
		return v.num
	case KindBool:
		return v.b
	case KindList:
		out := make([]any, len(v.list))
		for i, item := range v.list {
			out[i] = item.Raw()
		}
		return out
	case KindMap:
		if v.doc == nil {
			return map[string]any{}
		}
		return v.doc.Raw()
	default:
		return nil
	}
}

// Clone deep-copies the value.
func (v Value) Clone() Value {
	switch v.kind {
	case KindList:
		cloned := make([]Value, len(v.list))
		for i, item := range v.list {
			cloned[i] = item.Clone()
		}
		return Value{kind: KindList, list: cloned}
	case KindMap:
		if v.doc == nil {
			return Value{kind: KindMap, doc: &Document{}}
		}
		clone := v.doc.Clone()
		return Value{kind: KindMap, doc: &clone}
	default:
		return v
	}
}

// Equal reports deep equality between two values.
func (v Value) Equal(other Value) bool {
	a, errA := json.Marshal(v)
	b, errB := json.Marshal(other)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(a, b)
}

// MarshalJSON renders the value as plain JSON.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Raw())
}

// UnmarshalJSON parses a plain JSON value into the closed variant.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	parsed, err := decodeValue(dec)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Document is an ordered map of string keys to values. Key order is insertion
// order and survives JSON round trips. The zero Document is empty and usable.
type Document struct {
	keys   []string
	values map[string]Value
}

// New returns an empty document.
func New() Document { return Document{} }

// FromRawMap builds a document from a JSON-compatible map. Key order is
// lexicographic since Go maps carry none.
func FromRawMap(raw map[string]any) (Document, error) {
	doc := New()
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v, err := FromRaw(raw[k])
		if err != nil {
			return Document{}, fmt.Errorf("document: key %q: %w", k, err)
		}
		doc.Set(k, v)
	}
	return doc, nil
}

func (d *Document) ensure() {
	if d.values == nil {
		d.values = make(map[string]Value)
	}
}

// Set stores a value under the key, preserving first-insertion order.
func (d *Document) Set(key string, value Value) {
	d.ensure()
	if _, exists := d.values[key]; !exists {
		d.keys = append(d.keys, key)
	}
	d.values[key] = value.Clone()
}

// Get returns a cloned value for the key.
func (d Document) Get(key string) (Value, bool) {
	if d.values == nil {
		return Value{}, false
	}
	v, ok := d.values[key]
	if !ok {
		return Value{}, false
	}
	return v.Clone(), true
}

// Delete removes a key. Missing keys are a no-op.
func (d *Document) Delete(key string) {
	if d.values == nil {
		return
	}
	if _, ok := d.values[key]; !ok {
		return
	}
	delete(d.values, key)
	for i, k := range d.keys {
		if k == key {
			d.keys = append(d.keys[:i], d.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in insertion order.
func (d Document) Keys() []string {
	return append([]string(nil), d.keys...)
}

// Len reports the number of keys.
func (d Document) Len() int { return len(d.keys) }

// Clone deep-copies the document.
func (d Document) Clone() Document {
	out := New()
	for _, k := range d.keys {
		out.Set(k, d.values[k])
	}
	return out
}

// Merge returns a new document with this document's entries overlaid by the
// other's. Neither input is mutated.
func (d Document) Merge(over Document) Document {
	out := d.Clone()
	for _, k := range over.keys {
		out.Set(k, over.values[k])
	}
	return out
}

// Append adds a value to the list stored under key, creating the list when
// absent. Appending to a non-list key is an error.
func (d *Document) Append(key string, value Value) error {
	existing, ok := d.Get(key)
	if !ok {
		d.Set(key, List(value))
		return nil
	}
	list, ok := existing.AsList()
	if !ok {
		return fmt.Errorf("document: key %q holds %s, not a list", key, existing.Kind())
	}
	list = append(list, value.Clone())
	d.Set(key, Value{kind: KindList, list: list})
	return nil
}

// Raw converts the document to a JSON-compatible map.
func (d Document) Raw() map[string]any {
	out := make(map[string]any, len(d.keys))
	for _, k := range d.keys {
		out[k] = d.values[k].Raw()
	}
	return out
}

// Equal reports deep equality, ignoring key order.
func (d Document) Equal(other Document) bool {
	if len(d.keys) != len(other.keys) {
		return false
	}
	for _, k := range d.keys {
		ov, ok := other.values[k]
		if !ok || !d.values[k].Equal(ov) {
			return false
		}
	}
	return true
}

// MarshalJSON renders an ordered JSON object.
func (d Document) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range d.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyBytes, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(keyBytes)
		buf.WriteByte(':')
		valueBytes, err := json.Marshal(d.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(valueBytes)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON parses a JSON object preserving key order.
func (d *Document) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*d = Document{}
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	delim, ok := tok.(json.Delim)
	if !ok || delim != '{' {
		return fmt.Errorf("document: expected JSON object, got %v", tok)
	}
	parsed := New()
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("document: expected object key, got %v", keyTok)
		}
		value, err := decodeValue(dec)
		if err != nil {
			return fmt.Errorf("document: key %q: %w", key, err)
		}
		parsed.Set(key, value)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*d = parsed
	return nil
}

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, err
	}
	switch typed := tok.(type) {
	case json.Delim:
		switch typed {
		case '{':
			doc := New()
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Value{}, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return Value{}, fmt.Errorf("document: expected object key, got %v", keyTok)
				}
				value, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				doc.Set(key, value)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return Value{kind: KindMap, doc: &doc}, nil
		case '[':
			var list []Value
			for dec.More() {
				value, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				list = append(list, value)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return Value{kind: KindList, list: list}, nil
		default:
			return Value{}, fmt.Errorf("document: unexpected delimiter %v", typed)
		}
	case string:
		return String(typed), nil
	case bool:
		return Bool(typed), nil
	case json.Number:
		f, err := typed.Float64()
		if err != nil {
			return Value{}, err
		}
		return Number(f), nil
	case nil:
		return Null(), nil
	default:
		return Value{}, fmt.Errorf("document: unsupported token %v", tok)
	}
}
