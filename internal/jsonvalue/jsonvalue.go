// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package jsonvalue provides a recursive any-JSON value type used to
// pass through fields the proxy does not understand. Every Bedrock
// response payload and every decoded Anthropic streaming event is kept
// in this shape rather than a strict struct, so that a vendor adding a
// new field never breaks decoding.
package jsonvalue

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Kind discriminates the concrete type held by a Value.
type Kind int

// The kinds a Value can hold, mirroring the JSON data model.
const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

// Value is a recursive tagged union of {null, boolean, number, string,
// array of Value, object mapping string to Value}. Object key order is
// preserved so that re-encoding is deterministic.
type Value struct {
	kind    Kind
	boolean bool
	number  float64
	str     string
	array   []Value
	keys    []string
	object  map[string]Value
}

// Null returns the JSON null value.
func Null() Value { return Value{kind: KindNull} }

// Bool wraps a boolean as a Value.
func Bool(b bool) Value { return Value{kind: KindBool, boolean: b} }

// Number wraps a float64 as a Value. JSON integers and fractional
// literals both decode into this representation (IEEE-754 double).
func Number(n float64) Value { return Value{kind: KindNumber, number: n} }

// String wraps a string as a Value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Array wraps an ordered sequence of Values.
func Array(vs []Value) Value { return Value{kind: KindArray, array: vs} }

// Object builds an object Value from the given keys, in order, paired
// with the provided lookup map. Keys not present in vals are skipped.
func Object(keys []string, vals map[string]Value) Value {
	ordered := make([]string, 0, len(keys))
	m := make(map[string]Value, len(keys))
	for _, k := range keys {
		if v, ok := vals[k]; ok {
			ordered = append(ordered, k)
			m[k] = v
		}
	}
	return Value{kind: KindObject, keys: ordered, object: m}
}

// NewObject returns an empty object Value ready for Set.
func NewObject() Value {
	return Value{kind: KindObject, object: map[string]Value{}}
}

// Set inserts or replaces a key in an object Value. It is a no-op if v
// is not an object.
func (v *Value) Set(key string, val Value) {
	if v.kind != KindObject {
		return
	}
	if v.object == nil {
		v.object = map[string]Value{}
	}
	if _, exists := v.object[key]; !exists {
		v.keys = append(v.keys, key)
	}
	v.object[key] = val
}

// Kind reports the concrete type held by v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v holds a JSON null (or is the zero Value).
func (v Value) IsNull() bool { return v.kind == KindNull }

// StringValue returns the string content of v, or "" with ok=false if v
// is not a string.
func (v Value) StringValue() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.str, true
}

// NumberValue returns the numeric content of v, or 0 with ok=false if v
// is not a number.
func (v Value) NumberValue() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	return v.number, true
}

// BoolValue returns the boolean content of v, or false with ok=false if
// v is not a boolean.
func (v Value) BoolValue() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.boolean, true
}

// ArrayValue returns the element sequence of v, or nil with ok=false if
// v is not an array.
func (v Value) ArrayValue() ([]Value, bool) {
	if v.kind != KindArray {
		return nil, false
	}
	return v.array, true
}

// Keys returns the object's keys in insertion order, or nil if v is
// not an object.
func (v Value) Keys() []string {
	if v.kind != KindObject {
		return nil
	}
	return v.keys
}

// Get looks up key in an object Value. Returns the zero Value and
// false if v is not an object or the key is absent.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindObject {
		return Value{}, false
	}
	val, ok := v.object[key]
	return val, ok
}

// GetString is a convenience wrapper combining Get and StringValue.
func (v Value) GetString(key string) (string, bool) {
	val, ok := v.Get(key)
	if !ok {
		return "", false
	}
	return val.StringValue()
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v Value) encode(buf *bytes.Buffer) error {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		if v.boolean {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case KindNumber:
		b, err := json.Marshal(v.number)
		if err != nil {
			return err
		}
		buf.Write(b)
	case KindString:
		b, err := json.Marshal(v.str)
		if err != nil {
			return err
		}
		buf.Write(b)
	case KindArray:
		buf.WriteByte('[')
		for i, e := range v.array {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := e.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindObject:
		buf.WriteByte('{')
		for i, k := range v.keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := v.object[k].encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("jsonvalue: unknown kind %d", v.kind)
	}
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	val, err := decodeValue(dec)
	if err != nil {
		return err
	}
	*v = val
	return nil
}

// Parse decodes a single JSON value from data.
func Parse(data []byte) (Value, error) {
	var v Value
	if err := v.UnmarshalJSON(data); err != nil {
		return Value{}, err
	}
	return v, nil
}

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, err
	}
	return decodeToken(dec, tok)
}

func decodeToken(dec *json.Decoder, tok json.Token) (Value, error) {
	switch t := tok.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("jsonvalue: invalid number %q: %w", t.String(), err)
		}
		return Number(f), nil
	case string:
		return String(t), nil
	case json.Delim:
		switch t {
		case '[':
			var arr []Value
			for dec.More() {
				e, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				arr = append(arr, e)
			}
			if _, err := dec.Token(); err != nil { // consume ']'
				return Value{}, err
			}
			return Array(arr), nil
		case '{':
			obj := Value{kind: KindObject, object: map[string]Value{}}
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Value{}, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return Value{}, fmt.Errorf("jsonvalue: non-string object key %v", keyTok)
				}
				val, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				obj.keys = append(obj.keys, key)
				obj.object[key] = val
			}
			if _, err := dec.Token(); err != nil { // consume '}'
				return Value{}, err
			}
			return obj, nil
		}
	}
	return Value{}, fmt.Errorf("jsonvalue: unexpected token %v", tok)
}
