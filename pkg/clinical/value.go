// Package clinical holds the data types shared by every stage of the
// transcript analysis pipeline.
//
// [Value] is a tagged JSON tree used between the repair parser, the
// structural normalizer and the schema validator. It keeps object members in
// their original order so that normalization and error reporting are
// deterministic. [Record] is the typed, validated result handed to the
// persistence and reporting collaborators.
package clinical

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/tidwall/gjson"
)

// Kind identifies the JSON type held by a [Value].
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

// String returns the JSON type name, using "boolean" for [KindBool].
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "boolean"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Member is a single key/value pair of an object [Value].
type Member struct {
	Key   string
	Value Value
}

// Value is an immutable JSON value. The zero Value is JSON null.
type Value struct {
	kind    Kind
	b       bool
	n       float64
	s       string
	elems   []Value
	members []Member
}

// Null returns the JSON null value.
func Null() Value { return Value{} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number returns a numeric value.
func Number(n float64) Value { return Value{kind: KindNumber, n: n} }

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Array returns an array value holding elems. A nil argument yields an empty
// array, never null.
func Array(elems ...Value) Value {
	if elems == nil {
		elems = []Value{}
	}
	return Value{kind: KindArray, elems: elems}
}

// Strings returns an array value of string elements.
func Strings(ss ...string) Value {
	elems := make([]Value, len(ss))
	for i, s := range ss {
		elems[i] = String(s)
	}
	return Value{kind: KindArray, elems: elems}
}

// Object returns an object value. When a key occurs more than once the later
// member replaces the earlier one at the earlier position.
func Object(members ...Member) Value {
	v := Value{kind: KindObject, members: make([]Member, 0, len(members))}
	for _, m := range members {
		v.members = setMember(v.members, m.Key, m.Value)
	}
	return v
}

// Field is shorthand for constructing a [Member].
func Field(key string, v Value) Member { return Member{Key: key, Value: v} }

func setMember(ms []Member, key string, v Value) []Member {
	for i := range ms {
		if ms[i].Key == key {
			ms[i].Value = v
			return ms
		}
	}
	return append(ms, Member{Key: key, Value: v})
}

// Kind reports the JSON type of v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is JSON null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the boolean held by v. ok is false for other kinds.
func (v Value) AsBool() (b, ok bool) { return v.b, v.kind == KindBool }

// AsNumber returns the number held by v. ok is false for other kinds.
func (v Value) AsNumber() (float64, bool) { return v.n, v.kind == KindNumber }

// AsString returns the string held by v. ok is false for other kinds.
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// Elems returns the elements of an array value, or nil for other kinds.
// The returned slice must not be modified.
func (v Value) Elems() []Value { return v.elems }

// Members returns the members of an object value in order, or nil for other
// kinds. The returned slice must not be modified.
func (v Value) Members() []Member { return v.members }

// Get returns the member value stored under key.
func (v Value) Get(key string) (Value, bool) {
	for _, m := range v.members {
		if m.Key == key {
			return m.Value, true
		}
	}
	return Value{}, false
}

// With returns a copy of the object v with key set to val. Calling With on a
// non-object value returns an object holding only key.
func (v Value) With(key string, val Value) Value {
	var ms []Member
	if v.kind == KindObject {
		ms = make([]Member, len(v.members), len(v.members)+1)
		copy(ms, v.members)
	}
	return Value{kind: KindObject, members: setMember(ms, key, val)}
}

// Equal reports whether v and o are the same JSON value. Object members are
// compared by key regardless of order.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindNumber:
		return v.n == o.n
	case KindString:
		return v.s == o.s
	case KindArray:
		if len(v.elems) != len(o.elems) {
			return false
		}
		for i := range v.elems {
			if !v.elems[i].Equal(o.elems[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(v.members) != len(o.members) {
			return false
		}
		for _, m := range v.members {
			ov, ok := o.Get(m.Key)
			if !ok || !m.Value.Equal(ov) {
				return false
			}
		}
		return true
	}
	return false
}

// ErrInvalidJSON is returned by [Parse] when the input is not valid JSON.
var ErrInvalidJSON = errors.New("clinical: invalid JSON")

// Parse decodes a JSON document into a Value. Duplicate object keys resolve
// to the last occurrence.
func Parse(data string) (Value, error) {
	if !gjson.Valid(data) {
		return Value{}, ErrInvalidJSON
	}
	return fromResult(gjson.Parse(data)), nil
}

func fromResult(r gjson.Result) Value {
	switch r.Type {
	case gjson.Null:
		return Null()
	case gjson.True:
		return Bool(true)
	case gjson.False:
		return Bool(false)
	case gjson.Number:
		return Number(r.Num)
	case gjson.String:
		return String(r.Str)
	}
	if r.IsArray() {
		elems := []Value{}
		r.ForEach(func(_, e gjson.Result) bool {
			elems = append(elems, fromResult(e))
			return true
		})
		return Array(elems...)
	}
	v := Value{kind: KindObject, members: []Member{}}
	r.ForEach(func(k, e gjson.Result) bool {
		v.members = setMember(v.members, k.String(), fromResult(e))
		return true
	})
	return v
}

// MarshalJSON implements [json.Marshaler].
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalJSON implements [json.Unmarshaler].
func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func (v Value) encode(buf *bytes.Buffer) error {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.b))
	case KindNumber:
		if math.IsNaN(v.n) || math.IsInf(v.n, 0) {
			return fmt.Errorf("clinical: unsupported number %v", v.n)
		}
		buf.WriteString(strconv.FormatFloat(v.n, 'f', -1, 64))
	case KindString:
		b, err := json.Marshal(v.s)
		if err != nil {
			return err
		}
		buf.Write(b)
	case KindArray:
		buf.WriteByte('[')
		for i, e := range v.elems {
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
		for i, m := range v.members {
			if i > 0 {
				buf.WriteByte(',')
			}
			k, err := json.Marshal(m.Key)
			if err != nil {
				return err
			}
			buf.Write(k)
			buf.WriteByte(':')
			if err := m.Value.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	}
	return nil
}

// String returns the compact JSON encoding of v.
func (v Value) String() string {
	b, err := v.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("<invalid: %v>", err)
	}
	return string(b)
}
