package etl

import (
	"strconv"
	"strings"
)

// ── Value ──────────────────────────────────────────────────
// Common intermediate data model.
// Detail documents decode into a Value tree; flat tables only ever hold
// scalar Values (null, string, int, float, bool).

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindInt
	KindFloat
	KindBool
	KindObject
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindObject:
		return "object"
	case KindList:
		return "list"
	default:
		return "unknown"
	}
}

// Value is a tagged JSON-like value. The zero Value is null.
type Value struct {
	kind  Kind
	str   string
	num   int64
	flt   float64
	flag  bool
	obj   *Object
	items []Value
}

// Null returns the null Value.
func Null() Value { return Value{} }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Int wraps a 64-bit integer.
func Int(n int64) Value { return Value{kind: KindInt, num: n} }

// Float wraps a floating point number.
func Float(f float64) Value { return Value{kind: KindFloat, flt: f} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, flag: b} }

// ObjectValue wraps an ordered mapping.
func ObjectValue(o *Object) Value {
	if o == nil {
		o = NewObject()
	}
	return Value{kind: KindObject, obj: o}
}

// List wraps a sequence of values.
func List(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{kind: KindList, items: items}
}

func (v Value) Kind() Kind     { return v.kind }
func (v Value) IsNull() bool   { return v.kind == KindNull }
func (v Value) IsScalar() bool { return v.kind != KindObject && v.kind != KindList }

// IsEmpty reports whether the value is null or an empty string.
func (v Value) IsEmpty() bool {
	return v.kind == KindNull || (v.kind == KindString && v.str == "")
}

// Str returns the string payload and whether the value is a string.
func (v Value) Str() (string, bool) { return v.str, v.kind == KindString }

// IntValue returns the integer payload and whether the value is an int.
func (v Value) IntValue() (int64, bool) { return v.num, v.kind == KindInt }

// FloatValue returns the float payload and whether the value is a float.
func (v Value) FloatValue() (float64, bool) { return v.flt, v.kind == KindFloat }

// BoolValue returns the boolean payload and whether the value is a bool.
func (v Value) BoolValue() (bool, bool) { return v.flag, v.kind == KindBool }

// Object returns the mapping payload, or nil if the value is not an object.
func (v Value) Object() *Object {
	if v.kind != KindObject {
		return nil
	}
	return v.obj
}

// Items returns the sequence payload, or nil if the value is not a list.
func (v Value) Items() []Value {
	if v.kind != KindList {
		return nil
	}
	return v.items
}

// Text renders a scalar as table text. Null renders as "".
// Nested values render as compact JSON.
func (v Value) Text() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindString:
		return v.str
	case KindInt:
		return strconv.FormatInt(v.num, 10)
	case KindFloat:
		return strconv.FormatFloat(v.flt, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.flag)
	default:
		var b strings.Builder
		writeJSON(&b, v)
		return b.String()
	}
}

// Interface converts the value to plain Go values: nil, string, int64,
// float64, bool, map[string]any and []any. Mapping order is lost.
func (v Value) Interface() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindInt:
		return v.num
	case KindFloat:
		return v.flt
	case KindBool:
		return v.flag
	case KindList:
		out := make([]any, len(v.items))
		for i, item := range v.items {
			out[i] = item.Interface()
		}
		return out
	case KindObject:
		out := make(map[string]any, v.obj.Len())
		for _, k := range v.obj.keys {
			out[k] = v.obj.vals[k].Interface()
		}
		return out
	default:
		return nil
	}
}

// Equal reports deep equality.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.str == o.str
	case KindInt:
		return v.num == o.num
	case KindFloat:
		return v.flt == o.flt
	case KindBool:
		return v.flag == o.flag
	case KindList:
		if len(v.items) != len(o.items) {
			return false
		}
		for i := range v.items {
			if !v.items[i].Equal(o.items[i]) {
				return false
			}
		}
		return true
	default:
		return v.obj.Equal(o.obj)
	}
}

func writeJSON(b *strings.Builder, v Value) {
	switch v.kind {
	case KindNull:
		b.WriteString("null")
	case KindString:
		quoteJSON(b, v.str)
	case KindInt, KindFloat, KindBool:
		b.WriteString(v.Text())
	case KindList:
		b.WriteByte('[')
		for i, item := range v.items {
			if i > 0 {
				b.WriteByte(',')
			}
			writeJSON(b, item)
		}
		b.WriteByte(']')
	case KindObject:
		b.WriteByte('{')
		for i, k := range v.obj.keys {
			if i > 0 {
				b.WriteByte(',')
			}
			quoteJSON(b, k)
			b.WriteByte(':')
			writeJSON(b, v.obj.vals[k])
		}
		b.WriteByte('}')
	}
}

const hexDigits = "0123456789abcdef"

// quoteJSON writes s as a JSON string literal.
func quoteJSON(b *strings.Builder, s string) {
	b.WriteByte('"')
	for _, r := range s {
		switch {
		case r == '"':
			b.WriteString(`\"`)
		case r == '\\':
			b.WriteString(`\\`)
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\r':
			b.WriteString(`\r`)
		case r == '\t':
			b.WriteString(`\t`)
		case r < 0x20:
			b.WriteString(`\u00`)
			b.WriteByte(hexDigits[r>>4])
			b.WriteByte(hexDigits[r&0xf])
		default:
			// Invalid UTF-8 decodes as utf8.RuneError and is written as U+FFFD.
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
}

// ── Object ─────────────────────────────────────────────────

// Object is a mapping that remembers key insertion order.
type Object struct {
	keys []string
	vals map[string]Value
}

// NewObject returns an empty ordered mapping.
func NewObject() *Object {
	return &Object{vals: make(map[string]Value)}
}

// Len returns the number of keys.
func (o *Object) Len() int {
	if o == nil {
		return 0
	}
	return len(o.keys)
}

// Keys returns keys in insertion order.
func (o *Object) Keys() []string {
	if o == nil {
		return nil
	}
	return o.keys
}

// Get returns the value stored under key.
func (o *Object) Get(key string) (Value, bool) {
	if o == nil {
		return Value{}, false
	}
	v, ok := o.vals[key]
	return v, ok
}

// Set stores a value. Existing keys keep their position.
func (o *Object) Set(key string, v Value) {
	if _, ok := o.vals[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.vals[key] = v
}

// Delete removes a key.
func (o *Object) Delete(key string) {
	if _, ok := o.vals[key]; !ok {
		return
	}
	delete(o.vals, key)
	for i, k := range o.keys {
		if k == key {
			o.keys = append(o.keys[:i:i], o.keys[i+1:]...)
			break
		}
	}
}

// Equal compares keys, order included, and values.
func (o *Object) Equal(other *Object) bool {
	if o.Len() != other.Len() {
		return false
	}
	for i, k := range o.Keys() {
		if other.keys[i] != k {
			return false
		}
		if !o.vals[k].Equal(other.vals[k]) {
			return false
		}
	}
	return true
}

// ── Record ─────────────────────────────────────────────────

// Record is one raw detail document as returned by a catalog source.
type Record struct {
	Fields *Object
}

// NewRecord returns an empty record.
func NewRecord() Record { return Record{Fields: NewObject()} }

// ID returns the record's merge key, if present and integral.
func (r Record) ID() (int64, bool) {
	v, ok := r.Fields.Get(KeyColumn)
	if !ok {
		return 0, false
	}
	id, err := toInt64(v)
	if err != nil || v.IsNull() {
		return 0, false
	}
	return id, true
}
