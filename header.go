package flowtrace

import (
	"bytes"
	"encoding/json"
	"maps"
	"math"
	"strconv"
)

// HeaderKey is the reserved header entry holding the serialized propagation context.
const HeaderKey = "_tracer-data"

// ValueKind identifies the shape stored in a Value.
type ValueKind uint8

// Value shapes a header entry may take.
const (
	KindNull ValueKind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindMap
)

// String returns the kind name.
func (k ValueKind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindMap:
		return "map"
	default:
		return "null"
	}
}

// Value is a header entry restricted to a scalar, null, or a flat string map.
// The zero Value is null.
//
//nolint:govet // Field order follows the kind switch
type Value struct {
	m    map[string]string
	s    string
	i    int64
	f    float64
	kind ValueKind
	b    bool
}

// NullValue returns the null Value.
func NullValue() Value { return Value{} }

// BoolValue returns a bool Value.
func BoolValue(b bool) Value { return Value{kind: KindBool, b: b} }

// IntValue returns an integer Value.
func IntValue(i int64) Value { return Value{kind: KindInt, i: i} }

// FloatValue returns a float Value.
func FloatValue(f float64) Value { return Value{kind: KindFloat, f: f} }

// StringValue returns a string Value.
func StringValue(s string) Value { return Value{kind: KindString, s: s} }

// MapValue returns a map Value holding a copy of m.
// A nil map produces an empty map, never null.
func MapValue(m map[string]string) Value {
	cp := make(map[string]string, len(m))
	maps.Copy(cp, m)
	return Value{kind: KindMap, m: cp}
}

// Kind reports the stored shape.
func (v Value) Kind() ValueKind { return v.kind }

// AsString returns the string when v holds one.
func (v Value) AsString() (string, bool) {
	return v.s, v.kind == KindString
}

// AsMap returns a copy of the map when v holds one.
func (v Value) AsMap() (map[string]string, bool) {
	if v.kind != KindMap {
		return nil, false
	}
	return maps.Clone(v.m), true
}

// Interface returns the stored value as a plain Go value.
func (v Value) Interface() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindMap:
		return maps.Clone(v.m)
	default:
		return nil
	}
}

// MarshalJSON encodes the stored value. NaN and infinite floats have no JSON
// number form and are encoded as the strings "NaN", "+Inf" and "-Inf".
func (v Value) MarshalJSON() ([]byte, error) {
	if v.kind == KindFloat && (math.IsNaN(v.f) || math.IsInf(v.f, 0)) {
		return json.Marshal(strconv.FormatFloat(v.f, 'g', -1, 64))
	}
	return json.Marshal(v.Interface())
}

// HeaderEntry is one key and value of a Header.
type HeaderEntry struct {
	Key   string
	Value Value
}

// Header is the carrier attached to cross-boundary calls.
// Implementations are immutable: With returns a new Header.
type Header interface {
	Get(key string) (Value, bool)
	With(key string, v Value) Header
	Entries() []HeaderEntry
}

// MapHeader is an ordered, immutable Header.
type MapHeader struct {
	entries []HeaderEntry
}

// NewHeader returns a header holding entries in order.
// A repeated key keeps its first position and its last value.
func NewHeader(entries ...HeaderEntry) MapHeader {
	var h MapHeader
	for _, e := range entries {
		h = h.with(e.Key, e.Value)
	}
	return h
}

// EmptyHeader returns a header with no entries.
func EmptyHeader() MapHeader { return MapHeader{} }

// Get returns the value stored under key.
func (h MapHeader) Get(key string) (Value, bool) {
	for _, e := range h.entries {
		if e.Key == key {
			return e.Value, true
		}
	}
	return Value{}, false
}

// With returns a copy of h with key set to v.
func (h MapHeader) With(key string, v Value) Header {
	return h.with(key, v)
}

func (h MapHeader) with(key string, v Value) MapHeader {
	entries := make([]HeaderEntry, 0, len(h.entries)+1)
	replaced := false
	for _, e := range h.entries {
		if e.Key == key {
			e.Value = v
			replaced = true
		}
		entries = append(entries, e)
	}
	if !replaced {
		entries = append(entries, HeaderEntry{Key: key, Value: v})
	}
	return MapHeader{entries: entries}
}

// Entries returns the entries in insertion order.
func (h MapHeader) Entries() []HeaderEntry {
	out := make([]HeaderEntry, len(h.entries))
	copy(out, h.entries)
	return out
}

// Len returns the number of entries.
func (h MapHeader) Len() int { return len(h.entries) }

// MarshalJSON encodes the header as a JSON object in entry order.
func (h MapHeader) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range h.entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(e.Key)
		if err != nil {
			return nil, err
		}
		val, err := e.Value.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// ContextFromHeader returns the carrier stored under HeaderKey.
// ok is false when h is nil, the key is absent, or the entry is not a map.
func ContextFromHeader(h Header) (carrier map[string]string, ok bool) {
	if h == nil {
		return nil, false
	}
	v, found := h.Get(HeaderKey)
	if !found {
		return nil, false
	}
	return v.AsMap()
}

// HeaderAttribute renders the full entry set of h for use as a span attribute.
func HeaderAttribute(h Header) any {
	if h == nil {
		return EmptyHeader()
	}
	return NewHeader(h.Entries()...)
}
