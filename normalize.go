package flowtrace

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
)

// shape is the closed set of value forms Normalize distinguishes.
type shape uint8

const (
	shapeNone shape = iota
	shapeScalar
	shapeList
	shapeStringer
	shapeJSON
	shapeObject
	shapeOpaque
)

// Normalize converts v into a span attribute value: nil, bool, int64,
// float64, string, or a []any of those. It never panics and never modifies v.
//
// Single-element lists unwrap to their element. Stringers and errors become
// their string form; JSON marshalers, maps and structs become JSON text.
// Channels, funcs and unsafe pointers become a "resource (<type>)" descriptor,
// and anything else becomes its type name.
func Normalize(v any) (out any) {
	defer func() {
		if r := recover(); r != nil {
			out = typeName(v)
		}
	}()

	s, rv := classify(v)
	switch s {
	case shapeNone:
		return nil
	case shapeScalar:
		return scalar(rv)
	case shapeList:
		return list(rv)
	case shapeStringer:
		if err, ok := v.(error); ok {
			return err.Error()
		}
		return v.(fmt.Stringer).String()
	case shapeJSON:
		data, err := json.Marshal(v)
		if err != nil {
			return typeName(v)
		}
		return string(data)
	case shapeOpaque:
		return "resource (" + rv.Type().String() + ")"
	default:
		return typeName(v)
	}
}

// NormalizeAttrs normalizes every value and drops attributes with an empty key.
// The input slice is not modified.
func NormalizeAttrs(attrs []Attr) []Attr {
	out := make([]Attr, 0, len(attrs))
	for _, a := range attrs {
		if a.Key == "" {
			continue
		}
		out = append(out, Attr{Key: a.Key, Value: Normalize(a.Value)})
	}
	return out
}

func classify(v any) (shape, reflect.Value) {
	if v == nil {
		return shapeNone, reflect.Value{}
	}
	rv := reflect.ValueOf(v)

	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Func, reflect.Chan:
		if rv.IsNil() {
			return shapeNone, rv
		}
	}

	switch v.(type) {
	case bool, string, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, float32, float64:
		return shapeScalar, rv
	case error, fmt.Stringer:
		return shapeStringer, rv
	case json.Marshaler:
		return shapeJSON, rv
	}

	switch rv.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return shapeScalar, rv
	case reflect.Slice, reflect.Array:
		return shapeList, rv
	case reflect.Map, reflect.Struct:
		return shapeJSON, rv
	case reflect.Pointer:
		if rv.Elem().Kind() == reflect.Struct {
			return shapeJSON, rv
		}
		return shapeObject, rv
	case reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return shapeOpaque, rv
	default:
		return shapeObject, rv
	}
}

func scalar(rv reflect.Value) any {
	switch rv.Kind() {
	case reflect.Bool:
		return rv.Bool()
	case reflect.String:
		return rv.String()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return strconv.FormatUint(u, 10)
		}
		return int64(u)
	default:
		return rv.Float()
	}
}

func list(rv reflect.Value) any {
	n := rv.Len()
	if n == 1 {
		return Normalize(rv.Index(0).Interface())
	}
	out := make([]any, n)
	for i := range n {
		out[i] = element(rv.Index(i).Interface())
	}
	return out
}

// element keeps list output flat: a nested list is encoded as JSON text.
func element(v any) any {
	n := Normalize(v)
	if nested, ok := n.([]any); ok {
		data, err := json.Marshal(nested)
		if err != nil {
			return typeName(v)
		}
		return string(data)
	}
	return n
}

func typeName(v any) string {
	if v == nil {
		return "nil"
	}
	return reflect.TypeOf(v).String()
}
