package otelbackend

import (
	"fmt"

	"github.com/zoobzio/flowtrace"
	"go.opentelemetry.io/otel/attribute"
)

// toOTELAttrs converts normalized attributes. Null values are skipped, since
// OpenTelemetry has no null attribute.
func toOTELAttrs(attrs []flowtrace.Attr) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, a := range attrs {
		if kv, ok := toOTELAttr(a); ok {
			out = append(out, kv)
		}
	}
	return out
}

// toOTELAttr converts a flowtrace.Attr to an OTEL attribute.KeyValue.
func toOTELAttr(a flowtrace.Attr) (attribute.KeyValue, bool) {
	switch v := a.Value.(type) {
	case nil:
		return attribute.KeyValue{}, false
	case string:
		return attribute.String(a.Key, v), true
	case bool:
		return attribute.Bool(a.Key, v), true
	case int:
		return attribute.Int(a.Key, v), true
	case int64:
		return attribute.Int64(a.Key, v), true
	case float64:
		return attribute.Float64(a.Key, v), true
	case []any:
		return sliceAttr(a.Key, v), true
	default:
		return attribute.String(a.Key, fmt.Sprintf("%v", v)), true
	}
}

// sliceAttr keeps homogeneous lists typed; mixed lists become strings.
func sliceAttr(key string, values []any) attribute.KeyValue {
	switch {
	case allOf[string](values):
		return attribute.StringSlice(key, collect[string](values))
	case allOf[bool](values):
		return attribute.BoolSlice(key, collect[bool](values))
	case allOf[int64](values):
		return attribute.Int64Slice(key, collect[int64](values))
	case allOf[float64](values):
		return attribute.Float64Slice(key, collect[float64](values))
	}

	out := make([]string, len(values))
	for i, v := range values {
		if v == nil {
			out[i] = "null"
			continue
		}
		out[i] = fmt.Sprintf("%v", v)
	}
	return attribute.StringSlice(key, out)
}

func allOf[T any](values []any) bool {
	if len(values) == 0 {
		return false
	}
	for _, v := range values {
		if _, ok := v.(T); !ok {
			return false
		}
	}
	return true
}

func collect[T any](values []any) []T {
	out := make([]T, len(values))
	for i, v := range values {
		out[i] = v.(T)
	}
	return out
}
