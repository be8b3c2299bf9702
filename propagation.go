package flowtrace

import (
	"maps"
	"slices"
	"strings"

	"go.opentelemetry.io/otel/propagation"
)

// Codec moves span context in and out of flat string carriers.
type Codec = propagation.TextMapPropagator

// PropagationContext holds the codec fields found in a carrier.
// It is immutable; the zero value is empty.
type PropagationContext struct {
	values map[string]string
	keys   []string
}

// FilterContext keeps exactly the carrier entries whose key matches one of
// fields, compared case-insensitively. Matching keys keep their spelling.
func FilterContext(fields []string, carrier map[string]string) PropagationContext {
	if len(fields) == 0 || len(carrier) == 0 {
		return PropagationContext{}
	}

	known := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		known[strings.ToLower(f)] = struct{}{}
	}

	pc := PropagationContext{values: make(map[string]string)}
	for k, v := range carrier {
		if _, ok := known[strings.ToLower(k)]; ok {
			pc.values[k] = v
			pc.keys = append(pc.keys, k)
		}
	}
	slices.Sort(pc.keys)
	return pc
}

// newPropagationContext wraps an injected carrier without filtering.
func newPropagationContext(carrier map[string]string) PropagationContext {
	if len(carrier) == 0 {
		return PropagationContext{}
	}
	pc := PropagationContext{values: maps.Clone(carrier)}
	pc.keys = slices.Sorted(maps.Keys(carrier))
	return pc
}

// Get returns the value stored under key.
func (p PropagationContext) Get(key string) (string, bool) {
	v, ok := p.values[key]
	return v, ok
}

// Keys returns the keys in order.
func (p PropagationContext) Keys() []string {
	return slices.Clone(p.keys)
}

// Map returns a copy of the context as a flat carrier.
// An empty context yields an empty, non-nil map.
func (p PropagationContext) Map() map[string]string {
	out := make(map[string]string, len(p.values))
	maps.Copy(out, p.values)
	return out
}

// Len returns the number of fields.
func (p PropagationContext) Len() int { return len(p.keys) }

// IsEmpty reports whether the context holds no fields.
func (p PropagationContext) IsEmpty() bool { return len(p.keys) == 0 }

// carrier exposes the context to a Codec.
func (p PropagationContext) carrier() propagation.TextMapCarrier {
	return foldCarrier(p.values)
}

// foldCarrier is a read-only carrier with case-insensitive lookups, so a
// field received as "Traceparent" still resolves for the codec.
type foldCarrier map[string]string

func (c foldCarrier) Get(key string) string {
	if v, ok := c[key]; ok {
		return v
	}
	for k, v := range c {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

func (foldCarrier) Set(string, string) {}

func (c foldCarrier) Keys() []string {
	return slices.Sorted(maps.Keys(c))
}
