// Package props defines the dynamic property bag attached to elements and
// resource instances, plus the structural equality rules the reconciler and
// registry use. Values are serializable scalars, slices, and nested maps,
// with opaque accessor closures allowed for lazily wired outputs.
package props

import (
	"reflect"
	"strings"
)

// Map is a bag of named properties. Lookups are plain map accesses; there is
// no inherited or defaulted lookup path.
type Map map[string]any

// metadataPrefix marks internal keys that carry renderer bookkeeping rather
// than resource configuration. They are excluded from structural equality.
const metadataPrefix = "__"

// KeyProp is the reserved sibling-disambiguation property.
const KeyProp = "key"

// Get returns the value for name, nil when absent.
func (m Map) Get(name string) any {
	if m == nil {
		return nil
	}
	return m[name]
}

// Has reports whether name is present, even with a nil value.
func (m Map) Has(name string) bool {
	if m == nil {
		return false
	}
	_, ok := m[name]
	return ok
}

// Key returns the element key, empty when unset.
func (m Map) Key() string {
	if s, ok := m.Get(KeyProp).(string); ok {
		return s
	}
	return ""
}

// Clone returns a shallow copy.
func (m Map) Clone() Map {
	if m == nil {
		return nil
	}
	out := make(Map, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// HasUndefined reports whether any value other than metadata keys and the
// key prop is nil, which marks a dependency that has not materialized yet.
func (m Map) HasUndefined() bool {
	for k, v := range m {
		if strings.HasPrefix(k, metadataPrefix) || k == KeyProp {
			continue
		}
		if v == nil {
			return true
		}
	}
	return false
}

// Serializable returns a copy stripped of accessor closures and metadata
// keys, suitable for persistence.
func (m Map) Serializable() Map {
	if m == nil {
		return nil
	}
	out := make(Map, len(m))
	for k, v := range m {
		if strings.HasPrefix(k, metadataPrefix) {
			continue
		}
		if v != nil && reflect.TypeOf(v).Kind() == reflect.Func {
			continue
		}
		out[k] = v
	}
	return out
}

// DeepEqual compares two maps structurally, ignoring metadata keys.
// Closures compare by code pointer, so two closures created from the same
// function literal compare equal whatever they capture; everything else
// compares recursively by value.
func DeepEqual(a, b Map) bool {
	return deepEqualMaps(a, b)
}

func deepEqualMaps(a, b map[string]any) bool {
	for k := range a {
		if strings.HasPrefix(k, metadataPrefix) {
			continue
		}
		if _, ok := b[k]; !ok {
			return false
		}
	}
	for k := range b {
		if strings.HasPrefix(k, metadataPrefix) {
			continue
		}
		if _, ok := a[k]; !ok {
			return false
		}
	}
	for k, av := range a {
		if strings.HasPrefix(k, metadataPrefix) {
			continue
		}
		if !deepEqualValue(av, b[k]) {
			return false
		}
	}
	return true
}

func deepEqualValue(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ra, rb := reflect.ValueOf(a), reflect.ValueOf(b)
	if ra.Kind() == reflect.Func || rb.Kind() == reflect.Func {
		return ra.Kind() == rb.Kind() && ra.Pointer() == rb.Pointer()
	}
	// Persisted values decode as map[string]any while live props may carry
	// Map; both shapes compare structurally.
	if am, ok := asStringMap(a); ok {
		bm, ok := asStringMap(b)
		return ok && deepEqualMaps(am, bm)
	}
	if as, ok := a.([]any); ok {
		bs, ok := b.([]any)
		if !ok || len(as) != len(bs) {
			return false
		}
		for i := range as {
			if !deepEqualValue(as[i], bs[i]) {
				return false
			}
		}
		return true
	}
	if numericEqual(ra, rb) {
		return true
	}
	return reflect.DeepEqual(a, b)
}

func asStringMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case Map:
		return m, true
	case map[string]any:
		return m, true
	default:
		return nil, false
	}
}

// numericEqual treats numbers of different Go types as equal when their
// values match, since persisted JSON round-trips ints into float64.
func numericEqual(a, b reflect.Value) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	return aok && bok && af == bf
}

func toFloat(v reflect.Value) (float64, bool) {
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(v.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(v.Uint()), true
	case reflect.Float32, reflect.Float64:
		return v.Float(), true
	default:
		return 0, false
	}
}

// ShallowEqual compares two values by value without recursing. Functions
// compare by code pointer, as in DeepEqual. Uncomparable values (maps,
// slices) are treated as changed.
func ShallowEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta.Kind() == reflect.Func && tb.Kind() == reflect.Func {
		return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
	}
	if ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}
