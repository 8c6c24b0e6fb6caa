package capability

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// Well-known keys of a capability descriptor.
const (
	KeyBrowserName     = "browserName"
	KeyMaxInstances    = "maxInstances"
	KeyCount           = "count"
	KeyShardTestFiles  = "shardTestFiles"
	KeySpecs           = "specs"
	KeyExclude         = "exclude"
	KeyDownloadOptions = "downloadOptions"
)

// Capabilities describes one execution lane. Callers may put any keys they like in
// it; the scheduler reads the well-known keys above and treats the rest as opaque.
type Capabilities map[string]any

// Kind returns the browser name used to pick an enricher.
func (c Capabilities) Kind() string {
	s, _ := c[KeyBrowserName].(string)
	return s
}

// MaxInstances returns the per-lane concurrency cap, never less than 1.
func (c Capabilities) MaxInstances() int { return c.positive(KeyMaxInstances) }

// Count returns the number of replicas to create, never less than 1.
func (c Capabilities) Count() int { return c.positive(KeyCount) }

// positive reads a whole number under key, falling back to 1 when it is missing,
// invalid or below 1.
func (c Capabilities) positive(key string) int {
	v := c[key]
	if v == nil {
		return 1
	}
	n, ok := Int(v)
	if !ok {
		log.Warn().Str("key", key).Interface("value", v).Msg("not a whole number, using 1")
		return 1
	}
	if n < 1 {
		return 1
	}
	return n
}

// ShardTestFiles reports whether each spec file is dispatched as its own task.
func (c Capabilities) ShardTestFiles() bool {
	switch v := c[KeyShardTestFiles].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return false
}

// Specs returns the lane specific spec patterns.
func (c Capabilities) Specs() []string { return Strings(c[KeySpecs]) }

// Exclude returns the lane specific exclusion patterns.
func (c Capabilities) Exclude() []string { return Strings(c[KeyExclude]) }

// DownloadDirectory returns downloadOptions.directory, or "" when unset.
func (c Capabilities) DownloadDirectory() string {
	opts, ok := c[KeyDownloadOptions].(map[string]any)
	if !ok {
		return ""
	}
	dir, _ := opts["directory"].(string)
	return strings.TrimSpace(dir)
}

// Map returns the nested map stored under key, creating it when absent or of
// another type.
func (c Capabilities) Map(key string) map[string]any {
	if m, ok := c[key].(map[string]any); ok {
		return m
	}
	m := map[string]any{}
	c[key] = m
	return m
}

// DeepCopy returns an independent copy. Nested maps and slices are copied so that
// mutating the result never affects c.
func (c Capabilities) DeepCopy() Capabilities {
	if c == nil {
		return nil
	}
	return Capabilities(copyMap(c))
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyMap(t)
	case Capabilities:
		return t.DeepCopy()
	case map[any]any:
		out := make(map[any]any, len(t))
		for k, vv := range t {
			out[k] = copyValue(vv)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(t))
		for k, vv := range t {
			out[k] = vv
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = copyValue(vv)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	case []byte:
		return append([]byte(nil), t...)
	case nil:
		return nil
	default:
		return copyReflect(reflect.ValueOf(v)).Interface()
	}
}

// copyReflect copies maps, slices and arrays of any element type, recursing into
// their elements. Other values, pointers and structs included, are returned as is.
func copyReflect(rv reflect.Value) reflect.Value {
	switch rv.Kind() {
	case reflect.Map:
		if rv.IsNil() {
			return rv
		}
		out := reflect.MakeMapWithSize(rv.Type(), rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), copyElem(iter.Value()))
		}
		return out
	case reflect.Slice:
		if rv.IsNil() {
			return rv
		}
		out := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out.Index(i).Set(copyElem(rv.Index(i)))
		}
		return out
	case reflect.Array:
		out := reflect.New(rv.Type()).Elem()
		for i := 0; i < rv.Len(); i++ {
			out.Index(i).Set(copyElem(rv.Index(i)))
		}
		return out
	}
	return rv
}

func copyElem(ev reflect.Value) reflect.Value {
	if ev.Kind() != reflect.Interface {
		return copyReflect(ev)
	}
	if ev.IsNil() {
		return ev
	}
	return reflect.ValueOf(copyValue(ev.Elem().Interface()))
}

// Int converts the numeric representations produced by YAML and JSON decoders.
// Values that do not fit an int and floats with a fractional part are rejected.
func Int(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int8:
		return int(n), true
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		if n > math.MaxInt || n < math.MinInt {
			return 0, false
		}
		return int(n), true
	case uint:
		return fromUint(uint64(n))
	case uint8:
		return int(n), true
	case uint16:
		return int(n), true
	case uint32:
		return fromUint(uint64(n))
	case uint64:
		return fromUint(n)
	case float32:
		return fromFloat(float64(n))
	case float64:
		return fromFloat(n)
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		return i, err == nil
	}
	return 0, false
}

func fromUint(n uint64) (int, bool) {
	if n > math.MaxInt {
		return 0, false
	}
	return int(n), true
}

func fromFloat(f float64) (int, bool) {
	if f != math.Trunc(f) || f >= float64(math.MaxInt) || f < float64(math.MinInt) {
		return 0, false
	}
	return int(f), true
}

// Strings accepts a single string or a list and returns a string slice.
func Strings(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	case []string:
		return append([]string(nil), t...)
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if e == nil {
				continue
			}
			out = append(out, fmt.Sprint(e))
		}
		return out
	}
	return nil
}
