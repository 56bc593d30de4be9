package sanitize

import (
	"fmt"
	"reflect"
	"strings"
	"time"
)

const (
	// RedactedMarker replaces the value of any sensitive field.
	RedactedMarker = "[REDACTED]"

	// CircularMarker replaces a value already on the current traversal
	// path, so cyclic structures terminate.
	CircularMarker = "[Circular]"

	// maxDepth bounds traversal of pathological nesting.
	maxDepth = 32
)

// DefaultSensitiveFields are the field names redacted when a Redactor is
// constructed without an explicit list. Matching is case-insensitive and by
// substring, so "apiKey" and "sessionToken" are both caught.
var DefaultSensitiveFields = []string{
	"password", "token", "secret", "key", "authorization",
	"credential", "cookie",
}

// Redactor deep-copies structures and replaces sensitive values before
// they reach a log sink. It never mutates its input.
type Redactor struct {
	sensitive []string
}

// NewRedactor creates a Redactor for the given sensitive field names.
// An empty list falls back to DefaultSensitiveFields.
func NewRedactor(fields ...string) *Redactor {
	if len(fields) == 0 {
		fields = DefaultSensitiveFields
	}
	lowered := make([]string, len(fields))
	for i, f := range fields {
		lowered[i] = strings.ToLower(f)
	}
	return &Redactor{sensitive: lowered}
}

// Sensitive reports whether a field name should be redacted.
func (r *Redactor) Sensitive(name string) bool {
	lower := strings.ToLower(name)
	for _, field := range r.sensitive {
		if strings.Contains(lower, field) {
			return true
		}
	}
	return false
}

// ForLogging returns a deep copy of v with every sensitive field replaced
// by RedactedMarker. Maps and structs become map[string]any, slices become
// []any. Cyclic references are replaced with CircularMarker instead of
// recursing.
func (r *Redactor) ForLogging(v any) any {
	return r.walk(reflect.ValueOf(v), make(map[uintptr]bool), 0)
}

func (r *Redactor) walk(v reflect.Value, path map[uintptr]bool, depth int) any {
	if !v.IsValid() {
		return nil
	}
	if depth > maxDepth {
		return CircularMarker
	}

	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return r.walk(v.Elem(), path, depth)

	case reflect.Pointer:
		if v.IsNil() {
			return nil
		}
		ptr := v.Pointer()
		if path[ptr] {
			return CircularMarker
		}
		path[ptr] = true
		out := r.walk(v.Elem(), path, depth+1)
		delete(path, ptr)
		return out

	case reflect.Map:
		if v.IsNil() {
			return nil
		}
		ptr := v.Pointer()
		if path[ptr] {
			return CircularMarker
		}
		path[ptr] = true
		out := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			name := keyString(iter.Key())
			if r.Sensitive(name) {
				out[name] = RedactedMarker
				continue
			}
			out[name] = r.walk(iter.Value(), path, depth+1)
		}
		delete(path, ptr)
		return out

	case reflect.Slice:
		if v.IsNil() {
			return nil
		}
		ptr := v.Pointer()
		if path[ptr] {
			return CircularMarker
		}
		path[ptr] = true
		out := r.copySequence(v, path, depth)
		delete(path, ptr)
		return out

	case reflect.Array:
		return r.copySequence(v, path, depth)

	case reflect.Struct:
		// time.Time is a value, not a structure to traverse.
		if t, ok := v.Interface().(time.Time); ok {
			return t
		}
		typ := v.Type()
		out := make(map[string]any, v.NumField())
		for i := 0; i < v.NumField(); i++ {
			field := typ.Field(i)
			if !field.IsExported() {
				continue
			}
			if r.Sensitive(field.Name) {
				out[field.Name] = RedactedMarker
				continue
			}
			out[field.Name] = r.walk(v.Field(i), path, depth+1)
		}
		return out

	case reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return fmt.Sprintf("[%s]", v.Kind())

	default:
		return v.Interface()
	}
}

func (r *Redactor) copySequence(v reflect.Value, path map[uintptr]bool, depth int) []any {
	out := make([]any, v.Len())
	for i := 0; i < v.Len(); i++ {
		out[i] = r.walk(v.Index(i), path, depth+1)
	}
	return out
}

func keyString(k reflect.Value) string {
	if k.Kind() == reflect.String {
		return k.String()
	}
	return fmt.Sprint(k.Interface())
}
