// Package transferable validates values crossing a pipeline's execution
// boundary (e.g. into a worker/goroutine-isolated stage or an external
// sink) against a structured-cloneable subset, and discovers owned buffers
// that can be transferred rather than copied: a recursive walk over
// map[string]any/[]any/primitive value trees with path-qualified
// rejection, plus transferable-buffer discovery.
package transferable

import (
	"fmt"
	"reflect"
)

// ValidationError reports the first structurally non-cloneable value found,
// with a path qualifying where in the value tree it occurred (e.g.
// "root.items[2].handle").
type ValidationError struct {
	Path   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("transferable: %s: %s", e.Path, e.Reason)
}

// Validate walks v and returns a *ValidationError if any part of it is not
// structured-cloneable: only primitives (bool, numeric kinds, string),
// nil, byte slices/typed arrays ([]T of a primitive T), plain slices,
// plain maps (with string or numeric keys), and plain structs composed
// entirely of cloneable fields are permitted. Class-like values — anything
// carrying methods with pointer-receiver state, interfaces wrapping
// non-cloneable types, channels, funcs, and named special-cased types like
// time.Time — fail validation.
func Validate(v any) error {
	return validateAt("root", reflect.ValueOf(v))
}

var disallowedTypeNames = map[string]bool{
	"time.Time": true,
}

func validateAt(path string, rv reflect.Value) error {
	if !rv.IsValid() {
		return nil // nil interface value: cloneable
	}
	if name := rv.Type().String(); disallowedTypeNames[name] {
		return &ValidationError{Path: path, Reason: fmt.Sprintf("%s is not structured-cloneable", name)}
	}

	switch rv.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64,
		reflect.String:
		return nil

	case reflect.Ptr:
		if rv.IsNil() {
			return nil
		}
		return validateAt(path, rv.Elem())

	case reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return validateAt(path, rv.Elem())

	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			if err := validateAt(fmt.Sprintf("%s[%d]", path, i), rv.Index(i)); err != nil {
				return err
			}
		}
		return nil

	case reflect.Map:
		iter := rv.MapRange()
		for iter.Next() {
			k := iter.Key()
			if k.Kind() != reflect.String && !isNumericKind(k.Kind()) {
				return &ValidationError{Path: path, Reason: "map keys must be string or numeric"}
			}
			childPath := fmt.Sprintf("%s.%v", path, k.Interface())
			if err := validateAt(childPath, iter.Value()); err != nil {
				return err
			}
		}
		return nil

	case reflect.Struct:
		t := rv.Type()
		if t.NumMethod() > 0 || reflect.PointerTo(t).NumMethod() > 0 {
			return &ValidationError{Path: path, Reason: fmt.Sprintf("%s is a class instance, not a plain object", t.String())}
		}
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			if !field.IsExported() {
				continue
			}
			if err := validateAt(path+"."+field.Name, rv.Field(i)); err != nil {
				return err
			}
		}
		return nil

	default:
		return &ValidationError{Path: path, Reason: fmt.Sprintf("kind %s is not structured-cloneable", rv.Kind())}
	}
}

func isNumericKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}

// GetTransferables walks v and returns every non-nil byte-buffer ([]byte)
// found, in traversal order. The returned slices share memory with the
// buffers in v. Go has no typed-array layer wrapping a separate buffer the
// way a JS Uint8Array wraps an ArrayBuffer, so no []byte is skipped.
func GetTransferables(v any) [][]byte {
	var out [][]byte
	collectTransferables(reflect.ValueOf(v), &out)
	return out
}

func collectTransferables(rv reflect.Value, out *[][]byte) {
	if !rv.IsValid() {
		return
	}
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface:
		if !rv.IsNil() {
			collectTransferables(rv.Elem(), out)
		}
	case reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			if !rv.IsNil() {
				*out = append(*out, rv.Bytes())
			}
			return
		}
		for i := 0; i < rv.Len(); i++ {
			collectTransferables(rv.Index(i), out)
		}
	case reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			collectTransferables(rv.Index(i), out)
		}
	case reflect.Map:
		iter := rv.MapRange()
		for iter.Next() {
			collectTransferables(iter.Value(), out)
		}
	case reflect.Struct:
		for i := 0; i < rv.NumField(); i++ {
			if rv.Type().Field(i).IsExported() {
				collectTransferables(rv.Field(i), out)
			}
		}
	}
}
