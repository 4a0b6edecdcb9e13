// Package rewrite implements the reference rewriter: given a rewrite map of
// old instance identities to their replacements, it rewires every reachable
// slot (field, slice/array element, map key or value) that points to an old
// instance.
package rewrite

import (
	"fmt"
	"reflect"

	"github.com/graftwork/livemigrate/pkg/migerr"
)

// Map is the identity-keyed old-instance -> new-instance mapping built as
// replacements are constructed. Keys are pointer identities, never value
// equality.
type Map struct {
	entries map[uintptr]reflect.Value
}

// NewMap creates an empty rewrite map.
func NewMap() *Map {
	return &Map{entries: make(map[uintptr]reflect.Value)}
}

// Put records that the instance at oldPtr (a Ptr-kind reflect.Value) has
// been replaced by newPtr.
func (m *Map) Put(oldPtr, newPtr reflect.Value) {
	m.entries[oldPtr.Pointer()] = newPtr
}

// lookup returns the replacement for the pointer identity ptr, if any.
func (m *Map) lookup(ptr uintptr) (reflect.Value, bool) {
	v, ok := m.entries[ptr]
	return v, ok
}

// Len reports how many replacements the map holds.
func (m *Map) Len() int { return len(m.entries) }

// OnReplaced is the application registry hook: invoked once per
// replacement, after the slot-level rewrite for that instance completes,
// so the application can swap its own module-level reference.
type OnReplaced func(oldInstance, newInstance reflect.Value)

// Rewriter rewires every reachable reference to an old instance with its
// replacement, starting from a caller-supplied root set.
type Rewriter struct{}

// Rewire walks the object graph reachable from roots and replaces every
// slot whose value is a key in rm with its image. Pre-condition: all
// replacements in rm must already be fully constructed; construction and
// rewiring are never interleaved, and Rewire itself never calls a
// transformer.
func (Rewriter) Rewire(roots []interface{}, rm *Map) error {
	if rm.Len() == 0 {
		return nil
	}
	visited := make(map[uintptr]bool)
	for _, root := range roots {
		v := reflect.ValueOf(root)
		if err := rewireValue(v, rm, visited); err != nil {
			return err
		}
	}
	return nil
}

// isImmutable reports whether v's kind is one the rewriter must not descend
// into: strings, numbers, and booleans are never walked.
func isImmutable(k reflect.Kind) bool {
	switch k {
	case reflect.String, reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64,
		reflect.Complex64, reflect.Complex128,
		reflect.Func, reflect.Chan, reflect.UnsafePointer, reflect.Invalid:
		return true
	default:
		return false
	}
}

// replacementFor returns the image of v under rm if v (or, for an
// interface, its concrete element) is a pointer whose identity is a key in
// rm.
func replacementFor(v reflect.Value, rm *Map) (reflect.Value, bool) {
	target := v
	if target.Kind() == reflect.Interface {
		if target.IsNil() {
			return reflect.Value{}, false
		}
		target = target.Elem()
	}
	if target.Kind() != reflect.Ptr || target.IsNil() {
		return reflect.Value{}, false
	}
	return rm.lookup(target.Pointer())
}

func rewireValue(v reflect.Value, rm *Map, visited map[uintptr]bool) error {
	if !v.IsValid() || isImmutable(v.Kind()) {
		return nil
	}

	switch v.Kind() {
	case reflect.Ptr:
		if v.IsNil() {
			return nil
		}
		if visited[v.Pointer()] {
			return nil
		}
		visited[v.Pointer()] = true
		return rewireValue(v.Elem(), rm, visited)

	case reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return rewireValue(v.Elem(), rm, visited)

	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			field := v.Field(i)
			if !field.CanInterface() {
				continue
			}
			if replacement, ok := replacementFor(field, rm); ok {
				if !field.CanSet() {
					return migerr.New(migerr.RewriteFailed, fmt.Sprintf("field %s is read-only, cannot rewire", v.Type().Field(i).Name))
				}
				field.Set(replacement)
				continue
			}
			if err := rewireValue(field, rm, visited); err != nil {
				return err
			}
		}
		return nil

	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			elem := v.Index(i)
			if replacement, ok := replacementFor(elem, rm); ok {
				if !elem.CanSet() {
					return migerr.New(migerr.RewriteFailed, "sequence element is read-only, cannot rewire")
				}
				elem.Set(replacement)
				continue
			}
			if err := rewireValue(elem, rm, visited); err != nil {
				return err
			}
		}
		return nil

	case reflect.Map:
		return rewireMap(v, rm, visited)

	default:
		return nil
	}
}

// rewireMap handles both "mappings" (values are replaced in place; a replaced
// key is deleted and the entry re-inserted under the new key, so when two
// old keys map to the same new key the change applied last wins) and "sets
// keyed by identity" (a set is just a map to struct{}/bool; the same
// key-rewrite path rebuilds it).
func rewireMap(v reflect.Value, rm *Map, visited map[uintptr]bool) error {
	if v.IsNil() {
		return nil
	}

	type change struct {
		oldKey, newKey reflect.Value
		newValue       reflect.Value
	}
	var changes []change

	iter := v.MapRange()
	for iter.Next() {
		key := iter.Key()
		val := iter.Value()

		newKey := key
		keyChanged := false
		if replacement, ok := replacementFor(key, rm); ok {
			newKey = replacement
			keyChanged = true
		}

		newVal := val
		valChanged := false
		if replacement, ok := replacementFor(val, rm); ok {
			newVal = replacement
			valChanged = true
		} else if err := rewireValue(val, rm, visited); err != nil {
			// Maps values aren't addressable, so in-place mutation of the
			// nested value (e.g. fields inside a struct stored by value in
			// the map) cannot be applied back without an explicit
			// SetMapIndex. Values that are themselves pointers/interfaces
			// are handled above via replacementFor; struct-by-value map
			// entries containing plan-covered fields are out of scope for
			// in-place rewiring and surface as RewriteFailed.
			return err
		}

		if keyChanged || valChanged {
			changes = append(changes, change{oldKey: key, newKey: newKey, newValue: newVal})
		}
	}

	for _, c := range changes {
		if !c.newKey.Equal(c.oldKey) {
			v.SetMapIndex(c.oldKey, reflect.Value{})
		}
		v.SetMapIndex(c.newKey, c.newValue)
	}

	return nil
}
