// Package heapwalk enumerates live instances of designated old types, in
// either FULL (whole-heap) or SPEC (reachable-from-roots) mode.
package heapwalk

import (
	"context"
	"reflect"
	"time"

	"github.com/graftwork/livemigrate/pkg/migerr"
)

// Mode selects the enumeration strategy.
type Mode int

const (
	// ModeFull enumerates every live instance of every old type. Requires a
	// runtime whole-heap iteration primitive; see FullWalker.
	ModeFull Mode = iota
	// ModeSpec enumerates only instances reachable from caller-supplied
	// roots plus their transitive references.
	ModeSpec
)

// ParseMode maps a case-insensitive config string to a Mode, defaulting to
// ModeFull.
func ParseMode(s string) Mode {
	switch lower(s) {
	case "spec":
		return ModeSpec
	default:
		return ModeFull
	}
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// Snapshot maps each requested old type to the live instances found.
// Instances are matched by exact runtime type identity, never by subtype.
type Snapshot struct {
	instances map[reflect.Type][]reflect.Value
}

func newSnapshot() *Snapshot {
	return &Snapshot{instances: make(map[reflect.Type][]reflect.Value)}
}

// NewSnapshot creates an empty Snapshot. Exposed so callers composing
// several bounded per-type Walker calls (see Config.TimeoutHeapSnapshot)
// have somewhere to Merge results into.
func NewSnapshot() *Snapshot { return newSnapshot() }

// For returns the instances of t found in this snapshot.
func (s *Snapshot) For(t reflect.Type) []reflect.Value {
	if s == nil {
		return nil
	}
	return s.instances[t]
}

// Merge copies other's per-type instance lists into s, overwriting any
// existing entry for the same type. Used by callers that build one
// Snapshot out of several bounded, per-type walker calls (see
// Config.TimeoutHeapSnapshot).
func (s *Snapshot) Merge(other *Snapshot) {
	if other == nil {
		return
	}
	for t, instances := range other.instances {
		s.instances[t] = instances
	}
}

// Walker is the contract the engine depends on; it never depends on a
// specific enumeration strategy.
type Walker interface {
	// Snapshot enumerates instances of each type in types under ctx's
	// deadline. Returns migerr.SnapshotFailed (including timeout and
	// unsupported-mode cases) on failure.
	Snapshot(ctx context.Context, types []reflect.Type) (*Snapshot, error)
}

// FullWalker enumerates the entire process heap. The Go runtime exposes no
// portable whole-heap iteration primitive, so this implementation always
// reports Unsupported; a platform-specific build (e.g. one backed by a
// debug/gc heap-dump hook) can satisfy the same Walker interface instead.
type FullWalker struct{}

func (FullWalker) Snapshot(ctx context.Context, types []reflect.Type) (*Snapshot, error) {
	return nil, migerr.New(migerr.SnapshotFailed, "FULL heap enumeration requires a platform-specific walker; none configured")
}

// RegistryWalker implements SPEC mode: it walks the reachable graph from a
// caller-supplied set of roots, collecting every instance whose runtime
// type exactly matches one of the requested types. Mutation must already be
// frozen by the caller for the duration of Snapshot; this walker does not
// itself acquire any lock.
type RegistryWalker struct {
	Roots []interface{}
}

func (w RegistryWalker) Snapshot(ctx context.Context, types []reflect.Type) (*Snapshot, error) {
	wanted := make(map[reflect.Type]bool, len(types))
	for _, t := range types {
		wanted[t] = true
	}

	snap := newSnapshot()
	seen := make(map[uintptr]bool)

	deadline, hasDeadline := ctx.Deadline()

	var visit func(v reflect.Value) error
	visit = func(v reflect.Value) error {
		if hasDeadline && time.Now().After(deadline) {
			return migerr.New(migerr.SnapshotFailed, "heap walk timed out")
		}
		if !v.IsValid() {
			return nil
		}

		switch v.Kind() {
		case reflect.Ptr:
			if v.IsNil() {
				return nil
			}
			ptr := v.Pointer()
			if seen[ptr] {
				return nil
			}
			seen[ptr] = true
			if wanted[v.Elem().Type()] {
				snap.instances[v.Elem().Type()] = append(snap.instances[v.Elem().Type()], v)
			}
			return visit(v.Elem())
		case reflect.Interface:
			if v.IsNil() {
				return nil
			}
			return visit(v.Elem())
		case reflect.Struct:
			for i := 0; i < v.NumField(); i++ {
				field := v.Field(i)
				if !field.CanInterface() {
					continue
				}
				if err := visit(field); err != nil {
					return err
				}
			}
			return nil
		case reflect.Slice, reflect.Array:
			for i := 0; i < v.Len(); i++ {
				if err := visit(v.Index(i)); err != nil {
					return err
				}
			}
			return nil
		case reflect.Map:
			iter := v.MapRange()
			for iter.Next() {
				if err := visit(iter.Value()); err != nil {
					return err
				}
			}
			return nil
		default:
			return nil
		}
	}

	for _, root := range w.Roots {
		rv := reflect.ValueOf(root)
		if err := visit(rv); err != nil {
			return nil, err
		}
	}

	return snap, nil
}
