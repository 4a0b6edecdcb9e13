package rewrite

import (
	"reflect"
	"testing"
)

type node struct {
	Name string
	Next *node
	Kids []*node
	Tags map[string]*node
}

func TestRewire_FieldReplaced(t *testing.T) {
	oldN := &node{Name: "old"}
	newN := &node{Name: "new"}
	root := &node{Name: "root", Next: oldN}

	rm := NewMap()
	rm.Put(reflect.ValueOf(oldN), reflect.ValueOf(newN))

	if err := (Rewriter{}).Rewire([]interface{}{root}, rm); err != nil {
		t.Fatalf("Rewire: %v", err)
	}
	if root.Next != newN {
		t.Fatalf("expected root.Next to be rewired to newN, got %v", root.Next)
	}
}

func TestRewire_SliceElementReplaced(t *testing.T) {
	oldN := &node{Name: "old"}
	newN := &node{Name: "new"}
	root := &node{Name: "root", Kids: []*node{oldN, {Name: "untouched"}}}

	rm := NewMap()
	rm.Put(reflect.ValueOf(oldN), reflect.ValueOf(newN))

	if err := (Rewriter{}).Rewire([]interface{}{root}, rm); err != nil {
		t.Fatalf("Rewire: %v", err)
	}
	if root.Kids[0] != newN {
		t.Fatalf("expected Kids[0] rewired, got %v", root.Kids[0])
	}
	if root.Kids[1].Name != "untouched" {
		t.Fatalf("unrelated slice element mutated")
	}
}

func TestRewire_MapValueReplaced(t *testing.T) {
	oldN := &node{Name: "old"}
	newN := &node{Name: "new"}
	root := &node{Name: "root", Tags: map[string]*node{"a": oldN}}

	rm := NewMap()
	rm.Put(reflect.ValueOf(oldN), reflect.ValueOf(newN))

	if err := (Rewriter{}).Rewire([]interface{}{root}, rm); err != nil {
		t.Fatalf("Rewire: %v", err)
	}
	if root.Tags["a"] != newN {
		t.Fatalf("expected Tags[a] rewired, got %v", root.Tags["a"])
	}
}

func TestRewire_MapKeyReplaced(t *testing.T) {
	oldN := &node{Name: "old-key"}
	newN := &node{Name: "new-key"}
	keyed := map[*node]string{oldN: "value"}
	root := struct {
		M map[*node]string
	}{M: keyed}

	rm := NewMap()
	rm.Put(reflect.ValueOf(oldN), reflect.ValueOf(newN))

	if err := (Rewriter{}).Rewire([]interface{}{&root}, rm); err != nil {
		t.Fatalf("Rewire: %v", err)
	}
	if _, stillPresent := root.M[oldN]; stillPresent {
		t.Fatalf("old key should have been removed")
	}
	if v, ok := root.M[newN]; !ok || v != "value" {
		t.Fatalf("expected new key to carry over the value, got %v, %v", v, ok)
	}
}

func TestRewire_MapKeyCollisionLastWriterWins(t *testing.T) {
	oldA := &node{Name: "a"}
	oldB := &node{Name: "b"}
	shared := &node{Name: "shared"}
	keyed := map[*node]string{oldA: "from-a", oldB: "from-b"}
	root := struct {
		M map[*node]string
	}{M: keyed}

	rm := NewMap()
	rm.Put(reflect.ValueOf(oldA), reflect.ValueOf(shared))
	rm.Put(reflect.ValueOf(oldB), reflect.ValueOf(shared))

	if err := (Rewriter{}).Rewire([]interface{}{&root}, rm); err != nil {
		t.Fatalf("Rewire: %v", err)
	}
	if len(root.M) != 1 {
		t.Fatalf("expected collision to collapse to a single entry, got %d", len(root.M))
	}
	if _, ok := root.M[shared]; !ok {
		t.Fatalf("expected shared key present after collision")
	}
}

func TestRewire_CyclicGraphTerminates(t *testing.T) {
	oldN := &node{Name: "old"}
	newN := &node{Name: "new"}
	a := &node{Name: "a"}
	b := &node{Name: "b", Next: oldN}
	a.Next = b
	oldN.Next = a // cycle: a -> b -> oldN -> a

	rm := NewMap()
	rm.Put(reflect.ValueOf(oldN), reflect.ValueOf(newN))

	if err := (Rewriter{}).Rewire([]interface{}{a}, rm); err != nil {
		t.Fatalf("Rewire: %v", err)
	}
	if b.Next != newN {
		t.Fatalf("expected b.Next rewired despite cycle, got %v", b.Next)
	}
}

func TestRewire_EmptyMapHasNoEffect(t *testing.T) {
	root := &node{Name: "root"}
	rm := NewMap()
	if err := (Rewriter{}).Rewire([]interface{}{root}, rm); err != nil {
		t.Fatalf("Rewire on empty map should be a no-op: %v", err)
	}
	if root.Name != "root" {
		t.Fatalf("root mutated unexpectedly")
	}
}

func TestRewire_ImmutableFieldsUntouched(t *testing.T) {
	oldN := &node{Name: "old"}
	newN := &node{Name: "new"}
	root := &node{Name: "keep-me", Next: oldN}

	rm := NewMap()
	rm.Put(reflect.ValueOf(oldN), reflect.ValueOf(newN))

	if err := (Rewriter{}).Rewire([]interface{}{root}, rm); err != nil {
		t.Fatalf("Rewire: %v", err)
	}
	if root.Name != "keep-me" {
		t.Fatalf("string field should never be walked or mutated, got %q", root.Name)
	}
}
