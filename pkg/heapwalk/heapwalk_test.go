package heapwalk

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/graftwork/livemigrate/pkg/migerr"
)

type leaf struct{ Name string }
type branch struct {
	Leaves []interface{}
	Next   *branch
}

func TestRegistryWalker_FindsExactTypeOnly(t *testing.T) {
	type subLeaf struct{ leaf }
	root := &branch{Leaves: []interface{}{&leaf{Name: "a"}, &subLeaf{leaf{Name: "b"}}}}

	w := RegistryWalker{Roots: []interface{}{root}}
	snap, err := w.Snapshot(context.Background(), []reflect.Type{reflect.TypeOf(leaf{})})
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	found := snap.For(reflect.TypeOf(leaf{}))
	if len(found) != 1 {
		t.Fatalf("expected exactly 1 exact-type match (subLeaf must not count), got %d", len(found))
	}
}

func TestRegistryWalker_TraversesCyclesWithoutLooping(t *testing.T) {
	a := &branch{}
	b := &branch{Leaves: []interface{}{&leaf{Name: "x"}}}
	a.Next = b
	b.Next = a

	w := RegistryWalker{Roots: []interface{}{a}}
	snap, err := w.Snapshot(context.Background(), []reflect.Type{reflect.TypeOf(leaf{})})
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(snap.For(reflect.TypeOf(leaf{}))) != 1 {
		t.Fatalf("expected 1 leaf found despite cycle")
	}
}

func TestRegistryWalker_HonorsDeadline(t *testing.T) {
	root := &branch{}
	cur := root
	for i := 0; i < 10000; i++ {
		cur.Next = &branch{Leaves: []interface{}{&leaf{Name: "x"}}}
		cur = cur.Next
	}

	w := RegistryWalker{Roots: []interface{}{root}}
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	_, err := w.Snapshot(ctx, []reflect.Type{reflect.TypeOf(leaf{})})
	if !migerr.Is(err, migerr.SnapshotFailed) {
		t.Fatalf("expected SnapshotFailed on expired deadline, got %v", err)
	}
}

func TestFullWalker_AlwaysUnsupported(t *testing.T) {
	w := FullWalker{}
	_, err := w.Snapshot(context.Background(), []reflect.Type{reflect.TypeOf(leaf{})})
	if !migerr.Is(err, migerr.SnapshotFailed) {
		t.Fatalf("expected SnapshotFailed (no platform walker configured), got %v", err)
	}
}

func TestSnapshot_MergeCombinesPerTypeResults(t *testing.T) {
	type other struct{ Name string }

	a := NewSnapshot()
	av := reflect.ValueOf(&leaf{Name: "a"})
	a.instances[reflect.TypeOf(leaf{})] = []reflect.Value{av}

	b := NewSnapshot()
	bv := reflect.ValueOf(&other{Name: "b"})
	b.instances[reflect.TypeOf(other{})] = []reflect.Value{bv}

	merged := NewSnapshot()
	merged.Merge(a)
	merged.Merge(b)

	if len(merged.For(reflect.TypeOf(leaf{}))) != 1 || len(merged.For(reflect.TypeOf(other{}))) != 1 {
		t.Fatalf("expected both per-type results present after merge, got %+v", merged.instances)
	}
}

func TestParseMode_CaseInsensitive(t *testing.T) {
	if ParseMode("spec") != ModeSpec || ParseMode("SPEC") != ModeSpec {
		t.Fatal("expected spec/SPEC to parse as ModeSpec")
	}
	if ParseMode("full") != ModeFull || ParseMode("") != ModeFull {
		t.Fatal("expected full/empty to default to ModeFull")
	}
}
