package checkpoint

import (
	"testing"

	"github.com/graftwork/livemigrate/pkg/migerr"
)

func TestNoop_RestoreIsUnsupported(t *testing.T) {
	n := Noop{}
	if err := n.Checkpoint(); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if err := n.DeleteCheckpoint(); err != nil {
		t.Fatalf("DeleteCheckpoint: %v", err)
	}
	if err := n.Restore(); !migerr.Is(err, migerr.RestoreUnsupported) {
		t.Fatalf("expected RestoreUnsupported, got %v", err)
	}
}

type registry struct {
	Name  string
	Count int
}

func TestSnapshotController_RestoreSignalsViaPanic(t *testing.T) {
	root := &registry{Name: "before", Count: 1}
	c := NewSnapshotController(root)

	if err := c.Checkpoint(); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}

	root.Name = "after"
	root.Count = 2

	func() {
		defer func() {
			r := recover()
			if r == nil {
				t.Fatal("expected Restore to panic RestoreSignal")
			}
			if _, ok := r.(RestoreSignal); !ok {
				t.Fatalf("expected RestoreSignal, got %T", r)
			}
		}()
		_ = c.Restore()
	}()

	if root.Name != "before" || root.Count != 1 {
		t.Fatalf("expected root restored to pre-checkpoint values, got %+v", root)
	}
}

func TestSnapshotController_RestoreWithoutCheckpointIsUnsupported(t *testing.T) {
	root := &registry{}
	c := NewSnapshotController(root)
	if err := c.Restore(); !migerr.Is(err, migerr.RestoreUnsupported) {
		t.Fatalf("expected RestoreUnsupported, got %v", err)
	}
}

func TestSnapshotController_DeepCopyIsIndependent(t *testing.T) {
	type node struct {
		Next *node
		Tags []string
	}
	root := &node{Next: &node{Tags: []string{"a", "b"}}}
	c := NewSnapshotController(root)
	if err := c.Checkpoint(); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}

	root.Next.Tags[0] = "mutated"

	func() {
		defer func() { recover() }()
		_ = c.Restore()
	}()

	if root.Next.Tags[0] != "a" {
		t.Fatalf("expected deep-copied slice to be unaffected by post-checkpoint mutation, got %q", root.Next.Tags[0])
	}
}
