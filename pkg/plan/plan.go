package plan

import (
	"fmt"
	"reflect"

	"github.com/graftwork/livemigrate/pkg/migerr"
)

// dfsColor tracks DFS recursion state with a three-state marker used to
// find back edges during cycle detection.
type dfsColor int

const (
	white dfsColor = iota
	gray
	black
)

// Plan is a validated, topologically ordered set of transformer descriptors.
// It is immutable after Build returns and is safe to share across threads.
type Plan struct {
	bySource map[reflect.Type]*Descriptor
	byTarget map[reflect.Type]*Descriptor
	ordered  []*Descriptor
}

// Empty reports whether the plan has no transformers.
func (p *Plan) Empty() bool { return p == nil || len(p.ordered) == 0 }

// Ordered returns the tail-first execution order: a descriptor appears
// after any descriptor whose From equals this one's To.
func (p *Plan) Ordered() []*Descriptor {
	if p == nil {
		return nil
	}
	return p.ordered
}

// Lookup returns the descriptor registered for the given old type, if any.
func (p *Plan) Lookup(from reflect.Type) (*Descriptor, bool) {
	if p == nil {
		return nil, false
	}
	d, ok := p.bySource[from]
	return d, ok
}

// Len returns the number of descriptors in the plan.
func (p *Plan) Len() int {
	if p == nil {
		return 0
	}
	return len(p.ordered)
}

// SourceTypes returns every From type in the plan, in topological order.
// Callers pass this to a heapwalk.Walker to request exactly the types the
// plan needs enumerated.
func (p *Plan) SourceTypes() []reflect.Type {
	if p == nil {
		return nil
	}
	out := make([]reflect.Type, len(p.ordered))
	for i, d := range p.ordered {
		out[i] = d.From
	}
	return out
}

// Build validates descriptors and returns an ordered Plan, or a *migerr.Error
// tagged PlanInvalid, DuplicateSource, DuplicateTarget, or CyclicPlan.
//
// The algorithm:
//  1. per-descriptor sanity (from != to, commonSuperType is a supertype of
//     both)
//  2. duplicate source / duplicate target rejection
//  3. cycle detection via DFS with a recursion-stack marker
//  4. post-order DFS ordering (tail-first)
//
// Steps 3 and 4 are performed in one DFS pass below, since a post-order DFS
// that tolerates no gray-to-gray edge is exactly a cycle-free topological
// ordering; splitting them would mean walking the graph twice for the same
// answer.
func Build(descriptors []Descriptor) (*Plan, error) {
	bySource := make(map[reflect.Type]*Descriptor, len(descriptors))
	byTarget := make(map[reflect.Type]*Descriptor, len(descriptors))
	fromOrder := make([]reflect.Type, 0, len(descriptors))

	for i := range descriptors {
		d := &descriptors[i]

		if d.From == nil || d.To == nil {
			return nil, migerr.New(migerr.PlanInvalid, "transformer descriptor missing from/to type")
		}
		if d.From == d.To {
			return nil, migerr.New(migerr.PlanInvalid, fmt.Sprintf("from and to must differ, both are %s", d.From))
		}
		if !satisfies(d.From, d.CommonSuperType) || !satisfies(d.To, d.CommonSuperType) {
			return nil, migerr.New(migerr.PlanInvalid,
				fmt.Sprintf("commonSuperType %v is not a supertype of both %v and %v", d.CommonSuperType, d.From, d.To))
		}

		if _, dup := bySource[d.From]; dup {
			return nil, migerr.New(migerr.DuplicateSource, fmt.Sprintf("duplicate source type %v", d.From))
		}
		if _, dup := byTarget[d.To]; dup {
			return nil, migerr.New(migerr.DuplicateTarget, fmt.Sprintf("duplicate target type %v", d.To))
		}

		bySource[d.From] = d
		byTarget[d.To] = d
		fromOrder = append(fromOrder, d.From)
	}

	ordered, err := topoOrder(bySource, fromOrder)
	if err != nil {
		return nil, err
	}

	return &Plan{bySource: bySource, byTarget: byTarget, ordered: ordered}, nil
}

// topoOrder runs a post-order DFS over the from->to edges restricted to
// targets that are themselves a source elsewhere in the plan, appending each
// descriptor to the result when its recursion returns. A gray node reached
// again before it turns black is a cycle.
func topoOrder(bySource map[reflect.Type]*Descriptor, fromOrder []reflect.Type) ([]*Descriptor, error) {
	color := make(map[reflect.Type]dfsColor, len(bySource))
	result := make([]*Descriptor, 0, len(bySource))

	var visit func(t reflect.Type) error
	visit = func(t reflect.Type) error {
		d, ok := bySource[t]
		if !ok {
			// t is not itself migrated by this plan; nothing to order.
			return nil
		}

		color[t] = gray

		if _, isChainedSource := bySource[d.To]; isChainedSource {
			switch color[d.To] {
			case gray:
				return migerr.New(migerr.CyclicPlan, fmt.Sprintf("cycle detected starting at %v", t))
			case white:
				if err := visit(d.To); err != nil {
					return err
				}
			}
		}

		color[t] = black
		result = append(result, d)
		return nil
	}

	for _, t := range fromOrder {
		if color[t] == white {
			if err := visit(t); err != nil {
				return nil, err
			}
		}
	}

	return result, nil
}
