package mvcc

import "golang.org/x/exp/constraints"

// SumCommutator is the worked Commutator example the design notes call
// for: an add-to-counter combinator. Two transactions staging
// SumCommutator deltas against the same cell need not serialize with
// each other — both install as DELTA versions and are merged by
// Flatten in commit order.
type SumCommutator[T constraints.Integer | constraints.Float] struct {
	Delta T
}

// Operate adds the delta into v in place.
func (s SumCommutator[T]) Operate(v *T) { *v += s.Delta }
