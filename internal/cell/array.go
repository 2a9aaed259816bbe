package cell

import (
	"github.com/tinystm/tinystm/internal/mvcc"
	"github.com/tinystm/tinystm/internal/txn"
)

// Array is a fixed-size sequence of independent Cells, each with its
// own version chain — an index-keyed generalization of Cell, not a
// single shared object. It exists to exercise cross-cell commit
// ordering (see the iterator-vs-writer test scenario).
type Array[T any] struct {
	cells []*Cell[T]
}

// NewArray creates an Array with one Cell per element of initial.
func NewArray[T any](reg *mvcc.Registry, initial []T) *Array[T] {
	cells := make([]*Cell[T], len(initial))
	for i, v := range initial {
		cells[i] = New(reg, v)
	}
	return &Array[T]{cells: cells}
}

// Len returns the number of elements.
func (a *Array[T]) Len() int { return len(a.cells) }

// Read transactionally reads element i.
func (a *Array[T]) Read(ctx *txn.Context, i int) (T, error) {
	return a.cells[i].Read(ctx)
}

// Write stages a write to element i.
func (a *Array[T]) Write(ctx *txn.Context, i int, value T) {
	a.cells[i].Write(ctx, value)
}
