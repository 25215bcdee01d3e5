/*
Copyright (C) 2026  MemCP Contributors

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package runtime

import (
	"github.com/launix-de/fuseflow/engine"
	"github.com/launix-de/fuseflow/errs"
)

// ReductionPair is a (store, reduction-op) entry in an Operation's
// ordered reduction list.
type ReductionPair struct {
	Store engine.Store
	RedOp RedOp
}

// Operation is the base value object every submitted op (Task, Copy)
// embeds: ordered no-access/input/output store lists, an ordered
// reduction list, the single optional scalar-output-or-reduction
// store, and the alignment/broadcast/restriction bookkeeping the
// Partitioner reads. Grounded on legate.core's Operation base class
// (original_source), ported into the teacher's plain-struct-plus-
// ordered-slice idiom (storage/partition.go's ShardDimension list
// style) rather than a class hierarchy.
type Operation struct {
	noAccess   []engine.Store
	inputs     []engine.Store
	outputs    []engine.Store
	reductions []ReductionPair

	scalarOutputStore engine.Store
	hasScalarOutput   bool

	alignments *EqClass
	broadcasts map[uintptr]bool
	restrict   map[uintptr]Restrictions
	allStores  map[uintptr]engine.Store // insertion-order-independent identity set
	order      []uintptr                // insertion order, for deterministic Stores()
}

// NewOperation returns an empty operation.
func NewOperation() *Operation {
	return &Operation{
		alignments: NewEqClass(),
		broadcasts: make(map[uintptr]bool),
		restrict:   make(map[uintptr]Restrictions),
		allStores:  make(map[uintptr]engine.Store),
	}
}

func (op *Operation) track(s engine.Store) {
	if _, ok := op.allStores[s.ID()]; !ok {
		op.allStores[s.ID()] = s
		op.order = append(op.order, s.ID())
	}
}

func (op *Operation) AddNoAccess(s engine.Store) {
	op.noAccess = append(op.noAccess, s)
	op.track(s)
}

func (op *Operation) AddInput(s engine.Store) {
	op.inputs = append(op.inputs, s)
	op.track(s)
}

func (op *Operation) AddOutput(s engine.Store) {
	op.outputs = append(op.outputs, s)
	op.track(s)
}

func (op *Operation) AddReduction(s engine.Store, redop RedOp) {
	op.reductions = append(op.reductions, ReductionPair{Store: s, RedOp: redop})
	op.track(s)
}

// SetScalarOutput records s as this op's single scalar output or
// scalar reduction target. A second call is a MultipleScalarOutputs
// error (spec.md §7) since at most one scalar-output-class store may
// exist per operation.
func (op *Operation) SetScalarOutput(s engine.Store) error {
	if op.hasScalarOutput {
		return errs.New(errs.KindMultipleScalarOutputs, "operation already has a scalar output/reduction")
	}
	op.scalarOutputStore = s
	op.hasScalarOutput = true
	op.track(s)
	return nil
}

func (op *Operation) ScalarOutput() (engine.Store, bool) {
	return op.scalarOutputStore, op.hasScalarOutput
}

// AddAlignment records an alignment pair in this operation's
// alignment state (SPEC_FULL §11); buildFusedHeader merges sub-ops'
// classes into a fused op, and the Partitioner only reads the state,
// merging it into its own EqClass. Rejects stores of differing shape
// (ShapeMismatch, spec.md §7).
func (op *Operation) AddAlignment(a, b engine.Store) error {
	if !shapesEqual(a.Shape(), b.Shape()) {
		return errs.New(errs.KindShapeMismatch, "add_alignment: shapes %v and %v differ", a.Shape(), b.Shape())
	}
	op.alignments.Record(a, b)
	op.track(a)
	op.track(b)
	return nil
}

func shapesEqual(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// MarkBroadcast flags s as always-NoPartition. A broadcast store may
// still sit inside an alignment class purely for bookkeeping
// (SPEC_FULL §11); the Partitioner skips it when assigning the
// class's partition to its other members.
func (op *Operation) MarkBroadcast(s engine.Store) {
	op.broadcasts[s.ID()] = true
	op.track(s)
}

func (op *Operation) IsBroadcast(s engine.Store) bool {
	return op.broadcasts[s.ID()]
}

// SetRestrictions records s's per-dimension partitioning
// restrictions, consumed by PartitionManager.ComputeLaunchShape.
func (op *Operation) SetRestrictions(s engine.Store, r Restrictions) {
	op.restrict[s.ID()] = r
	op.track(s)
}

func (op *Operation) RestrictionsFor(s engine.Store) Restrictions {
	return op.restrict[s.ID()]
}

// Alignments exposes the op-local disjoint-set for the Partitioner.
func (op *Operation) Alignments() *EqClass { return op.alignments }

// Stores returns every store this operation touches, in first-seen
// order.
func (op *Operation) Stores() []engine.Store {
	out := make([]engine.Store, len(op.order))
	for i, id := range op.order {
		out[i] = op.allStores[id]
	}
	return out
}

func (op *Operation) NoAccess() []engine.Store   { return op.noAccess }
func (op *Operation) Inputs() []engine.Store     { return op.inputs }
func (op *Operation) Outputs() []engine.Store    { return op.outputs }
func (op *Operation) Reductions() []ReductionPair { return op.reductions }

// MustBeSingle reports whether this op's Strategy must collapse to a
// single point: it has a scalar output or scalar reduction (spec.md
// §4.6).
func (op *Operation) MustBeSingle() bool {
	if !op.hasScalarOutput {
		return false
	}
	return op.scalarOutputStore.Scalar()
}
