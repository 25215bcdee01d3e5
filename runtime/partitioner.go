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

// Partitioner is the solver that turns a set of operations into a
// Strategy: it assigns every store a partition (or NoPartition),
// propagates alignment classes, and allocates field spaces for
// unbound outputs. Grounded on storage/partition.go's
// proposerepartition/repartition pair, generalized from "pick one
// shard count for a table" to "pick one launch shape and a partition
// per store for a whole op window".
type Partitioner struct {
	pm  *PartitionManager
	fsf FieldSpaceFactory
}

// FieldSpaceFactory allocates a fresh field-space for an unbound
// store's alignment class; the Runtime supplies this from its
// backend so Partitioner stays free of direct engine plumbing.
type FieldSpaceFactory func() engine.FieldSpaceHandle

func NewPartitioner(pm *PartitionManager, fsf FieldSpaceFactory) *Partitioner {
	return &Partitioner{pm: pm, fsf: fsf}
}

// PartitionStores implements spec.md §4.3.
func (p *Partitioner) PartitionStores(ops []*Operation, mustBeSingle bool) (*Strategy, error) {
	master := NewEqClass()
	broadcast := make(map[uintptr]bool)
	restrictions := make(map[uintptr]Restrictions)

	var order []uintptr
	seen := make(map[uintptr]engine.Store)

	for _, op := range ops {
		master.Union(op.Alignments())
		for _, s := range op.Stores() {
			if _, ok := seen[s.ID()]; !ok {
				seen[s.ID()] = s
				order = append(order, s.ID())
			}
			if op.IsBroadcast(s) {
				broadcast[s.ID()] = true
			}
			if r := op.RestrictionsFor(s); r != nil {
				restrictions[s.ID()] = r
			}
		}
	}

	if mustBeSingle || len(order) == 0 {
		strat := NewStrategy(Shape{}, false)
		handled := make(map[uintptr]bool)
		for _, id := range order {
			s := seen[id]
			if handled[id] {
				continue
			}
			strat.SetPartition(s, NoPartitionValue)
			handled[id] = true
			if s.Unbound() {
				class := master.Find(s)
				fs, err := p.allocateUnboundFieldSpace(class)
				if err != nil {
					return nil, err
				}
				for _, m := range class {
					strat.SetFieldSpace(m, fs)
					strat.SetPartition(m, NoPartitionValue)
					handled[m.ID()] = true
				}
			}
		}
		return strat, nil
	}

	mustBe1D := false
	for _, id := range order {
		if seen[id].Unbound() {
			mustBe1D = true
			break
		}
	}

	strat := NewStrategy(Shape{}, true)
	handled := make(map[uintptr]bool)
	remaining := append([]uintptr(nil), order...)

	var prevPartition Partition
	hasPrev := false
	var finalPartition Partition
	finalSet := false

	for len(remaining) > 0 {
		id := remaining[0]
		remaining = remaining[1:]
		if handled[id] {
			continue
		}
		s := seen[id]

		switch {
		case s.Scalar() || broadcast[id]:
			strat.SetPartition(s, NoPartitionValue)
			handled[id] = true

		case s.Unbound():
			class := master.Find(s)
			for _, m := range class {
				if !m.Unbound() {
					errs.Fatalf("partitioner: alignment class of unbound store %v contains a bound store", s.ID())
				}
			}
			fs, err := p.allocateUnboundFieldSpace(class)
			if err != nil {
				return nil, err
			}
			for _, m := range class {
				strat.SetFieldSpace(m, fs)
				strat.SetPartition(m, NoPartitionValue)
				handled[m.ID()] = true
			}

		default:
			var chosen Partition
			if hasPrev && prevPartition.IsNoPartition() {
				chosen = NoPartitionValue
			} else {
				var err error
				chosen, err = p.findKeyPartition(s, restrictions[id])
				if err != nil {
					return nil, err
				}
			}
			class := master.Find(s)
			for _, m := range class {
				if m.Scalar() || broadcast[m.ID()] {
					strat.SetPartition(m, NoPartitionValue)
				} else {
					strat.SetPartition(m, chosen)
				}
				handled[m.ID()] = true
			}
			strat.MarkKeyPartition(s)
			prevPartition = chosen
			hasPrev = true
			finalPartition = chosen
			finalSet = true
		}
	}

	launchShape := Shape{}
	if finalSet && !finalPartition.IsNoPartition() {
		launchShape = finalPartition.ColorShape()
	}
	if mustBe1D && launchShape.Ndim() > 0 {
		launchShape = NewShape(launchShape.Volume())
	}
	strat2 := NewStrategy(launchShape, launchShape.Ndim() > 0)
	// re-seed strat2 from strat's assignments now that the final launch
	// shape (possibly collapsed to 1-D) is known; the per-store
	// partition/field-space assignments themselves don't change shape.
	for _, id := range order {
		s := seen[id]
		strat2.SetPartition(s, strat.Partition(s))
		if fs, ok := strat.GetFieldSpace(s); ok {
			strat2.SetFieldSpace(s, fs)
		}
		if strat.IsKeyPartition(s) {
			strat2.MarkKeyPartition(s)
		}
	}
	return strat2, nil
}

// findKeyPartition implements store.find_key_partition(): reuse a
// previously cached partition if the store has one, otherwise compute
// one from the PartitionManager and cache it back onto the store.
func (p *Partitioner) findKeyPartition(s engine.Store, restrictions Restrictions) (Partition, error) {
	if cached, ok := s.KeyPartition(); ok {
		if part, ok2 := cached.(Partition); ok2 {
			return part, nil
		}
	}
	colorShape, ok := p.pm.ComputeLaunchShape(NewShape(s.Shape()...), restrictions)
	var part Partition
	if ok {
		part = NewTilingPartition(colorShape, NoRedOp)
	} else {
		part = NoPartitionValue
	}
	s.SetKeyPartition(part)
	return part, nil
}

func (p *Partitioner) allocateUnboundFieldSpace(class []engine.Store) (engine.FieldSpaceHandle, error) {
	if p.fsf == nil {
		return engine.FieldSpaceHandle{}, errs.New(errs.KindAssertionViolation, "partitioner: no field-space factory configured for unbound stores")
	}
	return p.fsf(), nil
}
