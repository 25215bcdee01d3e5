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

import "github.com/launix-de/fuseflow/engine"

// Strategy is the Partitioner's output: a launch shape (or none, for a
// single-point launch), a per-store partition assignment, a per-store
// field-space assignment, and the subset of stores whose partition was
// adopted as a "key partition" (spec.md §4.3). Grounded on
// storage/partition.go's repartition plan, which likewise bundles a
// chosen shard count alongside a per-column assignment before any
// launcher is built.
type Strategy struct {
	launchShape Shape
	hasLaunch   bool

	partitions  map[uintptr]Partition
	fieldSpaces map[uintptr]engine.FieldSpaceHandle
	keyStores   map[uintptr]bool
}

// NewStrategy builds an empty strategy for the given launch shape.
// hasLaunch false means every operation under this strategy runs at a
// single point, not over an index space.
func NewStrategy(launchShape Shape, hasLaunch bool) *Strategy {
	return &Strategy{
		launchShape: launchShape,
		hasLaunch:   hasLaunch,
		partitions:  make(map[uintptr]Partition),
		fieldSpaces: make(map[uintptr]engine.FieldSpaceHandle),
		keyStores:   make(map[uintptr]bool),
	}
}

func (s *Strategy) LaunchShape() (Shape, bool) { return s.launchShape, s.hasLaunch }

// SetPartition records store's chosen partition.
func (s *Strategy) SetPartition(store engine.Store, p Partition) {
	s.partitions[store.ID()] = p
}

// SetFieldSpace records the field-space store's region requirement
// should resolve fields against.
func (s *Strategy) SetFieldSpace(store engine.Store, fs engine.FieldSpaceHandle) {
	s.fieldSpaces[store.ID()] = fs
}

// MarkKeyPartition flags store's partition as the one
// store.SetKeyPartition should cache for reuse by later operations.
func (s *Strategy) MarkKeyPartition(store engine.Store) {
	s.keyStores[store.ID()] = true
}

func (s *Strategy) IsKeyPartition(store engine.Store) bool {
	return s.keyStores[store.ID()]
}

// Partition returns store's assigned partition, defaulting to
// NoPartitionValue if the store was never assigned one (e.g. a scalar
// or broadcast store the partitioner left unsplit).
func (s *Strategy) Partition(store engine.Store) Partition {
	if p, ok := s.partitions[store.ID()]; ok {
		return p
	}
	return NoPartitionValue
}

// GetFieldSpace returns the field-space assigned to store, if any.
func (s *Strategy) GetFieldSpace(store engine.Store) (engine.FieldSpaceHandle, bool) {
	fs, ok := s.fieldSpaces[store.ID()]
	return fs, ok
}

// GetRequirement is strategy[store] in spec.md §4.3/§6: the region
// requirement an operation should attach for store under this
// strategy's launch shape and chosen partition.
func (s *Strategy) GetRequirement(store engine.Store) Requirement {
	p := s.Partition(store)
	return p.GetRequirement(s.launchShape, s.hasLaunch, store)
}

// Launch dispatches a task launcher under this strategy: at a single
// point if hasLaunch is false, otherwise over the launch shape's index
// space. Grounded on storage/partition.go's iterateShards/
// iterateShardIndex parallel fan-out, generalized from "one goroutine
// per shard" to "one engine-managed index-space point per launch-shape
// cell" since dispatch itself is the engine's responsibility, not
// ours. If scalarOutput is non-nil, the resulting future is stored
// back into it (spec.md §4.3's launch(launcher, output?, redop?)).
func (s *Strategy) Launch(backend engine.Backend, ctx engine.ContextHandle, taskID int, scalarOutput engine.Store) engine.FutureHandle {
	var future engine.FutureHandle
	if !s.hasLaunch {
		future = backend.DispatchTask(ctx, taskID, nil)
	} else {
		future = backend.DispatchTask(ctx, taskID, s.launchShape.Dims())
	}
	if scalarOutput != nil {
		scalarOutput.SetFuture(future)
	}
	return future
}

// LaunchCopy dispatches a copy launcher under this strategy.
func (s *Strategy) LaunchCopy(backend engine.Backend, ctx engine.ContextHandle, scalarOutput engine.Store) engine.FutureHandle {
	var future engine.FutureHandle
	if !s.hasLaunch {
		future = backend.DispatchCopy(ctx, nil)
	} else {
		future = backend.DispatchCopy(ctx, s.launchShape.Dims())
	}
	if scalarOutput != nil {
		scalarOutput.SetFuture(future)
	}
	return future
}
