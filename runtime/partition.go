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

// RedOp identifies a reduction operator applied by a reducing
// partition; zero value means "no reduction".
type RedOp int

const NoRedOp RedOp = 0

// Partition is either NoPartition (single shard) or a tiling partition
// with a color shape and optional reduction operator.
type Partition struct {
	isNone      bool
	colorShape  Shape
	redop       RedOp
	handle      engine.PartitionHandle
}

// NoPartitionValue is the single-shard partition.
var NoPartitionValue = Partition{isNone: true}

func NewTilingPartition(colorShape Shape, redop RedOp) Partition {
	return Partition{colorShape: colorShape, redop: redop}
}

func (p Partition) IsNoPartition() bool { return p.isNone }
func (p Partition) ColorShape() Shape   { return p.colorShape }
func (p Partition) RedOp() RedOp        { return p.redop }

// Equal compares two partitions by the fields that matter for fusion
// legality (IdenticalProjection compares color shapes and reduction
// operators, not handles).
func (p Partition) Equal(o Partition) bool {
	if p.isNone != o.isNone {
		return false
	}
	if p.isNone {
		return true
	}
	return p.colorShape.Equal(o.colorShape) && p.redop == o.redop
}

// Requirement is the engine-level region requirement
// Partition.get_requirement(launch_shape, store) yields.
type Requirement struct {
	Store      engine.Store
	Partition  Partition
	LaunchShape Shape
	HasLaunch  bool
}

// GetRequirement computes the region requirement for this partition
// against a given launch shape and store.
func (p Partition) GetRequirement(launchShape Shape, hasLaunch bool, store engine.Store) Requirement {
	return Requirement{Store: store, Partition: p, LaunchShape: launchShape, HasLaunch: hasLaunch}
}
