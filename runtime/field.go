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

// Field is (region, field_id, dtype, shape, own). Owned by the
// Runtime; when its owning handle is released and Own is true, the
// field is returned to the FieldManager for the (shape,dtype) key —
// mirroring the refcounted reclaim-on-zero idiom in
// storage/blob-refcount.go.
type Field struct {
	Region  engine.RegionHandle
	FieldID int
	DType   engine.DType
	Shape   Shape
	Own     bool

	manager   *FieldManager
	released  bool
}

// Release returns the field to its FieldManager if Own is true. Calling
// Release more than once is a no-op, matching the cyclic-ownership
// design note in spec.md §9: destruction must be inert after shutdown.
func (f *Field) Release(ordered bool) {
	if f.released || !f.Own || f.manager == nil {
		f.released = true
		return
	}
	f.released = true
	f.manager.freeField(f.Region, f.FieldID, f.Shape, f.DType, ordered)
}
