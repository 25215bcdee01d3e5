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
	"sync"

	"github.com/google/uuid"

	"github.com/launix-de/fuseflow/engine"
)

// topLevelRegion is one region in a RegionManager's pool: its own
// index-space and field-space, named by uuid the way the teacher names
// its persisted shards (storage/persistence-files.go).
type topLevelRegion struct {
	id      uuid.UUID
	region  engine.RegionHandle
	fields  engine.FieldSpaceHandle
	// saturated is set once the backend refuses a new AllocateField
	// call against fields.
	saturated bool
}

// RegionManager is the per-shape pool of top-level regions, plus the
// field-space of the currently-active one (spec.md §4.4). Grounded on
// storage/table.go's per-shape Shards/PShards pool and
// storage/shard.go's rebuild-on-saturation pattern.
type RegionManager struct {
	mu      sync.Mutex
	shape   Shape
	backend engine.Backend
	regions []*topLevelRegion
	active  *topLevelRegion
	// seen de-duplicates a region imported twice so it is tracked
	// only once (spec.md §4.4).
	seen map[engine.RegionHandle]*topLevelRegion
}

// NewRegionManager constructs the manager for one store shape. The
// unused "region" parameter the teacher's
// find_or_create_region_manager carried (spec.md §9) is omitted here.
func NewRegionManager(shape Shape, backend engine.Backend) *RegionManager {
	return &RegionManager{
		shape:   shape,
		backend: backend,
		seen:    make(map[engine.RegionHandle]*topLevelRegion),
	}
}

// AllocateField allocates from the active region's field space; if
// none has space (empty pool or active region saturated), a fresh
// region is created and pushed.
func (rm *RegionManager) AllocateField(dt engine.DType) (engine.RegionHandle, int) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.active == nil || rm.active.saturated {
		rm.newRegionLocked()
	}

	fid, ok := rm.backend.AllocateField(rm.active.fields, dt)
	if !ok {
		rm.active.saturated = true
		rm.newRegionLocked()
		fid, ok = rm.backend.AllocateField(rm.active.fields, dt)
		if !ok {
			panic("runtime: RegionManager: fresh region immediately saturated")
		}
	}
	return rm.active.region, fid
}

func (rm *RegionManager) newRegionLocked() {
	is := rm.backend.CreateIndexSpaceFromBounds(rm.shape.Dims())
	fs := rm.backend.CreateFieldSpace()
	region := rm.backend.CreateLogicalRegion(is, fs)
	tlr := &topLevelRegion{id: uuid.New(), region: region, fields: fs}
	rm.regions = append(rm.regions, tlr)
	rm.seen[region] = tlr
	rm.active = tlr
}

// ImportRegion registers an externally-created region in this
// manager's pool, de-duplicating if it was already tracked.
func (rm *RegionManager) ImportRegion(region engine.RegionHandle, fields engine.FieldSpaceHandle) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if _, ok := rm.seen[region]; ok {
		return
	}
	tlr := &topLevelRegion{id: uuid.New(), region: region, fields: fields}
	rm.regions = append(rm.regions, tlr)
	rm.seen[region] = tlr
	if rm.active == nil {
		rm.active = tlr
	}
}

// ActiveFieldSpace returns the field-space of the currently-active
// region.
func (rm *RegionManager) ActiveFieldSpace() (engine.FieldSpaceHandle, bool) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.active == nil {
		return engine.FieldSpaceHandle{}, false
	}
	return rm.active.fields, true
}

func (rm *RegionManager) RegionCount() int {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return len(rm.regions)
}
