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
	"math"
	"sort"
	"sync"

	"github.com/google/btree"

	"github.com/launix-de/fuseflow/config"
	"github.com/launix-de/fuseflow/engine"
	"github.com/launix-de/fuseflow/errs"
	"github.com/launix-de/fuseflow/telemetry"
)

// launchShapeKey memoizes ComputeLaunchShape by (shape, restrictions),
// the way storage.PartitionManager-equivalents in the teacher memoize
// NewShardDimension results per table shape.
type launchShapeKey struct {
	shapeKey string
	restrKey string
}

func (k launchShapeKey) Less(than btree.Item) bool {
	o := than.(launchShapeKey)
	if k.shapeKey != o.shapeKey {
		return k.shapeKey < o.shapeKey
	}
	return k.restrKey < o.restrKey
}

type launchShapeEntry struct {
	key    launchShapeKey
	result *Shape // nil means "no partition"
}

func (e launchShapeEntry) Less(than btree.Item) bool {
	return e.key.Less(than.(launchShapeEntry).key)
}

// indexPartitionKey is the (index-space, functor) cache key for
// PartitionManager.FindPartition/RecordPartition.
type indexPartitionKey struct {
	indexSpace engine.IndexSpaceHandle
	functor    int
}

type indexPartitionEntry struct {
	key    indexPartitionKey
	handle engine.PartitionHandle
}

func (e indexPartitionEntry) Less(than btree.Item) bool {
	o := than.(indexPartitionEntry)
	if e.key.indexSpace != o.key.indexSpace {
		return e.key.indexSpace.String() < o.key.indexSpace.String()
	}
	return e.key.functor < o.key.functor
}

// PartitionManager computes launch shapes from a store shape plus
// per-dimension restrictions, memoizing results, and caches
// index-partition objects keyed by (index-space, functor). Grounded on
// storage/partition.go's computeShardIndex/NewShardDimension/
// proposerepartition; the btree-backed caches follow storage/index.go's
// use of google/btree for ordered in-memory indexes, which keeps
// iteration order (and therefore cross-shard determinism) reproducible.
type PartitionManager struct {
	mu       sync.Mutex
	cfg      config.Tunables
	launchShapes *btree.BTree
	indexParts   *btree.BTree
}

func NewPartitionManager(cfg config.Tunables) *PartitionManager {
	return &PartitionManager{
		cfg:          cfg,
		launchShapes: btree.New(16),
		indexParts:   btree.New(16),
	}
}

// ComputeLaunchShape implements spec.md §4.2. Returns (shape, true) or
// (zero, false) for "null" (single point, no partitioning).
func (pm *PartitionManager) ComputeLaunchShape(shape Shape, restrictions Restrictions) (Shape, bool) {
	key := launchShapeKey{shapeKey: shape.Key(), restrKey: restrictions.Key()}

	pm.mu.Lock()
	if it := pm.launchShapes.Get(launchShapeEntry{key: key}); it != nil {
		entry := it.(launchShapeEntry)
		pm.mu.Unlock()
		if entry.result == nil {
			return Shape{}, false
		}
		return *entry.result, true
	}
	pm.mu.Unlock()

	var result Shape
	var ok bool
	if telemetry.Trace != nil {
		telemetry.Trace.Duration("ComputeLaunchShape", "partition", func() {
			result, ok = pm.computeLaunchShapeUncached(shape, restrictions)
		})
	} else {
		result, ok = pm.computeLaunchShapeUncached(shape, restrictions)
	}

	pm.mu.Lock()
	if ok {
		cp := result
		pm.launchShapes.ReplaceOrInsert(launchShapeEntry{key: key, result: &cp})
	} else {
		pm.launchShapes.ReplaceOrInsert(launchShapeEntry{key: key, result: nil})
	}
	pm.mu.Unlock()

	return result, ok
}

func (pm *PartitionManager) computeLaunchShapeUncached(shape Shape, restrictions Restrictions) (Shape, bool) {
	ndim := shape.Ndim()

	// step 1: filter to dims whose restriction != RESTRICTED
	kept := make([]int, 0, ndim) // original indices kept
	for i := 0; i < ndim; i++ {
		r := Allowed
		if i < len(restrictions) {
			r = restrictions[i]
		}
		if r != Restricted {
			kept = append(kept, i)
		}
	}

	// step 2
	if pm.cfg.NumPieces == 1 {
		return Shape{}, false
	}

	// step 3: if all extents of store.shape <= 1, return null
	allLE1 := true
	for i := 0; i < ndim; i++ {
		if shape.Dim(i) > 1 {
			allLE1 = false
			break
		}
	}
	if allLE1 {
		return Shape{}, false
	}

	// step 4: strip dims of extent 1 from kept, remembering positions
	nonone := make([]int, 0, len(kept)) // original indices, extent > 1
	volume := int64(1)
	for _, i := range kept {
		if shape.Dim(i) > 1 {
			nonone = append(nonone, i)
			volume *= shape.Dim(i)
		}
	}

	// step 5
	maxPieces := ceilDivInt64(volume, pm.cfg.MinShardVolume)
	if maxPieces <= 1 {
		return Shape{}, false
	}
	maxPieces = int64(pm.cfg.NumPieces)

	// step 6: dispatch on remaining dimensionality d
	d := len(nonone)
	result := make([]int64, ndim)
	for i := range result {
		result[i] = 1
	}

	switch {
	case d == 0:
		// all-ones of original rank: already set
	case d == 1:
		i0 := nonone[0]
		v := shape.Dim(i0)
		if maxPieces < v {
			result[i0] = maxPieces
		} else {
			result[i0] = v
		}
	case d == 2:
		i0, i1 := nonone[0], nonone[1]
		e0, e1 := shape.Dim(i0), shape.Dim(i1)
		pick0, pick1 := compute2DTiling(e0, e1, maxPieces)
		result[i0] = pick0
		result[i1] = pick1
	default:
		factors, err := pm.cfg.PrimeFactors()
		if err != nil {
			panic(err)
		}
		placeFactors(shape, nonone, result, factors, pm.cfg.MinLastDimTile)
	}

	return NewShape(result...), true
}

// compute2DTiling implements spec.md §4.2's d==2 branch: compute n =
// sqrt(max_pieces * nx/ny) with nx <= ny (swap if needed, then reverse
// the swap at the end), search n1 (floor, decremented until it divides
// max_pieces) and n2 (ceil, incremented until it divides max_pieces),
// pick whichever yields the smaller max(nx//pick, ny//(max_pieces/pick)),
// then clamp each axis to its extent.
func compute2DTiling(e0, e1, maxPieces int64) (int64, int64) {
	swapped := false
	nx, ny := e0, e1
	if nx > ny {
		nx, ny = ny, nx
		swapped = true
	}
	n := math.Sqrt(float64(maxPieces) * float64(nx) / float64(ny))

	n1 := int64(math.Floor(n))
	if n1 < 1 {
		n1 = 1
	}
	for n1 > 1 && maxPieces%n1 != 0 {
		n1--
	}
	if n1 < 1 {
		n1 = 1
	}

	n2 := int64(math.Ceil(n))
	if n2 < 1 {
		n2 = 1
	}
	for n2 < maxPieces && maxPieces%n2 != 0 {
		n2++
	}
	if n2 > maxPieces {
		n2 = maxPieces
	}

	cost := func(pick int64) int64 {
		other := maxPieces / pick
		a := ceilDivInt64(nx, pick)
		b := ceilDivInt64(ny, other)
		if a > b {
			return a
		}
		return b
	}

	pick := n1
	if maxPieces%n1 == 0 && maxPieces%n2 == 0 {
		if cost(n2) < cost(n1) {
			pick = n2
		}
	} else if maxPieces%n2 == 0 {
		pick = n2
	}

	px, py := pick, maxPieces/pick
	if px > nx {
		px = nx
	}
	if py > ny {
		py = ny
	}
	if swapped {
		px, py = py, px
		nx, ny = ny, nx
	}
	return px, py
}

// placeFactors implements spec.md §4.2's d>=3 branch: start with ones,
// iterate prime factors (sorted descending), multiplying each factor
// into whichever remaining dim has the largest ceil(extent/current)
// tile count. Prefer not to place on the last kept dimension unless
// the resulting tile there stays >= minLastDimTile; otherwise place on
// the next-largest dim. If no dim can absorb the factor, stop.
func placeFactors(shape Shape, nonone []int, result []int64, factors []int32, minLastDimTile int64) {
	lastIdx := nonone[len(nonone)-1]
	for _, f := range factors {
		factor := int64(f)
		// candidate dims ranked by current tile count, descending
		type cand struct {
			idx   int
			tiles int64
		}
		cands := make([]cand, 0, len(nonone))
		for _, i := range nonone {
			tiles := ceilDivInt64(shape.Dim(i), result[i])
			cands = append(cands, cand{idx: i, tiles: tiles})
		}
		sort.SliceStable(cands, func(a, b int) bool { return cands[a].tiles > cands[b].tiles })

		placed := false
		for _, c := range cands {
			if c.idx == lastIdx && len(cands) > 1 {
				newTile := ceilDivInt64(shape.Dim(c.idx), result[c.idx]*factor)
				if newTile < minLastDimTile {
					continue // try the next-largest dim instead
				}
			}
			result[c.idx] *= factor
			placed = true
			break
		}
		if !placed {
			if len(cands) > 0 {
				// no dim satisfied the last-dim guard: fall back to
				// the single largest remaining dim
				result[cands[0].idx] *= factor
			} else {
				return
			}
		}
	}
}

func ceilDivInt64(a, b int64) int64 {
	if b <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

// ComputeTileShape is spec.md §4.2's compute_tile_shape: element-wise
// ceil-div of shape by the launch (index-)space shape.
func (pm *PartitionManager) ComputeTileShape(shape Shape, launchSpace Shape) Shape {
	return shape.CeilDiv(launchSpace)
}

// UseCompleteTiling returns true unless num_tiles is large enough
// (>256 and >16x num_pieces) that a complete tiling would be wasteful.
func (pm *PartitionManager) UseCompleteTiling(shape Shape, tileShape Shape) bool {
	numTiles := int64(1)
	for i := 0; i < shape.Ndim(); i++ {
		numTiles *= ceilDivInt64(shape.Dim(i), maxInt64(tileShape.Dim(i), 1))
	}
	if numTiles > int64(pm.cfg.CompleteTilingMaxTiles) &&
		numTiles > int64(pm.cfg.CompleteTilingMaxTilesPerPiece)*int64(pm.cfg.NumPieces) {
		return false
	}
	return true
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// FindPartition looks up a cached index-partition by (index-space,
// functor).
func (pm *PartitionManager) FindPartition(is engine.IndexSpaceHandle, functor int) (engine.PartitionHandle, bool) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	key := indexPartitionKey{indexSpace: is, functor: functor}
	if it := pm.indexParts.Get(indexPartitionEntry{key: key}); it != nil {
		return it.(indexPartitionEntry).handle, true
	}
	return engine.PartitionHandle{}, false
}

// RecordPartition caches an index-partition. A duplicate record for
// the same key is a programmer error (spec.md §4.2).
func (pm *PartitionManager) RecordPartition(is engine.IndexSpaceHandle, functor int, h engine.PartitionHandle) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	key := indexPartitionKey{indexSpace: is, functor: functor}
	if pm.indexParts.Get(indexPartitionEntry{key: key}) != nil {
		errs.Fatalf("partition manager: duplicate record for index-space/functor %v", key)
	}
	pm.indexParts.ReplaceOrInsert(indexPartitionEntry{key: key, handle: h})
}
