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
	"testing"

	"github.com/launix-de/fuseflow/config"
	"github.com/launix-de/fuseflow/engine"
)

func baseCfg() config.Tunables {
	cfg := config.Default()
	cfg.NumPieces = 4
	cfg.MinShardVolume = 1
	return cfg
}

func TestComputeLaunchShapeSinglePieceIsNull(t *testing.T) {
	cfg := config.Default()
	cfg.NumPieces = 1
	pm := NewPartitionManager(cfg)
	_, ok := pm.ComputeLaunchShape(NewShape(100, 100), nil)
	if ok {
		t.Fatalf("num_pieces=1 must always yield the null partition")
	}
}

func TestComputeLaunchShapeAllExtentsOneIsNull(t *testing.T) {
	pm := NewPartitionManager(baseCfg())
	_, ok := pm.ComputeLaunchShape(NewShape(1, 1, 1), nil)
	if ok {
		t.Fatalf("a shape with every extent <= 1 must yield the null partition")
	}
}

func TestComputeLaunchShape1D(t *testing.T) {
	pm := NewPartitionManager(baseCfg())
	shape, ok := pm.ComputeLaunchShape(NewShape(100), nil)
	if !ok {
		t.Fatalf("expected a non-null launch shape")
	}
	if shape.Dim(0) != 4 {
		t.Fatalf("expected the single dim tiled to num_pieces=4, got %v", shape)
	}
}

func TestComputeLaunchShape1DClampedToExtent(t *testing.T) {
	pm := NewPartitionManager(baseCfg())
	shape, ok := pm.ComputeLaunchShape(NewShape(3), nil)
	if !ok {
		t.Fatalf("expected a non-null launch shape")
	}
	if shape.Dim(0) != 3 {
		t.Fatalf("extent 3 with max_pieces=4 should clamp to 3, got %v", shape)
	}
}

func TestComputeLaunchShapeRestrictedDimForcedToOne(t *testing.T) {
	pm := NewPartitionManager(baseCfg())
	shape, ok := pm.ComputeLaunchShape(NewShape(100, 100), Restrictions{Allowed, Restricted})
	if !ok {
		t.Fatalf("expected a non-null launch shape")
	}
	if shape.Dim(1) != 1 {
		t.Fatalf("restricted dim must stay at extent 1, got %v", shape)
	}
	if shape.Dim(0) == 1 {
		t.Fatalf("the non-restricted dim should still be tiled, got %v", shape)
	}
}

func TestComputeLaunchShapeIsMemoized(t *testing.T) {
	pm := NewPartitionManager(baseCfg())
	s1, ok1 := pm.ComputeLaunchShape(NewShape(100, 100), nil)
	s2, ok2 := pm.ComputeLaunchShape(NewShape(100, 100), nil)
	if ok1 != ok2 || !s1.Equal(s2) {
		t.Fatalf("expected the cached result to match a fresh computation: %v/%v vs %v/%v", s1, ok1, s2, ok2)
	}
}

func TestComputeLaunchShape2DDividesPiecesBetweenDims(t *testing.T) {
	pm := NewPartitionManager(baseCfg())
	shape, ok := pm.ComputeLaunchShape(NewShape(100, 100), nil)
	if !ok {
		t.Fatalf("expected a non-null launch shape")
	}
	if shape.Dim(0)*shape.Dim(1) != int64(baseCfg().NumPieces) {
		t.Fatalf("expected the 2D tiling to use all %d pieces, got %v", baseCfg().NumPieces, shape)
	}
}

func TestUseCompleteTilingFalseForHugeTileCount(t *testing.T) {
	cfg := baseCfg()
	cfg.CompleteTilingMaxTiles = 4
	cfg.CompleteTilingMaxTilesPerPiece = 1
	pm := NewPartitionManager(cfg)
	shape := NewShape(1000)
	tile := NewShape(1)
	if pm.UseCompleteTiling(shape, tile) {
		t.Fatalf("expected UseCompleteTiling to decline for an excessive tile count")
	}
}

func TestUseCompleteTilingTrueForSmallTileCount(t *testing.T) {
	pm := NewPartitionManager(baseCfg())
	shape := NewShape(10)
	tile := NewShape(5)
	if !pm.UseCompleteTiling(shape, tile) {
		t.Fatalf("expected UseCompleteTiling to accept a small tile count")
	}
}

func TestComputeLaunchShape3DPlacesFactorsAcrossDims(t *testing.T) {
	pm := NewPartitionManager(baseCfg())
	shape, ok := pm.ComputeLaunchShape(NewShape(10, 10, 10), Restrictions{Allowed, Allowed, Allowed})
	if !ok {
		t.Fatalf("expected a non-null launch shape")
	}
	if shape.Ndim() != 3 {
		t.Fatalf("expected a 3D launch shape, got %v", shape)
	}
	if got := shape.Dim(0) * shape.Dim(1) * shape.Dim(2); got != int64(baseCfg().NumPieces) {
		t.Fatalf("expected the d>=3 placeFactors branch to use all %d pieces, got %v (product %d)", baseCfg().NumPieces, shape, got)
	}
	for i := 0; i < 3; i++ {
		if shape.Dim(i) > 10 {
			t.Fatalf("dim %d exceeds its extent 10: %v", i, shape)
		}
	}
}

func TestComputeLaunchShape3DIsMemoized(t *testing.T) {
	pm := NewPartitionManager(baseCfg())
	r := Restrictions{Allowed, Allowed, Allowed}
	s1, ok1 := pm.ComputeLaunchShape(NewShape(10, 10, 10), r)
	s2, ok2 := pm.ComputeLaunchShape(NewShape(10, 10, 10), r)
	if ok1 != ok2 || !s1.Equal(s2) {
		t.Fatalf("expected the cached d>=3 result to match a fresh computation: %v/%v vs %v/%v", s1, ok1, s2, ok2)
	}
}

func TestPartitionManagerRecordPartitionRejectsDuplicate(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected a panic on duplicate RecordPartition")
		}
	}()
	pm := NewPartitionManager(baseCfg())
	backend := newFakeBackend()
	is := backend.CreateIndexSpaceFromBounds([]int64{4})
	h := engine.PartitionHandle{Handle: engine.NewHandle(backend.alloc())}
	pm.RecordPartition(is, 1, h)
	pm.RecordPartition(is, 1, h)
}
