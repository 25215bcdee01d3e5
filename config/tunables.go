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

// Package config holds the tunables read once at Runtime construction
// from the core context, plus the heuristic constants spec.md §9 asks
// to expose as configurable rather than inline literals.
package config

import (
	"fmt"

	"github.com/launix-de/fuseflow/errs"
)

// Tunables mirrors the teacher's SettingsT: a flat struct read once at
// startup, with a reflective Get/Set pair for runtime introspection.
type Tunables struct {
	NumPieces           int32 // only prime factors {2,3,5,7,11}
	MinShardVolume      int64
	WindowSize          uint32
	FieldReuseSize      uint64
	FieldReuseFrequency uint32
	FusionThreshold     int // min interval length to actually fuse, >= 2

	// Heuristic constants (spec.md §9: expose as configurable, not
	// inline literals).
	MinLastDimTile   int64 // prefer not to place a prime factor on the
	                        // last kept dim unless it stays >= this
	CompleteTilingMaxTiles       int // use_complete_tiling threshold
	CompleteTilingMaxTilesPerPiece int // num_tiles > this * num_pieces

	// ElideRedundantFills toggles the dead-store elision pass
	// (SPEC_FULL §11); off by default.
	ElideRedundantFills bool
}

// Default returns the teacher-style baseline, analogous to
// storage.Settings's literal initializer.
func Default() Tunables {
	return Tunables{
		NumPieces:                     1,
		MinShardVolume:                1,
		WindowSize:                    1,
		FieldReuseSize:                1 << 26,
		FieldReuseFrequency:           32,
		FusionThreshold:               2,
		MinLastDimTile:                32,
		CompleteTilingMaxTiles:        256,
		CompleteTilingMaxTilesPerPiece: 16,
		ElideRedundantFills:           false,
	}
}

var primeFactorsAllowed = [...]int32{2, 3, 5, 7, 11}

// PrimeFactors returns num_pieces's prime factorization restricted to
// {2,3,5,7,11}, sorted descending, as the PartitionManager's d>=3 path
// needs. Returns an error if a prime factor > 11 remains.
func (t Tunables) PrimeFactors() ([]int32, error) {
	n := t.NumPieces
	if n < 1 {
		return nil, errs.New(errs.KindUnsupportedProcessorCnt, "num_pieces must be >= 1, got %d", n)
	}
	var factors []int32
	for _, p := range primeFactorsAllowed {
		for n%p == 0 {
			factors = append(factors, p)
			n /= p
		}
	}
	if n != 1 {
		return nil, errs.New(errs.KindUnsupportedProcessorCnt, "num_pieces %d has a prime factor > 11", t.NumPieces)
	}
	// descending order, as the d>=3 placement loop wants to place the
	// largest factors first
	for i, j := 0, len(factors)-1; i < j; i, j = i+1, j-1 {
		factors[i], factors[j] = factors[j], factors[i]
	}
	return factors, nil
}

// Validate checks the invariants spec.md §6 places on the tunables.
func (t Tunables) Validate() error {
	if _, err := t.PrimeFactors(); err != nil {
		return err
	}
	if t.MinShardVolume < 1 {
		return fmt.Errorf("config: MIN_SHARD_VOLUME must be >= 1, got %d", t.MinShardVolume)
	}
	if t.WindowSize < 1 {
		return fmt.Errorf("config: WINDOW_SIZE must be >= 1, got %d", t.WindowSize)
	}
	if t.FieldReuseFrequency < 1 {
		return fmt.Errorf("config: FIELD_REUSE_FREQUENCY must be >= 1, got %d", t.FieldReuseFrequency)
	}
	if t.FusionThreshold < 2 {
		return fmt.Errorf("config: FUSION_THRESHOLD must be >= 2, got %d", t.FusionThreshold)
	}
	return nil
}

// Get returns a named tunable, mirroring storage.ChangeSettings's
// single-argument form.
func (t Tunables) Get(name string) (interface{}, bool) {
	switch name {
	case "NumPieces":
		return t.NumPieces, true
	case "MinShardVolume":
		return t.MinShardVolume, true
	case "WindowSize":
		return t.WindowSize, true
	case "FieldReuseSize":
		return t.FieldReuseSize, true
	case "FieldReuseFrequency":
		return t.FieldReuseFrequency, true
	case "FusionThreshold":
		return t.FusionThreshold, true
	case "ElideRedundantFills":
		return t.ElideRedundantFills, true
	default:
		return nil, false
	}
}

// Set mutates a named tunable, mirroring storage.ChangeSettings's
// two-argument form. Returns false for an unknown name or wrong type.
func (t *Tunables) Set(name string, value interface{}) bool {
	switch name {
	case "NumPieces":
		v, ok := value.(int32)
		t.NumPieces = v
		return ok
	case "MinShardVolume":
		v, ok := value.(int64)
		t.MinShardVolume = v
		return ok
	case "WindowSize":
		v, ok := value.(uint32)
		t.WindowSize = v
		return ok
	case "FieldReuseSize":
		v, ok := value.(uint64)
		t.FieldReuseSize = v
		return ok
	case "FieldReuseFrequency":
		v, ok := value.(uint32)
		t.FieldReuseFrequency = v
		return ok
	case "FusionThreshold":
		v, ok := value.(int)
		t.FusionThreshold = v
		return ok
	case "ElideRedundantFills":
		v, ok := value.(bool)
		t.ElideRedundantFills = v
		return ok
	default:
		return false
	}
}
