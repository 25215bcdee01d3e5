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
	"encoding/binary"

	"github.com/launix-de/fuseflow/engine"
)

// fieldRef is a (region, field_id) pair — one reclaimable field.
type fieldRef struct {
	region  engine.RegionHandle
	fieldID int
}

// fieldMatchEntrySize is the per-entry payload size passed to the engine: two
// int32 per (tree_id, field_id) entry (spec.md §6).
const fieldMatchEntrySize = 2 * 4

// FieldMatch runs the cross-shard consensus protocol that decides
// which locally-freed fields every shard agrees are safe to reuse.
// Each shard enters with its own local freed-fields snapshot; the
// engine's consensus match returns the intersection, in an order
// identical on every shard, and the manager walks that output to
// split its local pairs between free_fields (accepted) and
// freed_fields (deferred to a later round).
type FieldMatch struct {
	local   []fieldRef
	payload []int32 // packed (tree_id, field_id) per local entry
	future  engine.FutureHandle
}

// newFieldMatch packs local into the wire layout spec.md §6 describes
// and dispatches the consensus match.
func newFieldMatch(ctx engine.ContextHandle, backend engine.Backend, local []fieldRef) *FieldMatch {
	payload := make([]int32, 0, 2*len(local))
	for _, f := range local {
		payload = append(payload, treeIDOfRegion(f.region), int32(f.fieldID))
	}
	fm := &FieldMatch{local: local, payload: payload}
	fm.future = backend.ConsensusMatch(ctx, payload, fieldMatchEntrySize)
	return fm
}

// treeIDOfRegion assigns a stable tree id per distinct region handle
// within one FieldMatch round (ordering only needs to be consistent
// across shards for the *same* set of regions, which holds because
// every shard observes the same logical region identities).
func treeIDOfRegion(r engine.RegionHandle) int32 {
	// Hash via Go's string-backed Stringer keeps this deterministic
	// and purely a function of the handle's identity, not iteration
	// order over any unordered container (spec.md §5 determinism
	// contract).
	h := fnv32(r.Handle.String())
	return int32(h)
}

func fnv32(s string) uint32 {
	const (
		offset32 = 2166136261
		prime32  = 16777619
	)
	h := uint32(offset32)
	for i := 0; i < len(s); i++ {
		h *= prime32
		h ^= uint32(s[i])
	}
	return h
}

// update blocks on the consensus future (one of the two permitted
// suspension points in spec.md §5) and returns the accepted
// (region, field_id) pairs in canonical order, plus the local entries
// that were not accepted this round.
func (fm *FieldMatch) update(backend engine.Backend) (accepted []fieldRef, rejected []fieldRef) {
	raw := backend.FutureWait(fm.future)

	// The future begins with an unsigned length prefix (size_t: 4 or
	// 8 bytes depending on platform) followed by the accepted entries
	// in canonical order (spec.md §6). This port always reads an
	// 8-byte little-endian prefix; a backend targeting a 32-bit wire
	// format would need to negotiate that out of band.
	if len(raw) < 8 {
		return nil, fm.local
	}
	count := binary.LittleEndian.Uint64(raw[:8])
	raw = raw[8:]

	byTreeID := make(map[int32][]fieldRef, len(fm.local))
	for _, f := range fm.local {
		tid := treeIDOfRegion(f.region)
		byTreeID[tid] = append(byTreeID[tid], f)
	}
	usedLocal := make(map[fieldRef]bool, len(fm.local))

	for i := uint64(0); i < count; i++ {
		off := int(i) * fieldMatchEntrySize
		if off+fieldMatchEntrySize > len(raw) {
			break
		}
		treeID := int32(binary.LittleEndian.Uint32(raw[off:]))
		fieldID := int32(binary.LittleEndian.Uint32(raw[off+4:]))
		cands := byTreeID[treeID]
		for _, c := range cands {
			if usedLocal[c] {
				continue
			}
			if int32(c.fieldID) == fieldID {
				accepted = append(accepted, c)
				usedLocal[c] = true
				break
			}
		}
	}

	for _, f := range fm.local {
		if !usedLocal[f] {
			rejected = append(rejected, f)
		}
	}
	return accepted, rejected
}
