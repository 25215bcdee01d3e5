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

	"github.com/launix-de/NonLockingReadMap"

	"github.com/launix-de/fuseflow/config"
	"github.com/launix-de/fuseflow/engine"
	"github.com/launix-de/fuseflow/errs"
	"github.com/launix-de/fuseflow/telemetry"
)

// fieldRefItem adapts fieldRef to NonLockingReadMap.KeyGetter so the
// free-field FIFO can use the teacher's read-optimized map
// (storage/transaction.go's NonBlockingBitMap sibling type): GetKey is
// a monotonic insertion sequence, so NonLockingReadMap's
// always-sorted-by-key backing slice *is* the FIFO order — popFreeLocked
// reads the lowest-seq entry straight out of it rather than maintaining
// a parallel plain slice.
type fieldRefItem struct {
	ref fieldRef
	seq uint64 // FIFO tie-breaker key
}

func (i fieldRefItem) GetKey() uint64    { return i.seq }
func (i fieldRefItem) ComputeSize() uint { return 24 }

// FieldManager is the per-(shape,dtype) free-list of fields, with the
// cross-shard reclamation protocol (spec.md §4.4). Grounded on
// storage/blob-refcount.go's reclaim-on-zero pattern and
// storage/transaction.go's propose/collect/apply commit shape, which
// this module's dispatch/queue/drain loop mirrors.
type FieldManager struct {
	mu sync.Mutex

	shape Shape
	dtype engine.DType
	cfg   config.Tunables

	backend engine.Backend
	ctx     engine.ContextHandle
	regions *RegionManager

	counter        int
	matchFrequency int

	freedFields []fieldRef // per-shard buffer, not yet agreed reclaimable

	// freeIndex is the free_fields FIFO itself, identical across shards
	// in shard order: pushFreeLocked/popFreeLocked read and write it
	// directly, there is no parallel plain slice.
	freeIndex NonLockingReadMap.NonLockingReadMap[fieldRefItem, uint64]
	nextSeq   uint64

	pendingMatches []*FieldMatch // queued matches awaiting a drain

	destroyed bool
}

// NewFieldManager constructs the manager for one (shape, dtype) key.
func NewFieldManager(shape Shape, dtype engine.DType, cfg config.Tunables, backend engine.Backend, ctx engine.ContextHandle, regions *RegionManager) *FieldManager {
	fm := &FieldManager{
		shape:     shape,
		dtype:     dtype,
		cfg:       cfg,
		backend:   backend,
		ctx:       ctx,
		regions:   regions,
		freeIndex: NonLockingReadMap.New[fieldRefItem, uint64](),
	}
	fm.matchFrequency = deriveMatchFrequency(shape, dtype, cfg)
	return fm
}

// deriveMatchFrequency implements spec.md §4.4: volume*dtype.size >
// max_reuse_size scales the frequency down proportionally, clamped
// >= 1.
func deriveMatchFrequency(shape Shape, dtype engine.DType, cfg config.Tunables) int {
	freq := int(cfg.FieldReuseFrequency)
	if freq < 1 {
		freq = 1
	}
	bytes := shape.Volume() * int64(dtype.Size)
	maxReuse := int64(cfg.FieldReuseSize)
	if maxReuse > 0 && bytes > maxReuse {
		scaled := int64(freq) * maxReuse / bytes
		if scaled < 1 {
			scaled = 1
		}
		freq = int(scaled)
	}
	if freq < 1 {
		freq = 1
	}
	return freq
}

// AllocateField implements spec.md §4.4's allocate_field state
// machine.
func (fm *FieldManager) AllocateField() (*Field, error) {
	fm.mu.Lock()
	if fm.destroyed {
		fm.mu.Unlock()
		return nil, errs.New(errs.KindAssertionViolation, "field manager: AllocateField after destroy")
	}

	fm.counter++
	if fm.counter == fm.matchFrequency {
		fm.counter = 0
		local := fm.freedFields
		fm.freedFields = nil
		fm.mu.Unlock()

		if len(local) > 0 {
			fmatch := newFieldMatch(fm.ctx, fm.backend, local)
			fm.mu.Lock()
			fm.pendingMatches = append(fm.pendingMatches, fmatch)
			fm.mu.Unlock()
		}
		fm.mu.Lock()
	}

	if ref, ok := fm.popFreeLocked(); ok {
		telemetry.IncrFieldReuseHit()
		fm.mu.Unlock()
		return fm.wrapReused(ref), nil
	}

	// drain queued matches in FIFO order, updating free fields after
	// each, until one produces a usable head
	for len(fm.pendingMatches) > 0 {
		fmatch := fm.pendingMatches[0]
		fm.pendingMatches = fm.pendingMatches[1:]
		fm.mu.Unlock()

		accepted, rejected := fmatch.update(fm.backend)

		fm.mu.Lock()
		for _, a := range accepted {
			fm.pushFreeLocked(a)
		}
		fm.freedFields = append(fm.freedFields, rejected...)

		if ref, ok := fm.popFreeLocked(); ok {
			telemetry.IncrFieldReuseHit()
			fm.mu.Unlock()
			return fm.wrapReused(ref), nil
		}
	}

	fm.mu.Unlock()
	telemetry.IncrFieldReuseMiss()

	region, fieldID := fm.regions.AllocateField(fm.dtype)
	return &Field{
		Region:  region,
		FieldID: fieldID,
		DType:   fm.dtype,
		Shape:   fm.shape,
		Own:     true,
		manager: fm,
	}, nil
}

func (fm *FieldManager) wrapReused(ref fieldRef) *Field {
	return &Field{
		Region:  ref.region,
		FieldID: ref.fieldID,
		DType:   fm.dtype,
		Shape:   fm.shape,
		Own:     true,
		manager: fm,
	}
}

func (fm *FieldManager) pushFreeLocked(ref fieldRef) {
	fm.nextSeq++
	item := &fieldRefItem{ref: ref, seq: fm.nextSeq}
	fm.freeIndex.Set(item)
}

func (fm *FieldManager) popFreeLocked() (fieldRef, bool) {
	items := fm.freeIndex.GetAll() // kept sorted by seq: items[0] is the FIFO head
	if len(items) == 0 {
		return fieldRef{}, false
	}
	head := items[0]
	fm.freeIndex.Remove(head.seq)
	return head.ref, true
}

// freeField implements spec.md §4.4's free_field: append to
// free_fields if ordered (output of a successful match), else to
// freed_fields.
func (fm *FieldManager) freeField(region engine.RegionHandle, fieldID int, shape Shape, dtype engine.DType, ordered bool) {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	if fm.destroyed {
		return // destroyed: late releases are no-ops (spec.md §9)
	}
	ref := fieldRef{region: region, fieldID: fieldID}
	if ordered {
		fm.pushFreeLocked(ref)
	} else {
		fm.freedFields = append(fm.freedFields, ref)
	}
}

// Destroy empties both lists so late destructors become no-ops.
func (fm *FieldManager) Destroy() {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	for _, item := range fm.freeIndex.GetAll() {
		fm.freeIndex.Remove(item.seq)
	}
	fm.freedFields = nil
	fm.pendingMatches = nil
	fm.destroyed = true
}

// FreeFieldsSnapshot returns a copy of the current free_fields FIFO,
// for tests asserting the field-reclamation property (spec.md §8).
func (fm *FieldManager) FreeFieldsSnapshot() []fieldRef {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	items := fm.freeIndex.GetAll()
	out := make([]fieldRef, len(items))
	for i, item := range items {
		out[i] = item.ref
	}
	return out
}

func (fm *FieldManager) FreedFieldsSnapshot() []fieldRef {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	out := make([]fieldRef, len(fm.freedFields))
	copy(out, fm.freedFields)
	return out
}
