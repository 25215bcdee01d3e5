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
	"fmt"
	goruntime "runtime"
	"sync"

	"github.com/jtolds/gls"
	"github.com/launix-de/NonLockingReadMap"

	"github.com/launix-de/fuseflow/engine"
	"github.com/launix-de/fuseflow/errs"
	"github.com/launix-de/fuseflow/telemetry"
)

// ExternalAllocation describes one or more host buffers backing a
// store externally — e.g. a plain mmap'd range, or a multi-buffer
// allocation with one shard-local buffer per shard.
type ExternalAllocation struct {
	Buffers   []ExternalBuffer
	Shareable bool // single-buffer allocations may be shareable; multi-buffer ones never are
}

type ExternalBuffer struct {
	Ptr    uintptr
	Extent uint64
}

func (b ExternalBuffer) end() uint64 { return uint64(b.Ptr) + b.Extent - 1 }

func (b ExternalBuffer) overlaps(o ExternalBuffer) bool {
	return uint64(b.Ptr) <= o.end() && uint64(o.Ptr) <= b.end()
}

// regionFieldWeak is a weak reference to a Field: the attachment does
// not keep the field alive, it reads it opportunistically (spec.md §9
// design note). Modeled as a generation-tagged slot: once the
// generation the attachment observed no longer matches the live
// generation, the field is considered gone.
type regionFieldWeak struct {
	field      *Field
	generation uint64
}

func (w regionFieldWeak) resolve(liveGen uint64) (*Field, bool) {
	if w.generation != liveGen || w.field == nil {
		return nil, false
	}
	return w.field, true
}

// attachmentKey is (base_ptr, byte_length).
type attachmentKey struct {
	ptr    uintptr
	length uint64
}

// wireKey renders the key as a fixed-width, lexically-ordered string
// so it can serve as the TK type parameter of NonLockingReadMap, which
// requires an ordered primitive rather than a struct.
func (k attachmentKey) wireKey() string {
	return fmt.Sprintf("%020d:%020d", uint64(k.ptr), k.length)
}

// attachmentEntryVal satisfies NonLockingReadMap's KeyGetter with a
// value (not pointer) receiver, as its generic parameter requires. It
// is the sole record of a live attachment: AttachmentManager resolves
// every lookup (HasAttachment, ReuseExistingAttachment, the duplicate
// and overlap checks in AttachExternalAllocation) through the index
// below rather than a parallel plain map.
type attachmentEntryVal struct {
	key       attachmentKey
	shareable bool
	weak      regionFieldWeak
}

func (e attachmentEntryVal) GetKey() string  { return e.key.wireKey() }
func (e attachmentEntryVal) ComputeSize() uint { return 64 }

// detachHandle is the opaque integer handle for a deferred detachment
// object created externally (spec.md §4.5 register_detachment).
type detachHandle struct {
	id      uint64
	alloc   ExternalAllocation
	region  *Field
}

// AttachmentManager maps external host buffers to their backing
// region-field, enforces non-aliasing, and sequences deferred
// detachments. Grounded on storage/overlay-blob.go's content-addressed
// external blob attachment and storage/persistence-s3.go /
// persistence-ceph.go's opportunistic external-allocation resolution;
// the overlap index uses NonLockingReadMap the way
// storage/transaction.go uses it for its read-heavy, rare-write
// overlay bitmap — every lookup below (`HasAttachment`,
// `ReuseExistingAttachment`, the duplicate/overlap scan in
// `AttachExternalAllocation`) resolves through `index.Get`/
// `index.GetAll`, not a parallel plain map.
type AttachmentManager struct {
	mu sync.Mutex

	backend engine.Backend
	ctx     engine.ContextHandle

	generation uint64 // stamped into each weak ref; a ref with a different stamp no longer resolves

	deferred []detachHandle
	pending  []pendingDetach

	nextHandle uint64
	handles    map[uint64]detachHandle

	index NonLockingReadMap.NonLockingReadMap[attachmentEntryVal, string]
}

type pendingDetach struct {
	future engine.FutureHandle
	held   *Field // strong reference kept alive until the future resolves
}

func NewAttachmentManager(backend engine.Backend, ctx engine.ContextHandle) *AttachmentManager {
	return &AttachmentManager{
		backend: backend,
		ctx:     ctx,
		handles: make(map[uint64]detachHandle),
		index:   NonLockingReadMap.New[attachmentEntryVal, string](),
	}
}

// HasAttachment reports whether a key exists and its weak reference
// still resolves.
func (am *AttachmentManager) HasAttachment(buf ExternalBuffer) bool {
	am.mu.Lock()
	defer am.mu.Unlock()
	key := attachmentKey{ptr: buf.Ptr, length: buf.Extent}
	e := am.index.Get(key.wireKey())
	if e == nil {
		return false
	}
	_, live := e.weak.resolve(am.generation)
	return live
}

// ReuseExistingAttachment returns the alive region-field iff
// shareable; otherwise nil (and garbage-collects stale keys).
func (am *AttachmentManager) ReuseExistingAttachment(buf ExternalBuffer) *Field {
	am.mu.Lock()
	defer am.mu.Unlock()
	key := attachmentKey{ptr: buf.Ptr, length: buf.Extent}
	e := am.index.Get(key.wireKey())
	if e == nil {
		return nil
	}
	f, live := e.weak.resolve(am.generation)
	if !live {
		am.index.Remove(key.wireKey())
		return nil
	}
	if !e.shareable {
		return nil
	}
	return f
}

// AttachExternalAllocation binds one attachment per buffer in alloc to
// region_field. Rejects a live second attachment at the same key
// (DuplicateAttachment) and any overlap with an existing attachment
// (AliasedAttachment).
func (am *AttachmentManager) AttachExternalAllocation(alloc ExternalAllocation, rf *Field) error {
	am.mu.Lock()
	defer am.mu.Unlock()

	shareable := alloc.Shareable && len(alloc.Buffers) == 1

	for _, buf := range alloc.Buffers {
		key := attachmentKey{ptr: buf.Ptr, length: buf.Extent}
		if e := am.index.Get(key.wireKey()); e != nil {
			if _, live := e.weak.resolve(am.generation); live {
				return errs.New(errs.KindDuplicateAttachment, "buffer %v already attached", key)
			}
		}
		for _, e := range am.index.GetAll() {
			if e.key == key {
				continue
			}
			if _, live := e.weak.resolve(am.generation); !live {
				continue
			}
			existing := ExternalBuffer{Ptr: e.key.ptr, Extent: e.key.length}
			if existing.overlaps(buf) {
				return errs.New(errs.KindAliasedAttachment, "buffer %v overlaps existing attachment %v", buf, e.key)
			}
		}
	}

	for _, buf := range alloc.Buffers {
		key := attachmentKey{ptr: buf.Ptr, length: buf.Extent}
		weak := regionFieldWeak{field: rf, generation: am.generation}
		am.index.Set(&attachmentEntryVal{key: key, shareable: shareable, weak: weak})
	}
	return nil
}

// DetachExternalAllocation removes alloc's keys from the index (unless
// re-entering a deferred detachment); if defer_ is true, appends to
// the deferred list and returns. Otherwise dispatches and, if the
// resulting future is not already ready, holds it in pending
// detachments until ready. The detach operation holds a strong
// reference to its field until the future resolves.
func (am *AttachmentManager) DetachExternalAllocation(alloc ExternalAllocation, rf *Field, deferDetach bool, previouslyDeferred bool) {
	am.mu.Lock()

	if !previouslyDeferred {
		for _, buf := range alloc.Buffers {
			key := attachmentKey{ptr: buf.Ptr, length: buf.Extent}
			am.index.Remove(key.wireKey())
		}
		// invalidate any weak refs into rf held under other keys
		var stale []string
		for _, e := range am.index.GetAll() {
			if e.weak.field == rf {
				stale = append(stale, e.GetKey())
			}
		}
		for _, k := range stale {
			am.index.Remove(k)
		}
	}

	if deferDetach {
		am.deferred = append(am.deferred, detachHandle{region: rf, alloc: alloc})
		am.mu.Unlock()
		return
	}
	am.mu.Unlock()

	future := am.backend.DispatchCopy(am.ctx, nil) // stand-in for the engine's detach dispatch
	if am.backend.FutureReady(future) {
		return
	}
	am.mu.Lock()
	am.pending = append(am.pending, pendingDetach{future: future, held: rf})
	am.mu.Unlock()
}

// RegisterDetachment assigns an opaque integer handle to an externally
// created deferred detachment object.
func (am *AttachmentManager) RegisterDetachment(alloc ExternalAllocation, rf *Field) uint64 {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.nextHandle++
	id := am.nextHandle
	am.handles[id] = detachHandle{id: id, alloc: alloc, region: rf}
	return id
}

// RemoveDetachment drops a previously registered handle.
func (am *AttachmentManager) RemoveDetachment(id uint64) {
	am.mu.Lock()
	defer am.mu.Unlock()
	delete(am.handles, id)
}

// Destroy drains deferred detachments (allowing the engine to make
// unordered-operation progress between drains), then awaits all
// pending detachments.
func (am *AttachmentManager) Destroy() {
	am.mu.Lock()
	deferred := am.deferred
	am.deferred = nil
	am.mu.Unlock()

	for _, d := range deferred {
		am.backend.ProgressUnorderedOperations(am.ctx)
		am.DetachExternalAllocation(d.alloc, d.region, false, true)
	}

	am.mu.Lock()
	pending := am.pending
	am.pending = nil
	am.mu.Unlock()

	// Wait out pending detachments concurrently, throttled by CPU
	// count, mirroring storage/partition.go's gls-backed shard fan-out:
	// each wait is independent and only needs to complete before
	// Destroy returns, not in any particular order.
	workers := goruntime.NumCPU()
	if workers < 1 {
		workers = 1
	}
	if workers > len(pending) {
		workers = len(pending)
	}
	if workers == 0 {
		return
	}
	jobs := make(chan pendingDetach, len(pending))
	for _, p := range pending {
		jobs <- p
	}
	close(jobs)

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		gls.Go(func() func() {
			return func() {
				defer wg.Done()
				for p := range jobs {
					if telemetry.Trace != nil {
						telemetry.Trace.Duration("AttachmentManager.Destroy.shard", "attachment", func() {
							am.backend.FutureWait(p.future) // second permitted suspension point (spec.md §5)
						})
					} else {
						am.backend.FutureWait(p.future)
					}
				}
			}
		}())
	}
	wg.Wait()
}
