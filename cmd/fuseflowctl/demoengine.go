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
package main

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/launix-de/fuseflow/engine"
)

// demoBackend is the in-process stand-in for a real distributed
// execution engine: every handle resolves instantly, every future is
// born ready. It exists so the REPL can exercise submit/flush/fusion
// end to end without a cluster, the way a unit test drives the
// partitioner against an in-memory fake.
type demoBackend struct {
	mu      sync.Mutex
	nextID  uint64
	fields  map[engine.FieldSpaceHandle]map[int]bool
	futures map[engine.FutureHandle][]byte

	tasksDispatched  int64
	copiesDispatched int64
}

func newDemoBackend() *demoBackend {
	return &demoBackend{
		fields:  make(map[engine.FieldSpaceHandle]map[int]bool),
		futures: make(map[engine.FutureHandle][]byte),
	}
}

func (b *demoBackend) alloc() uintptr {
	return uintptr(atomic.AddUint64(&b.nextID, 1))
}

func (b *demoBackend) CreateIndexSpaceFromBounds(shape []int64) engine.IndexSpaceHandle {
	return engine.IndexSpaceHandle{Handle: engine.NewHandle(b.alloc())}
}

func (b *demoBackend) CreateIndexSpaceFromRect(r engine.Rect) engine.IndexSpaceHandle {
	return engine.IndexSpaceHandle{Handle: engine.NewHandle(b.alloc())}
}

func (b *demoBackend) CreateFieldSpace() engine.FieldSpaceHandle {
	fs := engine.FieldSpaceHandle{Handle: engine.NewHandle(b.alloc())}
	b.mu.Lock()
	b.fields[fs] = make(map[int]bool)
	b.mu.Unlock()
	return fs
}

func (b *demoBackend) CreateLogicalRegion(is engine.IndexSpaceHandle, fs engine.FieldSpaceHandle) engine.RegionHandle {
	return engine.RegionHandle{Handle: engine.NewHandle(b.alloc())}
}

func (b *demoBackend) AllocateField(fs engine.FieldSpaceHandle, dt engine.DType) (int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	live, ok := b.fields[fs]
	if !ok {
		live = make(map[int]bool)
		b.fields[fs] = live
	}
	id := 1
	for live[id] {
		id++
	}
	live[id] = true
	return id, true
}

func (b *demoBackend) DeallocateField(fs engine.FieldSpaceHandle, fieldID int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if live, ok := b.fields[fs]; ok {
		delete(live, fieldID)
	}
}

// ConsensusMatch: the demo only ever runs a single shard, so the
// cross-shard intersection is just the input, already in canonical
// (insertion) order. Wire format per spec.md §6: an 8-byte
// little-endian entry count, then count*entrySize bytes of packed
// little-endian int32 pairs.
func (b *demoBackend) ConsensusMatch(ctx engine.ContextHandle, payload []int32, entrySize int) engine.FutureHandle {
	count := len(payload) / 2
	buf := make([]byte, 8+len(payload)*4)
	putLE64(buf[:8], uint64(count))
	for i, v := range payload {
		putLE32(buf[8+i*4:8+i*4+4], uint32(v))
	}
	return b.readyFuture(buf)
}

func putLE32(dst []byte, v uint32) {
	dst[0] = byte(v)
	dst[1] = byte(v >> 8)
	dst[2] = byte(v >> 16)
	dst[3] = byte(v >> 24)
}

func putLE64(dst []byte, v uint64) {
	for i := 0; i < 8; i++ {
		dst[i] = byte(v >> (8 * i))
	}
}

func (b *demoBackend) DispatchTask(ctx engine.ContextHandle, taskID int, launchShape []int64) engine.FutureHandle {
	atomic.AddInt64(&b.tasksDispatched, 1)
	return b.readyFuture(nil)
}

func (b *demoBackend) DispatchCopy(ctx engine.ContextHandle, launchShape []int64) engine.FutureHandle {
	atomic.AddInt64(&b.copiesDispatched, 1)
	return b.readyFuture(nil)
}

func (b *demoBackend) RegisterProjection(id int, srcNdim int, dims []int) {}
func (b *demoBackend) RegisterSharding(id int, srcNdim int, dims []int)   {}

func (b *demoBackend) ProgressUnorderedOperations(ctx engine.ContextHandle) {}

func (b *demoBackend) FutureReady(f engine.FutureHandle) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.futures[f]
	return ok
}

func (b *demoBackend) FutureWait(f engine.FutureHandle) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.futures[f]
}

func (b *demoBackend) TaskPreamble() engine.ContextHandle {
	return engine.ContextHandle{Handle: engine.NewHandle(b.alloc())}
}

func (b *demoBackend) TaskPostamble(ctx engine.ContextHandle) {}

func (b *demoBackend) readyFuture(payload []byte) engine.FutureHandle {
	f := engine.FutureHandle{Handle: engine.NewHandle(b.alloc())}
	b.mu.Lock()
	b.futures[f] = payload
	b.mu.Unlock()
	return f
}

var _ engine.Backend = (*demoBackend)(nil)

// demoStore is the minimal engine.Store a REPL-submitted op needs: a
// named logical array with a fixed shape and element type, no parent,
// and a key-partition/future cache the core writes back into.
type demoStore struct {
	name    string
	id      uintptr
	shape   []int64
	dtype   engine.DType
	scalar  bool
	unbound bool
	parent  engine.Store
	hasParent bool

	mu           sync.Mutex
	keyPartition interface{}
	hasKeyPart   bool
	future       engine.FutureHandle
}

func newDemoStore(name string, shape []int64, dtype engine.DType) *demoStore {
	return &demoStore{
		name:  name,
		id:    uintptr(atomic.AddUint64(&demoStoreIDs, 1)),
		shape: shape,
		dtype: dtype,
	}
}

var demoStoreIDs uint64

func (s *demoStore) Shape() []int64      { return s.shape }
func (s *demoStore) ElemType() engine.DType { return s.dtype }
func (s *demoStore) Scalar() bool        { return s.scalar }
func (s *demoStore) Unbound() bool       { return s.unbound }

func (s *demoStore) Parent() (engine.Store, bool) { return s.parent, s.hasParent }

func (s *demoStore) KeyPartition() (interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keyPartition, s.hasKeyPart
}

func (s *demoStore) SetKeyPartition(p interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keyPartition = p
	s.hasKeyPart = true
}

func (s *demoStore) SetFuture(f engine.FutureHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.future = f
}

func (s *demoStore) ID() uintptr { return s.id }

func (s *demoStore) String() string {
	return fmt.Sprintf("%s%v:%s", s.name, s.shape, s.dtype.Name)
}

var _ engine.Store = (*demoStore)(nil)
