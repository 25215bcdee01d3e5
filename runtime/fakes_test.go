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
	"sync"
	"sync/atomic"

	"github.com/launix-de/fuseflow/engine"
)

var fakeStoreIDs uint64

// fakeStore is the minimal engine.Store a package-internal test needs:
// no backing region, just shape/dtype/parent/key-partition bookkeeping.
type fakeStore struct {
	id      uintptr
	shape   []int64
	dtype   engine.DType
	scalar  bool
	unbound bool
	parent  engine.Store
	hasPar  bool

	mu    sync.Mutex
	kp    interface{}
	hasKP bool
	fut   engine.FutureHandle
}

func newFakeStore(shape ...int64) *fakeStore {
	return &fakeStore{id: uintptr(atomic.AddUint64(&fakeStoreIDs, 1)), shape: shape}
}

func (s *fakeStore) withParent(p engine.Store) *fakeStore {
	s.parent = p
	s.hasPar = true
	return s
}

func (s *fakeStore) Shape() []int64      { return s.shape }
func (s *fakeStore) ElemType() engine.DType { return s.dtype }
func (s *fakeStore) Scalar() bool        { return s.scalar }
func (s *fakeStore) Unbound() bool       { return s.unbound }
func (s *fakeStore) Parent() (engine.Store, bool) { return s.parent, s.hasPar }
func (s *fakeStore) ID() uintptr         { return s.id }

func (s *fakeStore) KeyPartition() (interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kp, s.hasKP
}

func (s *fakeStore) SetKeyPartition(p interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kp = p
	s.hasKP = true
}

func (s *fakeStore) SetFuture(f engine.FutureHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fut = f
}

var _ engine.Store = (*fakeStore)(nil)

// fakeBackend is the in-process engine.Backend stand-in every
// runtime test shares: every handle resolves instantly, every future
// is born ready, and ConsensusMatch echoes its input back as the
// accepted set (single-shard semantics).
type fakeBackend struct {
	mu      sync.Mutex
	nextID  uint64
	futures map[engine.FutureHandle][]byte

	tasksDispatched  int
	copiesDispatched int
	consensusCalls   int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{futures: make(map[engine.FutureHandle][]byte)}
}

func (b *fakeBackend) alloc() uintptr { return uintptr(atomic.AddUint64(&b.nextID, 1)) }

func (b *fakeBackend) CreateIndexSpaceFromBounds(shape []int64) engine.IndexSpaceHandle {
	return engine.IndexSpaceHandle{Handle: engine.NewHandle(b.alloc())}
}
func (b *fakeBackend) CreateIndexSpaceFromRect(r engine.Rect) engine.IndexSpaceHandle {
	return engine.IndexSpaceHandle{Handle: engine.NewHandle(b.alloc())}
}
func (b *fakeBackend) CreateFieldSpace() engine.FieldSpaceHandle {
	return engine.FieldSpaceHandle{Handle: engine.NewHandle(b.alloc())}
}
func (b *fakeBackend) CreateLogicalRegion(is engine.IndexSpaceHandle, fs engine.FieldSpaceHandle) engine.RegionHandle {
	return engine.RegionHandle{Handle: engine.NewHandle(b.alloc())}
}

func (b *fakeBackend) AllocateField(fs engine.FieldSpaceHandle, dt engine.DType) (int, bool) {
	return int(b.alloc()), true
}
func (b *fakeBackend) DeallocateField(fs engine.FieldSpaceHandle, fieldID int) {}

func (b *fakeBackend) ConsensusMatch(ctx engine.ContextHandle, payload []int32, entrySize int) engine.FutureHandle {
	b.mu.Lock()
	b.consensusCalls++
	b.mu.Unlock()

	count := len(payload) / 2
	buf := make([]byte, 8+len(payload)*4)
	binary.LittleEndian.PutUint64(buf[:8], uint64(count))
	for i, v := range payload {
		binary.LittleEndian.PutUint32(buf[8+i*4:8+i*4+4], uint32(v))
	}
	return b.readyFuture(buf)
}

func (b *fakeBackend) DispatchTask(ctx engine.ContextHandle, taskID int, launchShape []int64) engine.FutureHandle {
	b.mu.Lock()
	b.tasksDispatched++
	b.mu.Unlock()
	return b.readyFuture(nil)
}

func (b *fakeBackend) DispatchCopy(ctx engine.ContextHandle, launchShape []int64) engine.FutureHandle {
	b.mu.Lock()
	b.copiesDispatched++
	b.mu.Unlock()
	return b.readyFuture(nil)
}

func (b *fakeBackend) RegisterProjection(id int, srcNdim int, dims []int) {}
func (b *fakeBackend) RegisterSharding(id int, srcNdim int, dims []int)   {}
func (b *fakeBackend) ProgressUnorderedOperations(ctx engine.ContextHandle) {}

func (b *fakeBackend) FutureReady(f engine.FutureHandle) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.futures[f]
	return ok
}

func (b *fakeBackend) FutureWait(f engine.FutureHandle) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.futures[f]
}

func (b *fakeBackend) TaskPreamble() engine.ContextHandle {
	return engine.ContextHandle{Handle: engine.NewHandle(b.alloc())}
}
func (b *fakeBackend) TaskPostamble(ctx engine.ContextHandle) {}

func (b *fakeBackend) readyFuture(payload []byte) engine.FutureHandle {
	f := engine.FutureHandle{Handle: engine.NewHandle(b.alloc())}
	b.mu.Lock()
	b.futures[f] = payload
	b.mu.Unlock()
	return f
}

var _ engine.Backend = (*fakeBackend)(nil)

var f64 = engine.DType{Name: "float64", Size: 8}
