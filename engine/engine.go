// Package engine describes the external collaborator surface the core
// operation pipeline consumes: the lower-level execution engine that
// actually launches tasks and copies, and the logical-store
// implementation the core reads geometry from.
//
// Nothing in this package is implemented here — it is the interface
// boundary spec.md §1 calls out as "out of scope": the engine that
// dispatches launchers and returns futures, and the store that knows
// its own shape, element type, and parent chain.
package engine

import "fmt"

// DType describes an element type's wire size. The core only needs the
// byte size to reason about field reuse thresholds; everything else
// about the type is opaque to it.
type DType struct {
	Name string
	Size int
}

// Handle is an opaque, comparable engine-assigned identity. The zero
// value means "no handle".
type Handle struct {
	id uintptr
}

// Valid reports whether h was ever assigned by the engine.
func (h Handle) Valid() bool { return h.id != 0 }

func (h Handle) String() string { return fmt.Sprintf("handle(%d)", h.id) }

// NewHandle wraps an engine-assigned id. Only engine.Backend
// implementations should call this.
func NewHandle(id uintptr) Handle { return Handle{id: id} }

// RegionHandle, IndexSpaceHandle, FieldSpaceHandle, PartitionHandle and
// FutureHandle are distinct handle kinds so the compiler catches
// accidental cross-wiring even though they all share the same
// representation.
type (
	RegionHandle     struct{ Handle }
	IndexSpaceHandle struct{ Handle }
	FieldSpaceHandle struct{ Handle }
	PartitionHandle  struct{ Handle }
	FutureHandle     struct{ Handle }
	ContextHandle    struct{ Handle }
)

// Rect is an inclusive-bounds axis-aligned box, used both for
// index-space construction and for projection functors.
type Rect struct {
	Lo, Hi []int64
}

// Store is the logical, possibly unmaterialized array the core reads
// geometry from. The core never constructs one; it is handed a Store
// by the per-library operation wrapper.
type Store interface {
	// Shape returns the store's ordered extents. Meaningless (and
	// must not be called) if Unbound() is true.
	Shape() []int64
	// ElemType returns the element type, used for field-reuse sizing.
	ElemType() DType
	// Scalar reports whether this store is a 0-d future-backed
	// singleton.
	Scalar() bool
	// Unbound reports whether extents are only known after the
	// producing task runs.
	Unbound() bool
	// Parent returns the store this one is a transformed view of, if
	// any.
	Parent() (Store, bool)
	// KeyPartition returns the cached partition previously chosen for
	// this store, if any.
	KeyPartition() (partition interface{}, ok bool)
	// SetKeyPartition caches the partition chosen for this store.
	SetKeyPartition(partition interface{})
	// SetFuture stores the result of a scalar-output or scalar-
	// reduction launch into this store, so later readers observe the
	// value without a separate round trip through the engine.
	SetFuture(f FutureHandle)
	// ID is a stable identity for this store, used as a map/EqClass
	// key. Two Store values describing the same logical array must
	// compare equal under ID.
	ID() uintptr
}

// ConsensusResult is the output of a collective match across shards:
// the intersection of each shard's local input, in an order identical
// on every shard.
type ConsensusResult struct {
	Entries []int32 // packed (tree_id, field_id) pairs, two int32 per entry
}

// Backend is the set of engine operations the core calls. A real
// implementation dispatches to a distributed execution engine; tests
// and the CLI demo use an in-process fake.
type Backend interface {
	CreateIndexSpaceFromBounds(shape []int64) IndexSpaceHandle
	CreateIndexSpaceFromRect(r Rect) IndexSpaceHandle
	CreateFieldSpace() FieldSpaceHandle
	CreateLogicalRegion(is IndexSpaceHandle, fs FieldSpaceHandle) RegionHandle
	AllocateField(fs FieldSpaceHandle, dt DType) (fieldID int, ok bool)
	DeallocateField(fs FieldSpaceHandle, fieldID int)

	// ConsensusMatch runs a collective match over a packed int32
	// buffer (two int32 per logical entry) and returns a future that
	// resolves to the cross-shard intersection in canonical order.
	ConsensusMatch(ctx ContextHandle, payload []int32, entrySize int) FutureHandle

	// DispatchTask/DispatchCopy launch a task or copy launcher, either
	// at a single point (launchShape == nil) or over an index space.
	DispatchTask(ctx ContextHandle, taskID int, launchShape []int64) FutureHandle
	DispatchCopy(ctx ContextHandle, launchShape []int64) FutureHandle

	RegisterProjection(id int, srcNdim int, dims []int)
	RegisterSharding(id int, srcNdim int, dims []int)

	ProgressUnorderedOperations(ctx ContextHandle)

	// FutureReady reports whether a future has already resolved
	// without blocking.
	FutureReady(f FutureHandle) bool
	// FutureWait blocks until f resolves and returns its payload.
	FutureWait(f FutureHandle) []byte

	TaskPreamble() ContextHandle
	TaskPostamble(ctx ContextHandle)
}
