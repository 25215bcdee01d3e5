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

// Package runtime is the client-side operation pipeline: the
// scheduling window, the partitioner/solver, the fusion checker and
// its legality chain, field/region lifecycle management, and
// attachment bookkeeping. Everything here is grounded on
// storage/partition.go's repartition-propose/apply split and
// storage/transaction.go's propose/collect/apply commit shape,
// generalized from "one table's shard plan" to "a window of
// data-parallel operations against logical arrays".
package runtime

import (
	"sync"

	"github.com/dc0d/onexit"

	"github.com/launix-de/fuseflow/config"
	"github.com/launix-de/fuseflow/engine"
	"github.com/launix-de/fuseflow/errs"
	"github.com/launix-de/fuseflow/telemetry"
)

// Context is the per-library handle register_library hands back: a
// name, and the state the library uses to author operations against
// this runtime.
type Context struct {
	Name string
	rt   *Runtime
}

// projKey memoizes get_projection by (src_ndim, dims).
type projKey struct {
	srcNdim int
	dimsKey string
}

type projEntry struct {
	projectionID int
	shardingID   int
}

// Runtime owns every manager and drives submit/flush/_schedule/
// build_fused_op (spec.md §4.7). Grounded on storage/transaction.go's
// Tx-coordinator-owns-everything shape: one top-level object holding
// the window, the managers, and the dispatch sequencing.
type Runtime struct {
	mu sync.Mutex

	cfg     config.Tunables
	backend engine.Backend
	ctx     engine.ContextHandle

	pm          *PartitionManager
	partitioner *Partitioner
	fusion      *FusionChecker
	attachments *AttachmentManager

	regionManagers map[string]*RegionManager
	fieldManagers  map[string]*FieldManager

	window       []WindowOp
	clearingPipe bool

	libraries map[string]*Context
	libOrder  []string

	projCache  map[projKey]projEntry
	nextProjID int

	isTopLevelTask bool
	destroyed      bool
}

// NewRuntime constructs the runtime against one engine backend and
// context, reading tunables once (spec.md §6). The onexit hook
// mirrors storage/settings.go's InitSettings registering a
// close-the-trace-file hook: here it ensures Destroy runs even if the
// host process never calls it explicitly.
func NewRuntime(cfg config.Tunables, backend engine.Backend, ctx engine.ContextHandle, isTopLevelTask bool) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rt := &Runtime{
		cfg:            cfg,
		backend:        backend,
		ctx:            ctx,
		pm:             NewPartitionManager(cfg),
		regionManagers: make(map[string]*RegionManager),
		fieldManagers:  make(map[string]*FieldManager),
		libraries:      make(map[string]*Context),
		projCache:      make(map[projKey]projEntry),
		isTopLevelTask: isTopLevelTask,
	}
	rt.attachments = NewAttachmentManager(backend, ctx)
	rt.partitioner = NewPartitioner(rt.pm, func() engine.FieldSpaceHandle { return backend.CreateFieldSpace() })
	rt.fusion = NewFusionChecker(rt.partitioner, cfg.FusionThreshold,
		ValidTaskKinds{Allowed: map[int]bool{}, Terminal: map[int]bool{}},
		IdenticalLaunchShapes{},
		IdenticalProjection{},
		ValidProducerConsumer{},
	)
	onexit.Register(func() { rt.Destroy() })
	return rt, nil
}

// AppendConstraint appends c to the live constraint chain so a library's
// registration callback can add domain-specific rules (spec.md
// §4.6's "additional guard constraints may be registered").
func (rt *Runtime) AppendConstraint(c FusionConstraint) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.fusion.constraints = append(rt.fusion.constraints, c)
}

// AllowTaskKind registers task-id as fusable (or terminal-only) in
// the ValidTaskKinds constraint installed at construction.
func (rt *Runtime) AllowTaskKind(taskID int, terminal bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	for i, c := range rt.fusion.constraints {
		if vtk, ok := c.(ValidTaskKinds); ok {
			if terminal {
				vtk.Terminal[taskID] = true
			} else {
				vtk.Allowed[taskID] = true
			}
			rt.fusion.constraints[i] = vtk
			return
		}
	}
}

func fieldManagerKey(shape Shape, dt engine.DType) string {
	return shape.Key() + "|" + dt.Name
}

// FieldManagerFor returns (creating if needed) the FieldManager for a
// (shape, dtype) key.
func (rt *Runtime) FieldManagerFor(shape Shape, dt engine.DType) *FieldManager {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	key := fieldManagerKey(shape, dt)
	if fm, ok := rt.fieldManagers[key]; ok {
		return fm
	}
	rm, ok := rt.regionManagers[shape.Key()]
	if !ok {
		rm = NewRegionManager(shape, rt.backend)
		rt.regionManagers[shape.Key()] = rm
	}
	fm := NewFieldManager(shape, dt, rt.cfg, rt.backend, rt.ctx, rm)
	rt.fieldManagers[key] = fm
	return fm
}

func (rt *Runtime) Attachments() *AttachmentManager { return rt.attachments }

// RegisterLibrary implements spec.md §4.7's register_library: loads
// the library's registration callback, constructs a Context bound to
// this runtime, and stores it under its name. A duplicate name is a
// DuplicateLibrary error.
func (rt *Runtime) RegisterLibrary(name string, initialize func(*Context) error) (*Context, error) {
	rt.mu.Lock()
	if _, ok := rt.libraries[name]; ok {
		rt.mu.Unlock()
		return nil, errs.New(errs.KindDuplicateLibrary, "library %q already registered", name)
	}
	libCtx := &Context{Name: name, rt: rt}
	rt.libraries[name] = libCtx
	rt.libOrder = append(rt.libOrder, name)
	rt.mu.Unlock()

	if initialize != nil {
		if err := initialize(libCtx); err != nil {
			return nil, err
		}
	}
	return libCtx, nil
}

// GetProjection implements spec.md §4.7's get_projection: memoized by
// (src_ndim, dims); a miss allocates the next projection/sharding id
// from a monotonic counter, registers both with the engine, and
// records the pairing. The counter is process-local and advances
// identically on every shard because every shard observes the same
// sequence of get_projection calls (spec.md §5 determinism contract).
func (rt *Runtime) GetProjection(srcNdim int, dims []int) (projectionID, shardingID int) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	key := projKey{srcNdim: srcNdim, dimsKey: dimsKeyOf(dims)}
	if e, ok := rt.projCache[key]; ok {
		return e.projectionID, e.shardingID
	}
	rt.nextProjID++
	id := rt.nextProjID
	rt.backend.RegisterProjection(id, srcNdim, dims)
	rt.backend.RegisterSharding(id, srcNdim, dims)
	rt.projCache[key] = projEntry{projectionID: id, shardingID: id}
	return id, id
}

func dimsKeyOf(dims []int) string {
	b := make([]byte, 0, len(dims)*4)
	for _, d := range dims {
		b = append(b, byte(d>>24), byte(d>>16), byte(d>>8), byte(d))
	}
	return string(b)
}

// Submit implements spec.md §4.7's submit(op): if currently
// clearing_pipe, forward straight to schedule (the op was produced by
// fusion and must not re-enter the window); otherwise append to the
// window and drain once it reaches window_size.
func (rt *Runtime) Submit(op WindowOp) error {
	rt.mu.Lock()
	if rt.clearingPipe {
		ops := []WindowOp{op}
		rt.mu.Unlock()
		return rt.schedule(ops, false)
	}
	rt.window = append(rt.window, op)
	full := len(rt.window) >= int(rt.cfg.WindowSize)
	var toDrain []WindowOp
	if full {
		toDrain = rt.window
		rt.window = nil
	}
	rt.mu.Unlock()
	if full {
		return rt.schedule(toDrain, false)
	}
	return nil
}

// Flush drains the window unconditionally.
func (rt *Runtime) Flush() error {
	rt.mu.Lock()
	toDrain := rt.window
	rt.window = nil
	rt.mu.Unlock()
	if len(toDrain) == 0 {
		return nil
	}
	return rt.schedule(toDrain, false)
}

// WindowLen reports the current outstanding window length, for the
// window-bound testable property (spec.md §8): it must never exceed
// window_size at any call site outside _schedule.
func (rt *Runtime) WindowLen() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return len(rt.window)
}

// schedule implements spec.md §4.7's _schedule(ops, force_eval).
func (rt *Runtime) schedule(ops []WindowOp, forceEval bool) error {
	telemetry.IncrWindowDrains()
	if rt.cfg.ElideRedundantFills {
		ops = elideRedundantFills(ops)
	}
	if len(ops) >= 2 && !forceEval {
		fusedOps, strategies, err := rt.buildFusedOp(ops)
		if err != nil {
			return err
		}
		rt.mu.Lock()
		rt.clearingPipe = true
		rt.mu.Unlock()

		for i, fo := range fusedOps {
			if err := rt.dispatch(fo, strategies[i]); err != nil {
				rt.mu.Lock()
				rt.clearingPipe = false
				rt.mu.Unlock()
				return err
			}
		}

		rt.mu.Lock()
		rt.clearingPipe = false
		rt.mu.Unlock()
		return nil
	}

	rt.mu.Lock()
	clearing := rt.clearingPipe
	rt.mu.Unlock()

	if len(ops) == 1 && clearing {
		return rt.dispatchWithOwnStrategy(ops[0])
	}

	// No strategies attached yet: partition each op individually, then
	// launch each.
	for _, op := range ops {
		strat, err := rt.partitioner.PartitionStores([]*Operation{op.BaseOperation()}, op.BaseOperation().MustBeSingle())
		if err != nil {
			return err
		}
		if err := rt.dispatch(op, strat); err != nil {
			return err
		}
	}
	return nil
}

// buildFusedOp implements spec.md §4.7's build_fused_op(ops): run the
// FusionChecker; for each length-1 interval keep the original op with
// its already-computed Strategy; for each length>=2 interval,
// construct a fused Task carrying the concatenated
// inputs/outputs/reductions/scalar-args/futures/alignment and a
// FusedOpHeader, then re-run the Partitioner over the fused Task
// alone.
func (rt *Runtime) buildFusedOp(ops []WindowOp) ([]WindowOp, []*Strategy, error) {
	fusable, intervals, strategies, err := rt.fusion.Check(ops)
	if err != nil {
		return nil, nil, err
	}
	_ = fusable // intervals already reflect suppress_small_fusions

	var outOps []WindowOp
	var outStrats []*Strategy

	for _, iv := range intervals {
		if iv.Len() == 1 {
			telemetry.IncrFusionsSkipped()
			outOps = append(outOps, ops[iv.Start])
			outStrats = append(outStrats, strategies[iv.Start])
			continue
		}
		telemetry.IncrFusionsBuilt()

		subops := ops[iv.Start:iv.End]
		fusedBase, hdr, err := buildFusedHeader(subops)
		if err != nil {
			return nil, nil, err
		}

		taskID := 0
		if len(subops) > 0 {
			if id, isTask := subops[0].Kind(); isTask {
				taskID = id
			}
		}
		fusedTask := &Task{Operation: fusedBase, TaskID: taskID, unboundOutputs: make(map[uintptr]bool)}
		for _, op := range subops {
			if t, ok := op.(*Task); ok {
				fusedTask.ScalarArgs = append(fusedTask.ScalarArgs, t.ScalarArgs...)
				fusedTask.Futures = append(fusedTask.Futures, t.Futures...)
			}
		}
		fusedTask.fusedHeader = &hdr

		strat, err := rt.partitioner.PartitionStores([]*Operation{fusedBase}, fusedBase.MustBeSingle())
		if err != nil {
			return nil, nil, err
		}

		outOps = append(outOps, fusedTask)
		outStrats = append(outStrats, strat)
	}

	return outOps, outStrats, nil
}

// dispatch launches a single op against its strategy.
func (rt *Runtime) dispatch(op WindowOp, strat *Strategy) error {
	telemetry.IncrOpsDispatched()
	switch v := op.(type) {
	case *Task:
		launcher := newRecordingLauncher()
		_, err := v.Launch(strat, launcher, rt.backend, rt.ctx)
		return err
	case *Copy:
		launcher := newRecordingLauncher()
		v.Launch(strat, launcher, rt.backend, rt.ctx)
		return nil
	default:
		errs.Fatalf("runtime: dispatch: unknown WindowOp implementation %T", op)
		return nil
	}
}

// dispatchWithOwnStrategy launches a single op submitted while
// clearing_pipe is set. Since buildFusedOp already launches through dispatch directly in
// the schedule loop above, this path only fires for the degenerate
// case where a single already-scheduled op is resubmitted while
// clearing_pipe is set; it partitions once more defensively rather
// than assuming a cached strategy is still attached.
func (rt *Runtime) dispatchWithOwnStrategy(op WindowOp) error {
	strat, err := rt.partitioner.PartitionStores([]*Operation{op.BaseOperation()}, op.BaseOperation().MustBeSingle())
	if err != nil {
		return err
	}
	return rt.dispatch(op, strat)
}

// Destroy implements spec.md §4.7's shutdown: flush the window,
// drop every library context in reverse registration order (so the
// first-registered library goes last), drain deferred and pending
// detachments, destroy the field managers and clear the region/field
// manager caches, and — if loaded inside a top-level task — run
// the engine's task-postamble hook.
func (rt *Runtime) Destroy() {
	rt.mu.Lock()
	if rt.destroyed {
		rt.mu.Unlock()
		return
	}
	rt.destroyed = true
	libOrder := append([]string(nil), rt.libOrder...)
	rt.mu.Unlock()

	rt.Flush()

	for i := len(libOrder) - 1; i >= 0; i-- {
		rt.mu.Lock()
		delete(rt.libraries, libOrder[i])
		rt.mu.Unlock()
	}

	rt.attachments.Destroy()

	rt.mu.Lock()
	for _, fm := range rt.fieldManagers {
		fm.Destroy()
	}
	rt.fieldManagers = make(map[string]*FieldManager)
	rt.regionManagers = make(map[string]*RegionManager)
	rt.mu.Unlock()

	if rt.isTopLevelTask {
		rt.backend.TaskPostamble(rt.ctx)
	}
}
