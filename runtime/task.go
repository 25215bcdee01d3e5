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
	"github.com/launix-de/fuseflow/engine"
	"github.com/launix-de/fuseflow/errs"
)

// ScalarArg is a (value, dtype) pair a Task carries as a non-store
// argument.
type ScalarArg struct {
	Value interface{}
	DType engine.DType
}

// TaskLauncher receives the ordered pushes Task.Launch makes before
// delegating to Strategy.Launch/LaunchCopy. A real engine binding
// would push these straight onto a region-requirement launcher; here
// it is the minimal surface the core needs to stay engine-agnostic.
type TaskLauncher interface {
	PushNoAccess(req Requirement)
	PushInput(req Requirement)
	PushOutput(req Requirement)
	PushReduction(req Requirement, redop RedOp)
	PushUnboundOutput(fs engine.FieldSpaceHandle, dtype engine.DType) int
	PushScalarArg(arg ScalarArg)
	PushFuture(f engine.FutureHandle)
}

// Task is a Operation plus a task-id, scalar args and futures
// (spec.md §3).
type Task struct {
	*Operation
	TaskID     int
	ScalarArgs []ScalarArg
	Futures    []engine.FutureHandle

	// unboundOutputs is the subset of Outputs() that are unbound; Task
	// allocates their fields at launch time from the strategy's
	// field-space rather than attaching a precomputed requirement.
	unboundOutputs map[uintptr]bool

	// fusedHeader is non-nil only for a Task synthesized by
	// buildFusedOp: it lets the execution side recover per-sub-op
	// slices of this Task's concatenated arrays (spec.md §6).
	fusedHeader *FusedOpHeader
}

// FusedHeader returns the fused-op header attached by buildFusedOp,
// or nil for an ordinary (non-fused) Task.
func (t *Task) FusedHeader() *FusedOpHeader { return t.fusedHeader }

func NewTask(taskID int) *Task {
	return &Task{Operation: NewOperation(), TaskID: taskID, unboundOutputs: make(map[uintptr]bool)}
}

func (t *Task) AddUnboundOutput(s engine.Store) {
	t.AddOutput(s)
	t.unboundOutputs[s.ID()] = true
}

func (t *Task) AddScalarArg(value interface{}, dt engine.DType) {
	t.ScalarArgs = append(t.ScalarArgs, ScalarArg{Value: value, DType: dt})
}

func (t *Task) AddFuture(f engine.FutureHandle) {
	t.Futures = append(t.Futures, f)
}

// Launch implements spec.md §4.8's Task.launch(strategy): walk
// no-accesses, inputs, bound outputs, and reductions in that order,
// pushing each with its strategy entry; then for unbound outputs
// allocate a field in the strategy-supplied field-space and push as
// unbound output; then scalar args, then futures; finally delegate to
// the strategy's launch.
func (t *Task) Launch(strategy *Strategy, launcher TaskLauncher, backend engine.Backend, ctx engine.ContextHandle) (engine.FutureHandle, error) {
	for _, s := range t.NoAccess() {
		launcher.PushNoAccess(strategy.GetRequirement(s))
	}
	for _, s := range t.Inputs() {
		launcher.PushInput(strategy.GetRequirement(s))
	}
	for _, s := range t.Outputs() {
		if t.unboundOutputs[s.ID()] {
			continue // pushed below, after bound outputs
		}
		launcher.PushOutput(strategy.GetRequirement(s))
	}
	for _, rp := range t.Reductions() {
		launcher.PushReduction(strategy.GetRequirement(rp.Store), rp.RedOp)
	}
	for _, s := range t.Outputs() {
		if !t.unboundOutputs[s.ID()] {
			continue
		}
		fs, ok := strategy.GetFieldSpace(s)
		if !ok {
			return engine.FutureHandle{}, errs.New(errs.KindNoStrategy, "task: no field-space strategy entry for unbound output %d", s.ID())
		}
		launcher.PushUnboundOutput(fs, s.ElemType())
	}
	for _, a := range t.ScalarArgs {
		launcher.PushScalarArg(a)
	}
	for _, f := range t.Futures {
		launcher.PushFuture(f)
	}

	var scalarOutStore engine.Store
	if s, ok := t.ScalarOutput(); ok {
		scalarOutStore = s
	}
	future := strategy.Launch(backend, ctx, t.TaskID, scalarOutStore)
	return future, nil
}
