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
	"errors"
	"testing"

	"github.com/launix-de/fuseflow/engine"
	"github.com/launix-de/fuseflow/errs"
)

func TestOperationAddAlignmentRejectsShapeMismatch(t *testing.T) {
	op := NewOperation()
	a := newFakeStore(4, 4)
	b := newFakeStore(4, 5)
	err := op.AddAlignment(a, b)
	if err == nil {
		t.Fatalf("expected a ShapeMismatch error")
	}
	var e *errs.Error
	if !errors.As(err, &e) || e.Kind != errs.KindShapeMismatch {
		t.Fatalf("expected KindShapeMismatch, got %v", err)
	}
}

func TestOperationAddAlignmentAcceptsSameShape(t *testing.T) {
	op := NewOperation()
	a := newFakeStore(4, 4)
	b := newFakeStore(4, 4)
	if err := op.AddAlignment(a, b); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	class := idsOf(op.Alignments().Find(a))
	if len(class) != 2 {
		t.Fatalf("expected a and b aligned together")
	}
}

func TestOperationSetScalarOutputRejectsSecondCall(t *testing.T) {
	op := NewOperation()
	a := newFakeStore()
	b := newFakeStore()
	if err := op.SetScalarOutput(a); err != nil {
		t.Fatalf("first SetScalarOutput should succeed: %v", err)
	}
	err := op.SetScalarOutput(b)
	var e *errs.Error
	if !errors.As(err, &e) || e.Kind != errs.KindMultipleScalarOutputs {
		t.Fatalf("expected KindMultipleScalarOutputs, got %v", err)
	}
}

func TestOperationStoresOrderAndDedup(t *testing.T) {
	op := NewOperation()
	a, b, c := newFakeStore(), newFakeStore(), newFakeStore()
	op.AddInput(a)
	op.AddInput(b)
	op.AddOutput(a) // re-touches a: must not duplicate in Stores()
	op.AddOutput(c)

	stores := op.Stores()
	if len(stores) != 3 {
		t.Fatalf("expected 3 distinct stores, got %d", len(stores))
	}
	if stores[0].ID() != a.ID() || stores[1].ID() != b.ID() || stores[2].ID() != c.ID() {
		t.Fatalf("expected first-seen order a,b,c; got %v,%v,%v", stores[0].ID(), stores[1].ID(), stores[2].ID())
	}
}

func TestOperationMustBeSingle(t *testing.T) {
	op := NewOperation()
	if op.MustBeSingle() {
		t.Fatalf("an op with no scalar output must not require a single launch point")
	}
	scalarStore := newFakeStore()
	scalarStore.scalar = true
	op.SetScalarOutput(scalarStore)
	if !op.MustBeSingle() {
		t.Fatalf("a scalar-output op must require a single launch point")
	}
}

func TestTaskLaunchPushesInOrder(t *testing.T) {
	backend := newFakeBackend()
	ctx := backend.TaskPreamble()

	noacc := newFakeStore(4)
	in := newFakeStore(4)
	out := newFakeStore(4)
	red := newFakeStore(4)

	task := NewTask(7)
	task.AddNoAccess(noacc)
	task.AddInput(in)
	task.AddOutput(out)
	task.AddReduction(red, NoRedOp)
	task.AddScalarArg(3.14, f64)
	task.AddFuture(engine.FutureHandle{})

	strat := NewStrategy(Shape{}, false)
	launcher := newRecordingLauncher()

	future, err := task.Launch(strat, launcher, backend, ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !future.Valid() {
		t.Fatalf("expected a valid future from a single-point dispatch")
	}
	if launcher.noAccess != 1 || launcher.inputs != 1 || launcher.outputs != 1 ||
		launcher.reductions != 1 || launcher.scalarArgs != 1 || launcher.futures != 1 {
		t.Fatalf("expected one push per category, got %+v", launcher)
	}
}

func TestTaskLaunchUnboundOutputRequiresFieldSpace(t *testing.T) {
	backend := newFakeBackend()
	ctx := backend.TaskPreamble()

	unbound := newFakeStore()
	unbound.unbound = true

	task := NewTask(1)
	task.AddUnboundOutput(unbound)

	strat := NewStrategy(Shape{}, false) // no field-space entry recorded
	launcher := newRecordingLauncher()

	_, err := task.Launch(strat, launcher, backend, ctx)
	if err == nil {
		t.Fatalf("expected NoStrategy error for an unbound output with no field-space entry")
	}
}

func TestCopyLaunchRejectsNoAccess(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected a panic: Copy may not carry no-access stores")
		}
	}()
	c := NewCopy()
	c.AddNoAccess(newFakeStore(4))
	c.AddInput(newFakeStore(4))
	c.AddOutput(newFakeStore(4))
	strat := NewStrategy(Shape{}, false)
	c.Launch(strat, newRecordingLauncher(), newFakeBackend(), engine.ContextHandle{})
}

func TestCopyLaunchRejectsArityMismatch(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected a panic: inputs/outputs/reductions arity mismatch")
		}
	}()
	c := NewCopy()
	c.AddInput(newFakeStore(4))
	c.AddInput(newFakeStore(4))
	c.AddOutput(newFakeStore(4)) // only one output for two inputs, no reductions either
	strat := NewStrategy(Shape{}, false)
	c.Launch(strat, newRecordingLauncher(), newFakeBackend(), engine.ContextHandle{})
}

func TestCopyLaunchPushesInputsAndOutputs(t *testing.T) {
	backend := newFakeBackend()
	c := NewCopy()
	src := newFakeStore(4)
	dst := newFakeStore(4)
	c.AddInput(src)
	c.AddOutput(dst)
	strat := NewStrategy(Shape{}, false)
	launcher := newRecordingLauncher()
	future := c.Launch(strat, launcher, backend, backend.TaskPreamble())
	if !future.Valid() {
		t.Fatalf("expected a valid future")
	}
	if launcher.inputs != 1 || launcher.outputs != 1 {
		t.Fatalf("expected one input push and one output push, got %+v", launcher)
	}
}
