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

import "testing"

func TestSplitAtBreaksOnDiscontinuity(t *testing.T) {
	intervals := []Interval{{Start: 0, End: 5}}
	out := splitAt(intervals, func(prev, cur int) bool { return cur != 2 })
	want := []Interval{{Start: 0, End: 2}, {Start: 2, End: 5}}
	if len(out) != len(want) {
		t.Fatalf("expected %d intervals, got %d: %v", len(want), len(out), out)
	}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("interval %d: got %v, want %v", i, out[i], want[i])
		}
	}
}

func TestValidTaskKindsSplitsOnDisallowedKind(t *testing.T) {
	a := NewTask(1)
	b := NewTask(99) // not allowed
	c := NewTask(1)
	ops := []WindowOp{a, b, c}
	c2 := ValidTaskKinds{Allowed: map[int]bool{1: true}, Terminal: map[int]bool{}}
	out := c2.Apply(ops, nil, []Interval{{Start: 0, End: 3}})
	if len(out) != 3 {
		t.Fatalf("expected every op isolated since b breaks both neighbors, got %v", out)
	}
}

func TestValidTaskKindsCopyNeverContinues(t *testing.T) {
	a := NewTask(1)
	cp := NewCopy()
	b := NewTask(1)
	ops := []WindowOp{a, cp, b}
	c := ValidTaskKinds{Allowed: map[int]bool{1: true}, Terminal: map[int]bool{}}
	out := c.Apply(ops, nil, []Interval{{Start: 0, End: 3}})
	if len(out) != 3 {
		t.Fatalf("a Copy must always break a fusable run, got %v", out)
	}
}

func TestValidTaskKindsTerminalOnlyAsLastOp(t *testing.T) {
	allowed := NewTask(1)
	terminal := NewTask(2)
	after := NewTask(1)
	ops := []WindowOp{allowed, terminal, after}
	c := ValidTaskKinds{Allowed: map[int]bool{1: true}, Terminal: map[int]bool{2: true}}
	out := c.Apply(ops, nil, []Interval{{Start: 0, End: 3}})
	want := []Interval{{Start: 0, End: 2}, {Start: 2, End: 3}}
	if len(out) != len(want) || out[0] != want[0] || out[1] != want[1] {
		t.Fatalf("expected the terminal op to end its run at index 2, got %v", out)
	}
}

func TestIdenticalLaunchShapesSplitsOnMismatch(t *testing.T) {
	s1 := NewStrategy(NewShape(4), true)
	s2 := NewStrategy(NewShape(8), true)
	ops := []WindowOp{NewTask(1), NewTask(1)}
	out := IdenticalLaunchShapes{}.Apply(ops, []*Strategy{s1, s2}, []Interval{{Start: 0, End: 2}})
	if len(out) != 2 {
		t.Fatalf("expected a split between differing launch shapes, got %v", out)
	}
}

func TestIdenticalLaunchShapesNullNeverEqualsNonNull(t *testing.T) {
	s1 := NewStrategy(Shape{}, false)
	s2 := NewStrategy(NewShape(8), true)
	ops := []WindowOp{NewTask(1), NewTask(1)}
	out := IdenticalLaunchShapes{}.Apply(ops, []*Strategy{s1, s2}, []Interval{{Start: 0, End: 2}})
	if len(out) != 2 {
		t.Fatalf("expected null and non-null launch shapes to split, got %v", out)
	}
}

func TestIdenticalProjectionSplitsOnDifferingReuse(t *testing.T) {
	s := newFakeStore(100)
	op1 := NewTask(1)
	op1.AddInput(s)
	op2 := NewTask(1)
	op2.AddInput(s)

	strat1 := NewStrategy(NewShape(4), true)
	strat1.SetPartition(s, NewTilingPartition(NewShape(4), NoRedOp))
	strat2 := NewStrategy(NewShape(4), true)
	strat2.SetPartition(s, NewTilingPartition(NewShape(8), NoRedOp)) // different tiling

	out := IdenticalProjection{}.Apply([]WindowOp{op1, op2}, []*Strategy{strat1, strat2}, []Interval{{Start: 0, End: 2}})
	if len(out) != 2 {
		t.Fatalf("expected a split when the same store's partition changes across ops, got %v", out)
	}
}

func TestValidProducerConsumerSplitsOnDifferentView(t *testing.T) {
	root := newFakeStore(100)
	view1 := newFakeStore(50)
	view1.withParent(root)
	view2 := newFakeStore(50)
	view2.withParent(root)

	op1 := NewTask(1)
	op1.AddOutput(view1)
	op2 := NewTask(1)
	op2.AddInput(view2) // different view of the same root

	out := ValidProducerConsumer{}.Apply([]WindowOp{op1, op2}, nil, []Interval{{Start: 0, End: 2}})
	if len(out) != 2 {
		t.Fatalf("expected a split when a later op reads a different view of the same root, got %v", out)
	}
}

func TestValidProducerConsumerAllowsSameViewReuse(t *testing.T) {
	root := newFakeStore(100)
	view := newFakeStore(50)
	view.withParent(root)

	op1 := NewTask(1)
	op1.AddOutput(view)
	op2 := NewTask(1)
	op2.AddInput(view) // same view reused

	out := ValidProducerConsumer{}.Apply([]WindowOp{op1, op2}, nil, []Interval{{Start: 0, End: 2}})
	if len(out) != 1 {
		t.Fatalf("expected the run to stay fused when the same view is reused, got %v", out)
	}
}

func TestFusionCheckerSuppressesSmallFusions(t *testing.T) {
	p := newPartitionerForTest()
	fc := NewFusionChecker(p, 3, ValidTaskKinds{Allowed: map[int]bool{1: true}, Terminal: map[int]bool{}})

	a, b := NewTask(1), NewTask(1)
	ops := []WindowOp{a, b}
	fusable, intervals, _, err := fc.Check(ops)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fusable {
		t.Fatalf("a run of length 2 below fusionThreshold=3 must not be marked fusable")
	}
	if len(intervals) != 2 {
		t.Fatalf("below threshold, the run must be returned as singleton intervals, got %v", intervals)
	}
}

func TestFusionCheckerFusesLongEnoughRun(t *testing.T) {
	p := newPartitionerForTest()
	fc := NewFusionChecker(p, 2, ValidTaskKinds{Allowed: map[int]bool{1: true}, Terminal: map[int]bool{}})

	a, b, c := NewTask(1), NewTask(1), NewTask(1)
	ops := []WindowOp{a, b, c}
	fusable, intervals, strategies, err := fc.Check(ops)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !fusable {
		t.Fatalf("expected a run of 3 compatible ops to be fusable")
	}
	if len(intervals) != 1 || intervals[0].Len() != 3 {
		t.Fatalf("expected a single fused interval spanning all 3 ops, got %v", intervals)
	}
	if len(strategies) != 3 {
		t.Fatalf("expected one per-op strategy regardless of fusion, got %d", len(strategies))
	}
}
