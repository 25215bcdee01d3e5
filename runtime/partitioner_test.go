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
	"testing"

	"github.com/launix-de/fuseflow/engine"
)

func newPartitionerForTest() *Partitioner {
	backend := newFakeBackend()
	pm := NewPartitionManager(baseCfg())
	return NewPartitioner(pm, func() engine.FieldSpaceHandle { return backend.CreateFieldSpace() })
}

func TestPartitionerMustBeSingleGivesEveryStoreNoPartition(t *testing.T) {
	p := newPartitionerForTest()
	a, b := newFakeStore(100), newFakeStore(100)
	op := NewOperation()
	op.AddInput(a)
	op.AddOutput(b)

	strat, err := p.PartitionStores([]*Operation{op}, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strat.Partition(a).IsNoPartition() || !strat.Partition(b).IsNoPartition() {
		t.Fatalf("a must-be-single op must give every store NoPartition")
	}
	if _, has := strat.LaunchShape(); has {
		t.Fatalf("a must-be-single strategy must carry no launch shape")
	}
}

func TestPartitionerAlignedStoresShareAPartition(t *testing.T) {
	p := newPartitionerForTest()
	a, b := newFakeStore(100), newFakeStore(100)
	op := NewOperation()
	op.AddInput(a)
	op.AddOutput(b)
	if err := op.AddAlignment(a, b); err != nil {
		t.Fatalf("unexpected alignment error: %v", err)
	}

	strat, err := p.PartitionStores([]*Operation{op}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pa, pb := strat.Partition(a), strat.Partition(b)
	if pa.IsNoPartition() || pb.IsNoPartition() {
		t.Fatalf("aligned stores over a large shape should receive a real partition")
	}
	if !pa.Equal(pb) {
		t.Fatalf("aligned stores must share the same partition, got %v vs %v", pa, pb)
	}
}

func TestPartitionerBroadcastStoreIsNeverSplit(t *testing.T) {
	p := newPartitionerForTest()
	a, b := newFakeStore(100), newFakeStore(100)
	op := NewOperation()
	op.AddInput(a)
	op.AddOutput(b)
	op.AddAlignment(a, b)
	op.MarkBroadcast(a)

	strat, err := p.PartitionStores([]*Operation{op}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strat.Partition(a).IsNoPartition() {
		t.Fatalf("a broadcast store must always receive NoPartition")
	}
}

func TestPartitionerScalarStoreIsNeverSplit(t *testing.T) {
	p := newPartitionerForTest()
	scalar := newFakeStore()
	scalar.scalar = true
	other := newFakeStore(100)
	op := NewOperation()
	op.AddInput(scalar)
	op.AddOutput(other)

	strat, err := p.PartitionStores([]*Operation{op}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strat.Partition(scalar).IsNoPartition() {
		t.Fatalf("a scalar store must always receive NoPartition")
	}
}

func TestPartitionerUnboundStoresGetFieldSpace(t *testing.T) {
	p := newPartitionerForTest()
	u1, u2 := newFakeStore(), newFakeStore()
	u1.unbound, u2.unbound = true, true
	op := NewOperation()
	op.AddOutput(u1)
	op.AddOutput(u2)
	op.AddAlignment(u1, u2)

	strat, err := p.PartitionStores([]*Operation{op}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fs1, ok1 := strat.GetFieldSpace(u1)
	fs2, ok2 := strat.GetFieldSpace(u2)
	if !ok1 || !ok2 {
		t.Fatalf("both unbound stores should receive a field-space assignment")
	}
	if fs1 != fs2 {
		t.Fatalf("aligned unbound stores must share one field-space, got %v vs %v", fs1, fs2)
	}
}

func TestPartitionerReusesCachedKeyPartition(t *testing.T) {
	p := newPartitionerForTest()
	a := newFakeStore(100)
	op1 := NewOperation()
	op1.AddInput(a)
	strat1, err := p.PartitionStores([]*Operation{op1}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cached, ok := a.KeyPartition()
	if !ok {
		t.Fatalf("expected the first partitioning to cache a key partition on the store")
	}

	op2 := NewOperation()
	op2.AddInput(a)
	strat2, err := p.PartitionStores([]*Operation{op2}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strat1.Partition(a).Equal(strat2.Partition(a)) {
		t.Fatalf("second partitioning should reuse the cached key partition")
	}
	if cached.(Partition).IsNoPartition() {
		t.Fatalf("a store this large should not have cached NoPartition")
	}
}
