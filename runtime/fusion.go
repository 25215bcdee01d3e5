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

import "github.com/launix-de/fuseflow/telemetry"

// FusionChecker runs the per-op partitioner, then applies an ordered
// list of legality rules that progressively split the window into
// fusable sub-intervals (spec.md §4.6). Grounded on
// storage/partition.go's repartition proposal/apply split: partition
// first, then legality-check the result, rather than the other way
// around.
type FusionChecker struct {
	partitioner     *Partitioner
	constraints     []FusionConstraint
	fusionThreshold int
}

func NewFusionChecker(partitioner *Partitioner, fusionThreshold int, constraints ...FusionConstraint) *FusionChecker {
	if fusionThreshold < 2 {
		fusionThreshold = 2
	}
	return &FusionChecker{partitioner: partitioner, constraints: constraints, fusionThreshold: fusionThreshold}
}

// Check partitions every op individually and runs the constraint
// chain, returning (fusable, intervals, per-op strategies). fusable
// is true iff any returned interval has length >= fusionThreshold;
// per spec.md §9's documented quirk, suppress_small_fusions still
// returns singleton intervals for runs that don't meet the
// threshold even when fusable is true overall — it does not discard
// them, it merely declines to fuse them.
func (fc *FusionChecker) Check(ops []WindowOp) (fusable bool, expanded []Interval, strategies []*Strategy, err error) {
	if telemetry.Trace != nil {
		telemetry.Trace.Duration("FusionChecker.Check", "fusion", func() {
			fusable, expanded, strategies, err = fc.check(ops)
		})
		return
	}
	return fc.check(ops)
}

func (fc *FusionChecker) check(ops []WindowOp) (bool, []Interval, []*Strategy, error) {
	strategies := make([]*Strategy, len(ops))
	for i, op := range ops {
		base := op.BaseOperation()
		strat, err := fc.partitioner.PartitionStores([]*Operation{base}, base.MustBeSingle())
		if err != nil {
			return false, nil, nil, err
		}
		strategies[i] = strat
	}

	intervals := []Interval{}
	if len(ops) > 0 {
		intervals = []Interval{{Start: 0, End: len(ops)}}
	}
	for _, c := range fc.constraints {
		intervals = c.Apply(ops, strategies, intervals)
	}

	fusable := false
	var expanded []Interval
	for _, iv := range intervals {
		if iv.Len() >= fc.fusionThreshold {
			fusable = true
			expanded = append(expanded, iv)
			continue
		}
		for i := iv.Start; i < iv.End; i++ {
			expanded = append(expanded, Interval{Start: i, End: i + 1})
		}
	}

	return fusable, expanded, strategies, nil
}
