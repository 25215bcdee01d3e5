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

import "github.com/launix-de/fuseflow/engine"

// WindowOp is the common surface Task and Copy present to the
// FusionChecker: their base Operation fields, plus whether they carry
// a task-id (a Copy does not).
type WindowOp interface {
	BaseOperation() *Operation
	Kind() (taskID int, isTask bool)
}

func (t *Task) BaseOperation() *Operation { return t.Operation }
func (t *Task) Kind() (int, bool)         { return t.TaskID, true }

func (c *Copy) BaseOperation() *Operation { return c.Operation }
func (c *Copy) Kind() (int, bool)         { return 0, false }

// Interval is a half-open range [Start, End) over the window.
type Interval struct {
	Start, End int
}

func (iv Interval) Len() int { return iv.End - iv.Start }

// FusionConstraint is one legality rule in the chain (spec.md §4.6):
// it takes the ops, their per-op Strategies, and the current interval
// list, and returns a refined (possibly longer) interval list.
// Represented as an interface with one method per the "tagged variant
// or trait" design note (spec.md §9), registered in an ordered
// collection by FusionChecker. Implementations must be pure and must
// not depend on iteration order across shards.
type FusionConstraint interface {
	Apply(ops []WindowOp, strategies []*Strategy, intervals []Interval) []Interval
}

// splitAt walks each input interval and re-splits it at every index i
// (strictly inside the interval) where cont(i-1, i) reports false,
// i.e. op i cannot continue the run that ends at i-1.
func splitAt(intervals []Interval, cont func(prev, cur int) bool) []Interval {
	var out []Interval
	for _, iv := range intervals {
		start := iv.Start
		for i := iv.Start + 1; i < iv.End; i++ {
			if !cont(i-1, i) {
				out = append(out, Interval{Start: start, End: i})
				start = i
			}
		}
		out = append(out, Interval{Start: start, End: iv.End})
	}
	return out
}

// ValidTaskKinds allows only an allowlisted set of task-ids to fuse; a
// "parallel terminal" task-id may additionally appear, but only as
// the last op of a fused group. A Copy (no task-id) never continues a
// run. Grounded on storage/partition.go's "maximal run" scan idiom
// used when merging adjacent compatible shard ranges.
type ValidTaskKinds struct {
	Allowed  map[int]bool
	Terminal map[int]bool
}

func (c ValidTaskKinds) Apply(ops []WindowOp, _ []*Strategy, intervals []Interval) []Interval {
	kindOK := func(i int) bool {
		id, isTask := ops[i].Kind()
		if !isTask {
			return false
		}
		return c.Allowed[id] || c.Terminal[id]
	}
	return splitAt(intervals, func(prev, cur int) bool {
		if !kindOK(prev) || !kindOK(cur) {
			return false
		}
		id, _ := ops[prev].Kind()
		if c.Terminal[id] && !c.Allowed[id] {
			// prev was a terminal-only op: it may only be the last op
			// of a group, so nothing may follow it.
			return false
		}
		return true
	})
}

// IdenticalLaunchShapes requires consecutive ops to share the same
// launch shape; null (no launch) never equals a non-null shape.
type IdenticalLaunchShapes struct{}

func (IdenticalLaunchShapes) Apply(_ []WindowOp, strategies []*Strategy, intervals []Interval) []Interval {
	return splitAt(intervals, func(prev, cur int) bool {
		ps, pHas := strategies[prev].LaunchShape()
		cs, cHas := strategies[cur].LaunchShape()
		if pHas != cHas {
			return false
		}
		if !pHas {
			return true
		}
		return ps.Equal(cs)
	})
}

// IdenticalProjection requires that every store touched by more than
// one op in an interval receives the same partition in each op's
// individually-computed Strategy — i.e. the same transform is applied
// every time the store recurs. Splits at the first op whose
// assignment differs from the one recorded earlier in the interval.
type IdenticalProjection struct{}

func (IdenticalProjection) Apply(ops []WindowOp, strategies []*Strategy, intervals []Interval) []Interval {
	var out []Interval
	for _, iv := range intervals {
		start := iv.Start
		seen := make(map[uintptr]Partition)
		for i := iv.Start; i < iv.End; i++ {
			broke := false
			for _, s := range ops[i].BaseOperation().Stores() {
				part := strategies[i].Partition(s)
				if prior, ok := seen[s.ID()]; ok {
					if !prior.Equal(part) {
						broke = true
						break
					}
				} else {
					seen[s.ID()] = part
				}
			}
			if broke {
				out = append(out, Interval{Start: start, End: i})
				start = i
				seen = make(map[uintptr]Partition)
				for _, s := range ops[i].BaseOperation().Stores() {
					seen[s.ID()] = strategies[i].Partition(s)
				}
			}
		}
		out = append(out, Interval{Start: start, End: iv.End})
	}
	return out
}

// ValidProducerConsumer requires that once an output is registered
// for a given root store (found by walking parent pointers) within an
// interval, any subsequent consumer of that root uses exactly that
// same view (the identical Store, not merely an equally-shaped one).
type ValidProducerConsumer struct{}

func storeRoot(s engine.Store) engine.Store {
	cur := s
	for {
		p, ok := cur.Parent()
		if !ok {
			return cur
		}
		cur = p
	}
}

func (ValidProducerConsumer) Apply(ops []WindowOp, _ []*Strategy, intervals []Interval) []Interval {
	var out []Interval
	for _, iv := range intervals {
		start := iv.Start
		registered := make(map[uintptr]uintptr) // root id -> view id
		for i := iv.Start; i < iv.End; i++ {
			base := ops[i].BaseOperation()
			broke := false
			for _, s := range base.Outputs() {
				root := storeRoot(s)
				if view, ok := registered[root.ID()]; ok && view != s.ID() {
					broke = true
					break
				}
				registered[root.ID()] = s.ID()
			}
			if !broke {
				for _, s := range base.Inputs() {
					root := storeRoot(s)
					if view, ok := registered[root.ID()]; ok && view != s.ID() {
						broke = true
						break
					}
				}
			}
			if broke {
				out = append(out, Interval{Start: start, End: i})
				start = i
				registered = make(map[uintptr]uintptr)
				for _, s := range base.Outputs() {
					registered[storeRoot(s).ID()] = s.ID()
				}
				for _, s := range base.Inputs() {
					if _, ok := registered[storeRoot(s).ID()]; !ok {
						registered[storeRoot(s).ID()] = s.ID()
					}
				}
			}
		}
		out = append(out, Interval{Start: start, End: iv.End})
	}
	return out
}
