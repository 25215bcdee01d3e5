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

// FusedOpHeader is the metadata a fused Task carries so the execution
// side can recover per-sub-op slices (spec.md §6): six monotonically
// non-decreasing index arrays, one signed offsets array flagging
// reused inputs/outputs across sub-ops, and the concatenated
// sub-op-id list.
type FusedOpHeader struct {
	InputStarts     []int
	OutputStarts    []int
	OffsetStarts    []int
	ReductionStarts []int
	ScalarStarts    []int
	FutureStarts    []int

	// Offsets is signed: a positive value i marks the i-th
	// (1-based) concatenated input as reused by this sub-op; a
	// negative value -i marks the i-th concatenated output/reduction
	// as reused.
	Offsets []int

	OpIDs []int
}

// buildFusedHeader concatenates the sub-ops' store lists and alignment
// classes into a new base Operation and records the per-sub-op slice
// boundaries of stores, scalar args and futures (the scalar args and
// futures themselves are copied onto the fused Task by buildFusedOp).
// A store already present earlier in the concatenated
// input or output/reduction list is recorded in Offsets rather than
// appended twice, so the execution side can recover aliasing across
// sub-ops.
func buildFusedHeader(subops []WindowOp) (*Operation, FusedOpHeader, error) {
	fused := NewOperation()
	hdr := FusedOpHeader{
		InputStarts:     make([]int, 0, len(subops)+1),
		OutputStarts:    make([]int, 0, len(subops)+1),
		OffsetStarts:    make([]int, 0, len(subops)+1),
		ReductionStarts: make([]int, 0, len(subops)+1),
		ScalarStarts:    make([]int, 0, len(subops)+1),
		FutureStarts:    make([]int, 0, len(subops)+1),
	}

	seenInput := make(map[uintptr]int)  // store id -> 1-based concatenated input index
	seenOutput := make(map[uintptr]int) // store id -> 1-based concatenated output/reduction index

	hdr.InputStarts = append(hdr.InputStarts, 0)
	hdr.OutputStarts = append(hdr.OutputStarts, 0)
	hdr.OffsetStarts = append(hdr.OffsetStarts, 0)
	hdr.ReductionStarts = append(hdr.ReductionStarts, 0)
	hdr.ScalarStarts = append(hdr.ScalarStarts, 0)
	hdr.FutureStarts = append(hdr.FutureStarts, 0)

	inputCount, outputCount, reductionCount := 0, 0, 0

	for _, op := range subops {
		base := op.BaseOperation()
		fused.alignments.Union(base.Alignments())

		for _, s := range base.NoAccess() {
			fused.AddNoAccess(s)
		}

		for _, s := range base.Inputs() {
			if idx, ok := seenInput[s.ID()]; ok {
				hdr.Offsets = append(hdr.Offsets, idx)
				continue
			}
			fused.AddInput(s)
			inputCount++
			seenInput[s.ID()] = inputCount
		}

		for _, s := range base.Outputs() {
			if idx, ok := seenOutput[s.ID()]; ok {
				hdr.Offsets = append(hdr.Offsets, -idx)
				continue
			}
			fused.AddOutput(s)
			outputCount++
			seenOutput[s.ID()] = outputCount
		}

		for _, rp := range base.Reductions() {
			if idx, ok := seenOutput[rp.Store.ID()]; ok {
				hdr.Offsets = append(hdr.Offsets, -idx)
				continue
			}
			fused.AddReduction(rp.Store, rp.RedOp)
			reductionCount++
			seenOutput[rp.Store.ID()] = reductionCount
		}

		if s, ok := base.ScalarOutput(); ok {
			if err := fused.SetScalarOutput(s); err != nil {
				return nil, FusedOpHeader{}, err
			}
		}

		var scalarArgs []ScalarArg
		var futures []int
		if t, ok := op.(*Task); ok {
			scalarArgs = t.ScalarArgs
			for range t.Futures {
				futures = append(futures, 0)
			}
			hdr.OpIDs = append(hdr.OpIDs, t.TaskID)
		} else {
			hdr.OpIDs = append(hdr.OpIDs, -1) // Copy: not a task-id
		}

		hdr.InputStarts = append(hdr.InputStarts, inputCount)
		hdr.OutputStarts = append(hdr.OutputStarts, outputCount)
		hdr.ReductionStarts = append(hdr.ReductionStarts, reductionCount)
		hdr.ScalarStarts = append(hdr.ScalarStarts, hdr.ScalarStarts[len(hdr.ScalarStarts)-1]+len(scalarArgs))
		hdr.FutureStarts = append(hdr.FutureStarts, hdr.FutureStarts[len(hdr.FutureStarts)-1]+len(futures))
		hdr.OffsetStarts = append(hdr.OffsetStarts, len(hdr.Offsets))
	}

	return fused, hdr, nil
}
