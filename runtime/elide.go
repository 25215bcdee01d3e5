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

// elideRedundantFills drops a pure-output op (no inputs, no-access
// stores, reductions or scalar output — a "fill") from ops if a later op in the same
// batch overwrites every store it touches before anything reads it.
// This is SPEC_FULL §11's opt-in dead-store elision: conservative by
// construction, since any read of the store between the two writes
// (an input, a no-access dependency, or a reduction, which folds into
// the existing value rather than replacing it) cancels the elision.
//
// Only enabled via config.Tunables.ElideRedundantFills; off by
// default, since it changes which ops reach the FusionChecker and
// therefore which fusions are possible.
func elideRedundantFills(ops []WindowOp) []WindowOp {
	pending := make(map[uintptr]int) // store id -> index of its most recent un-read pure-output writer
	remaining := make(map[int]int)   // candidate fill index -> outputs not yet superseded
	dead := make(map[int]bool)

	isPureFill := func(base *Operation) bool {
		if _, hasScalar := base.ScalarOutput(); hasScalar {
			return false
		}
		return len(base.Inputs()) == 0 && len(base.NoAccess()) == 0 && len(base.Reductions()) == 0 && len(base.Outputs()) > 0
	}

	for i, op := range ops {
		base := op.BaseOperation()

		for _, s := range base.NoAccess() {
			delete(pending, s.ID())
		}
		for _, s := range base.Inputs() {
			delete(pending, s.ID())
		}
		for _, rp := range base.Reductions() {
			delete(pending, rp.Store.ID())
		}
		if s, ok := base.ScalarOutput(); ok {
			// a scalar output/reduction is read back by the caller,
			// never provably dead.
			delete(pending, s.ID())
		}

		for _, s := range base.Outputs() {
			if prev, ok := pending[s.ID()]; ok && prev != i {
				delete(pending, s.ID())
				remaining[prev]--
				if remaining[prev] == 0 {
					dead[prev] = true
				}
			}
		}

		if isPureFill(base) {
			remaining[i] = len(base.Outputs())
			for _, s := range base.Outputs() {
				pending[s.ID()] = i
			}
		} else {
			for _, s := range base.Outputs() {
				delete(pending, s.ID())
			}
		}
	}

	if len(dead) == 0 {
		return ops
	}
	out := make([]WindowOp, 0, len(ops)-len(dead))
	for i, op := range ops {
		if dead[i] {
			continue
		}
		out = append(out, op)
	}
	return out
}
