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

// CopyLauncher receives the ordered pushes Copy.Launch makes.
type CopyLauncher interface {
	PushInput(req Requirement)
	PushOutput(req Requirement)
	PushSourceIndirection(req Requirement)
	PushTargetIndirection(req Requirement)
	PushReduction(req Requirement, redop RedOp)
}

// Copy is a region-to-region data movement operation: no task-id, no
// scalar args, but optional source/target indirection lists (spec.md
// §4.8).
type Copy struct {
	*Operation
	SourceIndirections []engine.Store
	TargetIndirections []engine.Store
}

func NewCopy() *Copy {
	return &Copy{Operation: NewOperation()}
}

// Launch implements spec.md §4.8's Copy.launch(strategy): asserts no
// no-access stores; requires |inputs| == |outputs| or
// |inputs| == |reductions|, and that source/target indirection
// lists, if present, match inputs/outputs in length; pushes inputs,
// outputs, indirections, reductions, then executes. Arity mismatches
// are AssertionViolation-class invariant breaks (spec.md §7), so they
// panic via errs.Fatalf rather than returning an error.
func (c *Copy) Launch(strategy *Strategy, launcher CopyLauncher, backend engine.Backend, ctx engine.ContextHandle) engine.FutureHandle {
	if len(c.NoAccess()) != 0 {
		errs.Fatalf("copy: no-access stores are not permitted on a Copy (got %d)", len(c.NoAccess()))
	}
	inputs := c.Inputs()
	outputs := c.Outputs()
	reductions := c.Reductions()
	if len(inputs) != len(outputs) && len(inputs) != len(reductions) {
		errs.Fatalf("copy: |inputs|=%d must equal |outputs|=%d or |reductions|=%d", len(inputs), len(outputs), len(reductions))
	}
	if len(c.SourceIndirections) != 0 && len(c.SourceIndirections) != len(inputs) {
		errs.Fatalf("copy: |source_indirections|=%d must equal |inputs|=%d", len(c.SourceIndirections), len(inputs))
	}
	if len(c.TargetIndirections) != 0 && len(c.TargetIndirections) != len(outputs) {
		errs.Fatalf("copy: |target_indirections|=%d must equal |outputs|=%d", len(c.TargetIndirections), len(outputs))
	}

	for _, s := range inputs {
		launcher.PushInput(strategy.GetRequirement(s))
	}
	for _, s := range outputs {
		launcher.PushOutput(strategy.GetRequirement(s))
	}
	for _, s := range c.SourceIndirections {
		launcher.PushSourceIndirection(strategy.GetRequirement(s))
	}
	for _, s := range c.TargetIndirections {
		launcher.PushTargetIndirection(strategy.GetRequirement(s))
	}
	for _, rp := range reductions {
		launcher.PushReduction(strategy.GetRequirement(rp.Store), rp.RedOp)
	}

	var scalarOutStore engine.Store
	if s, ok := c.ScalarOutput(); ok {
		scalarOutStore = s
	}
	return strategy.LaunchCopy(backend, ctx, scalarOutStore)
}
