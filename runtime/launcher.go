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
)

// recordingLauncher is the default TaskLauncher/CopyLauncher: the
// actual region-requirement plumbing is the engine's job (it receives
// only the launch shape via Strategy.Launch/LaunchCopy), so this
// launcher's sole responsibility is to count each push by kind.
type recordingLauncher struct {
	noAccess     int
	inputs       int
	outputs      int
	reductions   int
	unboundOuts  int
	scalarArgs   int
	futures      int
	indirections int
}

func newRecordingLauncher() *recordingLauncher { return &recordingLauncher{} }

func (l *recordingLauncher) PushNoAccess(Requirement)                  { l.noAccess++ }
func (l *recordingLauncher) PushInput(Requirement)                     { l.inputs++ }
func (l *recordingLauncher) PushOutput(Requirement)                    { l.outputs++ }
func (l *recordingLauncher) PushReduction(Requirement, RedOp)          { l.reductions++ }
func (l *recordingLauncher) PushUnboundOutput(engine.FieldSpaceHandle, engine.DType) int {
	l.unboundOuts++
	return l.unboundOuts - 1
}
func (l *recordingLauncher) PushScalarArg(ScalarArg)          { l.scalarArgs++ }
func (l *recordingLauncher) PushFuture(engine.FutureHandle)   { l.futures++ }
func (l *recordingLauncher) PushSourceIndirection(Requirement) { l.indirections++ }
func (l *recordingLauncher) PushTargetIndirection(Requirement) { l.indirections++ }

var _ TaskLauncher = (*recordingLauncher)(nil)
var _ CopyLauncher = (*recordingLauncher)(nil)
