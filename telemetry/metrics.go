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
package telemetry

import "sync/atomic"

// Metrics are plain atomic counters, incremented from the hot path
// with zero locking, mirroring the teacher's lock-free
// ActiveHTTPConnections/TotalHTTPRequests counters — just renamed to
// the events this runtime actually produces.
var (
	WindowDrains    int64 // Flush/size-triggered drains
	OpsDispatched   int64 // individual operations launched
	FusionsBuilt    int64 // fused Tasks constructed
	FusionsSkipped  int64 // intervals of length 1 (no fusion opportunity)
	FieldReuseHits  int64 // FieldManager.AllocateField served from free_fields
	FieldReuseMiss  int64 // FieldManager.AllocateField fell through to RegionManager
	AttachmentsLive int64 // changed only through AddAttachmentsLive; the runtime itself never calls it
)

func IncrWindowDrains()   { atomic.AddInt64(&WindowDrains, 1) }
func IncrOpsDispatched()  { atomic.AddInt64(&OpsDispatched, 1) }
func IncrFusionsBuilt()   { atomic.AddInt64(&FusionsBuilt, 1) }
func IncrFusionsSkipped() { atomic.AddInt64(&FusionsSkipped, 1) }
func IncrFieldReuseHit()  { atomic.AddInt64(&FieldReuseHits, 1) }
func IncrFieldReuseMiss() { atomic.AddInt64(&FieldReuseMiss, 1) }
func AddAttachmentsLive(delta int64) {
	atomic.AddInt64(&AttachmentsLive, delta)
}

// Snapshot is a point-in-time copy of all counters, for the CLI
// monitor subcommand to ship over the websocket connection.
type Snapshot struct {
	WindowDrains    int64
	OpsDispatched   int64
	FusionsBuilt    int64
	FusionsSkipped  int64
	FieldReuseHits  int64
	FieldReuseMiss  int64
	AttachmentsLive int64
}

func Snap() Snapshot {
	return Snapshot{
		WindowDrains:    atomic.LoadInt64(&WindowDrains),
		OpsDispatched:   atomic.LoadInt64(&OpsDispatched),
		FusionsBuilt:    atomic.LoadInt64(&FusionsBuilt),
		FusionsSkipped:  atomic.LoadInt64(&FusionsSkipped),
		FieldReuseHits:  atomic.LoadInt64(&FieldReuseHits),
		FieldReuseMiss:  atomic.LoadInt64(&FieldReuseMiss),
		AttachmentsLive: atomic.LoadInt64(&AttachmentsLive),
	}
}
