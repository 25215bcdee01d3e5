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

// Package telemetry carries the runtime's ambient logging/tracing
// concern, adapted from the teacher's Chrome-trace-event tracer
// (scm.Tracefile) and counter registry (scm.metrics). Trace.Duration
// wraps PartitionManager.ComputeLaunchShape, FusionChecker.Check, and
// AttachmentManager.Destroy's shard-parallel detach wait
// (partition_manager.go, fusion.go, attachment.go); the counters below
// track window drains, fusion decisions, and field reuse.
package telemetry

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
)

// Tracefile accumulates Chrome trace-event-format JSON describing
// scheduling-window activity: partition computation, fusion checks,
// dispatch. Trace is nil by default; hot paths gate on "if
// telemetry.Trace != nil" exactly like the teacher's scm.Trace.
type Tracefile struct {
	isFirst bool
	file    io.WriteCloser
	m       sync.Mutex
}

// Trace is the process-wide trace sink. nil means tracing is off.
var Trace *Tracefile

var start = time.Now()

// SetTrace enables or disables tracing, closing any previously open
// trace file first.
func SetTrace(on bool, path string) error {
	if Trace != nil {
		Trace.Close()
		Trace = nil
	}
	if !on {
		return nil
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	Trace = NewTrace(f)
	return nil
}

// NewTrace wraps an already-open writer as a trace sink.
func NewTrace(file io.WriteCloser) *Tracefile {
	file.Write([]byte("["))
	return &Tracefile{file: file, isFirst: true}
}

func (t *Tracefile) Close() {
	t.m.Lock()
	t.file.Write([]byte("]"))
	t.file.Close()
	t.m.Unlock()
}

// Duration wraps fn in a begin/end event pair under name/cat, the way
// the teacher wraps every parallel shard callback.
func (t *Tracefile) Duration(name, cat string, fn func()) {
	t.eventHalf(name, cat, "B")
	defer t.eventHalf(name, cat, "E")
	fn()
}

// Event emits a single instant event.
func (t *Tracefile) Event(name, cat, typ string) {
	t.eventHalf(name, cat, typ)
}

func (t *Tracefile) eventHalf(name, cat, typ string) {
	ts := time.Since(start).Microseconds()
	t.eventFull(name, cat, typ, ts)
}

func (t *Tracefile) eventFull(name, cat, typ string, ts int64) {
	t.m.Lock()
	defer t.m.Unlock()
	if t.isFirst {
		t.isFirst = false
	} else {
		t.file.Write([]byte(",\n"))
	}
	t.file.Write([]byte("{\"name\": "))
	b, _ := json.Marshal(name)
	t.file.Write(b)
	t.file.Write([]byte(", \"cat\": "))
	b, _ = json.Marshal(cat)
	t.file.Write(b)
	t.file.Write([]byte(", \"ph\": \""))
	t.file.Write([]byte(typ))
	t.file.Write([]byte("\", \"ts\": "))
	b, _ = json.Marshal(ts)
	t.file.Write(b)
	t.file.Write([]byte(", \"pid\": 0, \"tid\": 0, \"s\": \"g\"}"))
}

// ExportCompressed copies a finished trace file through lz4, used by
// the CLI's trace-export subcommand to archive large logs — the same
// compress-before-archive choice the teacher makes for its column
// storage (storage/persistence-files.go).
func ExportCompressed(src io.Reader, dst io.Writer) error {
	w := lz4.NewWriter(dst)
	defer w.Close()
	r := bufio.NewReader(src)
	_, err := io.Copy(w, r)
	return err
}

// ExportXZ is the higher-ratio, slower-to-write alternative for
// archiving a trace file that will sit untouched for a long time
// (cold storage), rather than one about to be re-read for analysis.
func ExportXZ(src io.Reader, dst io.Writer) error {
	w, err := xz.NewWriter(dst)
	if err != nil {
		return err
	}
	defer w.Close()
	r := bufio.NewReader(src)
	_, err = io.Copy(w, r)
	return err
}
