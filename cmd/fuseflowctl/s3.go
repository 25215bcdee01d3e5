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
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"net"
	"net/http"
	"os"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	units "github.com/docker/go-units"
	"github.com/fsnotify/fsnotify"
	"github.com/gorilla/websocket"

	"github.com/launix-de/fuseflow/runtime"
	"github.com/launix-de/fuseflow/telemetry"
)

// cmdAttachS3 heads an S3 object and attaches it as an external
// allocation backing a freshly allocated field, exercising
// AttachmentManager.AttachExternalAllocation the way a library's
// "load external table" path would: it only needs the object's byte
// length, not its contents, to register the region.
func (sh *shell) cmdAttachS3(args []string) {
	if len(args) != 2 {
		fmt.Println("usage: attach-s3 <bucket> <key>")
		return
	}
	bucket, key := args[0], args[1]

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	awscfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		fmt.Println("attach-s3: could not load AWS config:", err)
		return
	}
	client := s3.NewFromConfig(awscfg)

	head, err := client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &bucket, Key: &key})
	if err != nil {
		fmt.Println("attach-s3: head failed:", err)
		return
	}
	length := uint64(0)
	if head.ContentLength != nil {
		length = uint64(*head.ContentLength)
	}

	fm := sh.rt.FieldManagerFor(runtime.NewShape(int64(length)), float64DType)
	field, err := fm.AllocateField()
	if err != nil {
		fmt.Println("attach-s3: could not allocate field:", err)
		return
	}

	ptr := fnvPtr(bucket + "/" + key)
	alloc := runtime.ExternalAllocation{
		Buffers:   []runtime.ExternalBuffer{{Ptr: ptr, Extent: length}},
		Shareable: true,
	}
	if err := sh.rt.Attachments().AttachExternalAllocation(alloc, field); err != nil {
		fmt.Println("attach-s3: attach failed:", err)
		return
	}
	fmt.Printf("attached s3://%s/%s (%s) as field %d\n", bucket, key, units.HumanSize(float64(length)), field.FieldID)
}

// fnvPtr derives a stable synthetic host address from an object's
// name, standing in for the real mmap base address a production
// attach path would receive from the storage driver.
func fnvPtr(name string) uintptr {
	h := fnv.New64a()
	h.Write([]byte(name))
	return uintptr(h.Sum64())
}

// cmdExportTrace compresses a finished Chrome-trace-event file, the
// CLI surface for telemetry.ExportCompressed/ExportXZ.
func (sh *shell) cmdExportTrace(cmd string, args []string) {
	if len(args) != 2 {
		fmt.Println("usage:", cmd, "<trace-file> <out-file>")
		return
	}
	src, err := os.Open(args[0])
	if err != nil {
		fmt.Println("export: could not open trace:", err)
		return
	}
	defer src.Close()
	dst, err := os.Create(args[1])
	if err != nil {
		fmt.Println("export: could not create output:", err)
		return
	}
	defer dst.Close()

	if cmd == "export-xz" {
		err = telemetry.ExportXZ(src, dst)
	} else {
		err = telemetry.ExportCompressed(src, dst)
	}
	if err != nil {
		fmt.Println("export failed:", err)
		return
	}
	fmt.Println("exported", args[0], "->", args[1])
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// startMonitor serves the telemetry snapshot over plain HTTP (GET
// /stats) and a push stream over a websocket (GET /ws), the way a
// production deployment would feed a dashboard without shelling back
// into the REPL.
func (sh *shell) startMonitor(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(telemetry.Snap())
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := conn.WriteJSON(telemetry.Snap()); err != nil {
				return
			}
		}
	})
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	go http.Serve(ln, mux)
	return nil
}

// watchTunables watches for a "fuseflow.tune" JSON file in the working
// directory and, whenever it is written or created, re-reads it and
// prints the parsed contents. The running runtime's tunables are not
// changed by it. Absence of the file is not an error: the watch
// simply never fires.
func (sh *shell) watchTunables() (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add("."); err != nil {
		w.Close()
		return nil, err
	}
	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Name == "fuseflow.tune" && (ev.Op&(fsnotify.Write|fsnotify.Create) != 0) {
					sh.reloadTunables(ev.Name)
				}
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return w, nil
}

func (sh *shell) reloadTunables(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	var patch map[string]interface{}
	if err := json.Unmarshal(data, &patch); err != nil {
		fmt.Println("fuseflow.tune: invalid JSON, ignoring:", err)
		return
	}
	fmt.Println("fuseflow.tune changed:", patch)
}
