//go:build ceph

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

// This file only builds with "-tags ceph", exactly like the teacher's
// storage/persistence-ceph.go: librados is a cgo dependency, so a
// plain "go build" must not require it.
package main

import (
	"fmt"

	"github.com/ceph/go-ceph/rados"
	units "github.com/docker/go-units"

	"github.com/launix-de/fuseflow/runtime"
)

func init() {
	cephCommands["attach-ceph"] = func(sh *shell, args []string) {
		if len(args) != 3 {
			fmt.Println("usage: attach-ceph <cluster> <pool> <object>")
			return
		}
		cluster, pool, obj := args[0], args[1], args[2]

		conn, err := rados.NewConnWithClusterAndUser(cluster, "client.admin")
		if err != nil {
			fmt.Println("attach-ceph: connect failed:", err)
			return
		}
		if err := conn.ReadDefaultConfigFile(); err != nil {
			fmt.Println("attach-ceph: no ceph.conf found, continuing with defaults:", err)
		}
		if err := conn.Connect(); err != nil {
			fmt.Println("attach-ceph: connect failed:", err)
			return
		}
		defer conn.Shutdown()

		ioctx, err := conn.OpenIOContext(pool)
		if err != nil {
			fmt.Println("attach-ceph: open pool failed:", err)
			return
		}
		defer ioctx.Destroy()

		stat, err := ioctx.Stat(obj)
		if err != nil {
			fmt.Println("attach-ceph: stat failed:", err)
			return
		}

		fm := sh.rt.FieldManagerFor(runtime.NewShape(int64(stat.Size)), float64DType)
		field, err := fm.AllocateField()
		if err != nil {
			fmt.Println("attach-ceph: could not allocate field:", err)
			return
		}

		ptr := fnvPtr(cluster + "/" + pool + "/" + obj)
		alloc := runtime.ExternalAllocation{
			Buffers:   []runtime.ExternalBuffer{{Ptr: ptr, Extent: stat.Size}},
			Shareable: true,
		}
		if err := sh.rt.Attachments().AttachExternalAllocation(alloc, field); err != nil {
			fmt.Println("attach-ceph: attach failed:", err)
			return
		}
		fmt.Printf("attached ceph:%s/%s/%s (%s) as field %d\n", cluster, pool, obj, units.HumanSize(float64(stat.Size)), field.FieldID)
	}
}
