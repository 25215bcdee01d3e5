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

import "testing"

func TestFieldMatchUpdateAcceptsEverythingOnSingleShard(t *testing.T) {
	backend := newFakeBackend()
	ctx := backend.TaskPreamble()

	is := backend.CreateIndexSpaceFromBounds([]int64{4})
	fs := backend.CreateFieldSpace()
	r1 := backend.CreateLogicalRegion(is, fs)
	r2 := backend.CreateLogicalRegion(is, fs)

	local := []fieldRef{{region: r1, fieldID: 1}, {region: r2, fieldID: 2}}
	fm := newFieldMatch(ctx, backend, local)

	accepted, rejected := fm.update(backend)
	if len(rejected) != 0 {
		t.Fatalf("expected nothing rejected on a single-shard consensus, got %v", rejected)
	}
	if len(accepted) != 2 {
		t.Fatalf("expected both local entries accepted, got %v", accepted)
	}
}

func TestFieldMatchUpdateShortPayloadRejectsEverything(t *testing.T) {
	backend := newFakeBackend()
	ctx := backend.TaskPreamble()
	is := backend.CreateIndexSpaceFromBounds([]int64{4})
	r := backend.CreateLogicalRegion(is, backend.CreateFieldSpace())

	local := []fieldRef{{region: r, fieldID: 1}}
	fm := &FieldMatch{local: local}
	// a future resolving to fewer than 8 bytes (the length prefix) must
	// be treated as "nothing accepted this round", not parsed as a count.
	fm.future = backend.readyFuture([]byte{1, 2, 3})

	accepted, rejected := fm.update(backend)
	if len(accepted) != 0 {
		t.Fatalf("expected no accepted entries for a too-short payload, got %v", accepted)
	}
	if len(rejected) != 1 {
		t.Fatalf("expected the local entry deferred to rejected, got %v", rejected)
	}
}

func TestFieldMatchPayloadLayout(t *testing.T) {
	backend := newFakeBackend()
	ctx := backend.TaskPreamble()
	is := backend.CreateIndexSpaceFromBounds([]int64{4})
	r := backend.CreateLogicalRegion(is, backend.CreateFieldSpace())

	local := []fieldRef{{region: r, fieldID: 7}}
	fm := newFieldMatch(ctx, backend, local)
	if len(fm.payload) != 2 {
		t.Fatalf("expected one (tree_id, field_id) pair per local entry, got %d ints", len(fm.payload))
	}
	if fm.payload[1] != 7 {
		t.Fatalf("expected the second packed int32 to be the field id, got %d", fm.payload[1])
	}
}
