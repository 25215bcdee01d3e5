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
	"testing"

	"github.com/launix-de/fuseflow/engine"
)

func idsOf(stores []engine.Store) map[uintptr]bool {
	out := make(map[uintptr]bool, len(stores))
	for _, s := range stores {
		out[s.ID()] = true
	}
	return out
}

func TestEqClassFindSingleton(t *testing.T) {
	e := NewEqClass()
	a := newFakeStore(4)
	got := e.Find(a)
	if len(got) != 1 || got[0].ID() != a.ID() {
		t.Fatalf("Find on an unrecorded store should return just itself, got %v", got)
	}
}

func TestEqClassRecordTransitive(t *testing.T) {
	e := NewEqClass()
	a, b, c := newFakeStore(4), newFakeStore(4), newFakeStore(4)
	e.Record(a, b)
	e.Record(b, c)

	for _, s := range []engine.Store{a, b, c} {
		class := idsOf(e.Find(s))
		if len(class) != 3 || !class[a.ID()] || !class[b.ID()] || !class[c.ID()] {
			t.Fatalf("expected {a,b,c} transitively joined, got %v from %v", class, s.ID())
		}
	}
}

func TestEqClassRecordMergesTwoExistingClasses(t *testing.T) {
	e := NewEqClass()
	a, b, c, d := newFakeStore(4), newFakeStore(4), newFakeStore(4), newFakeStore(4)
	e.Record(a, b)
	e.Record(c, d)
	e.Record(b, c)

	class := idsOf(e.Find(a))
	if len(class) != 4 {
		t.Fatalf("expected all four stores merged into one class, got %v", class)
	}
}

func TestEqClassUnion(t *testing.T) {
	e1 := NewEqClass()
	a, b := newFakeStore(4), newFakeStore(4)
	e1.Record(a, b)

	e2 := NewEqClass()
	c, d := newFakeStore(4), newFakeStore(4)
	e2.Record(c, d)

	e1.Union(e2)
	class := idsOf(e1.Find(c))
	if len(class) != 2 || !class[c.ID()] || !class[d.ID()] {
		t.Fatalf("Union should import e2's classes unchanged, got %v", class)
	}
	// a/b class must be untouched by the union
	abClass := idsOf(e1.Find(a))
	if len(abClass) != 2 || !abClass[a.ID()] || !abClass[b.ID()] {
		t.Fatalf("Union must not disturb e1's existing classes, got %v", abClass)
	}
}

func TestEqClassCopyIsIndependent(t *testing.T) {
	e := NewEqClass()
	a, b := newFakeStore(4), newFakeStore(4)
	e.Record(a, b)

	cp := e.Copy()
	c := newFakeStore(4)
	cp.Record(a, c)

	if len(e.Find(a)) != 2 {
		t.Fatalf("mutating the copy must not affect the original")
	}
	if len(cp.Find(a)) != 3 {
		t.Fatalf("expected copy's class to grow to 3 members, got %d", len(cp.Find(a)))
	}
}
