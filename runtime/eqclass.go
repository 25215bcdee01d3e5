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

import "github.com/launix-de/fuseflow/engine"

// EqClass is a disjoint-set over stores, used to record alignment
// constraints (spec.md §4.1). Unlike the legate.core original this
// port is grounded on, _nextClassID is actually incremented on every
// newly observed pair — the original Python leaves the counter frozen
// at 0 so every add() overwrites the same class id (spec.md §9 flags
// this explicitly as a bug to fix, not mirror).
type EqClass struct {
	classOf     map[uintptr]int
	members     map[int][]engine.Store
	storeByID   map[uintptr]engine.Store
	_nextClassID int
}

// NewEqClass returns an empty disjoint-set.
func NewEqClass() *EqClass {
	return &EqClass{
		classOf:   make(map[uintptr]int),
		members:   make(map[int][]engine.Store),
		storeByID: make(map[uintptr]engine.Store),
	}
}

// Record unions a and b into the same alignment class.
func (e *EqClass) Record(a, b engine.Store) {
	e.storeByID[a.ID()] = a
	e.storeByID[b.ID()] = b

	ca, aok := e.classOf[a.ID()]
	cb, bok := e.classOf[b.ID()]

	switch {
	case !aok && !bok:
		id := e._nextClassID
		e._nextClassID++
		e.classOf[a.ID()] = id
		e.classOf[b.ID()] = id
		e.members[id] = []engine.Store{a, b}
	case aok && !bok:
		e.classOf[b.ID()] = ca
		e.members[ca] = append(e.members[ca], b)
	case !aok && bok:
		e.classOf[a.ID()] = cb
		e.members[cb] = append(e.members[cb], a)
	default:
		if ca == cb {
			return
		}
		// merge the smaller class into the larger one
		from, into := ca, cb
		if len(e.members[ca]) > len(e.members[cb]) {
			from, into = cb, ca
		}
		for _, s := range e.members[from] {
			e.classOf[s.ID()] = into
		}
		e.members[into] = append(e.members[into], e.members[from]...)
		delete(e.members, from)
	}
}

// Find returns the set of stores equivalent to x, or {x} if x has no
// recorded alignment. Insertion order within the returned slice is not
// observable/guaranteed.
func (e *EqClass) Find(x engine.Store) []engine.Store {
	if id, ok := e.classOf[x.ID()]; ok {
		out := make([]engine.Store, len(e.members[id]))
		copy(out, e.members[id])
		return out
	}
	return []engine.Store{x}
}

// Union merges another EqClass's classes into this one.
func (e *EqClass) Union(other *EqClass) {
	for id, group := range other.members {
		_ = id
		if len(group) == 0 {
			continue
		}
		head := group[0]
		for _, s := range group[1:] {
			e.Record(head, s)
		}
		if len(group) == 1 {
			// singleton class in other: nothing to union, but make
			// sure the store is known so a later Find(x) on an
			// isolated store still works through this EqClass if it
			// is later joined to something.
			e.storeByID[head.ID()] = head
		}
	}
}

// Copy makes a shallow copy of the disjoint-set.
func (e *EqClass) Copy() *EqClass {
	cp := NewEqClass()
	cp._nextClassID = e._nextClassID
	for k, v := range e.classOf {
		cp.classOf[k] = v
	}
	for k, v := range e.members {
		members := make([]engine.Store, len(v))
		copy(members, v)
		cp.members[k] = members
	}
	for k, v := range e.storeByID {
		cp.storeByID[k] = v
	}
	return cp
}
