//  Copyright (c) 2025 Pathsense Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package state

import (
	"slices"
	"strings"

	"github.com/pathsense/pathsense/region"
)

// Store is a value held under one trait of a State. Stores are immutable;
// every "update" method returns a new store. Hash must be structural and
// agree with Equal: equal contents hash identically regardless of the order
// in which the contents were built up, which the explorer's node dedup
// relies on.
type Store interface {
	Hash() uint64
	Equal(Store) bool
}

// FNV-1a, used for all structural hashing in this package.
const (
	fnvOffset uint64 = 14695981039346656037
	fnvPrime  uint64 = 1099511628211
)

func hashUint64(h, x uint64) uint64 {
	for i := 0; i < 8; i++ {
		h = (h ^ (x & 0xff)) * fnvPrime
		x >>= 8
	}
	return h
}

func hashString(h uint64, s string) uint64 {
	for i := 0; i < len(s); i++ {
		h = (h ^ uint64(s[i])) * fnvPrime
	}
	// Separator so that ("ab","c") and ("a","bc") hash differently.
	return (h ^ 0xff) * fnvPrime
}

func hashValue(h uint64, v region.Value) uint64 {
	h = hashUint64(h, uint64(v.Kind))
	h = hashUint64(h, uint64(v.Region))
	h = hashUint64(h, uint64(v.Sym))
	return hashUint64(h, uint64(v.Int))
}

// Region is a single-value store holding one region reference.
type Region region.ID

// NoRegion is the default for region-valued traits.
const NoRegion = Region(region.None)

// ID returns the stored region ID.
func (r Region) ID() region.ID { return region.ID(r) }

// Valid reports whether a region is stored.
func (r Region) Valid() bool { return region.ID(r).Valid() }

// Hash implements Store.
func (r Region) Hash() uint64 { return hashUint64(fnvOffset, uint64(r)) }

// Equal implements Store.
func (r Region) Equal(o Store) bool {
	or, ok := o.(Region)
	return ok && r == or
}

// RegionSet is a persistent set of region IDs backed by a sorted slice.
// The zero RegionSet is the empty set. Updates copy; existing sets are
// never mutated.
type RegionSet struct {
	ids []region.ID
}

// NewRegionSet returns a set holding the given IDs.
func NewRegionSet(ids ...region.ID) RegionSet {
	s := RegionSet{}
	for _, id := range ids {
		s = s.Insert(id)
	}
	return s
}

// Contains reports whether id is in the set.
func (s RegionSet) Contains(id region.ID) bool {
	_, ok := slices.BinarySearch(s.ids, id)
	return ok
}

// Insert returns the set extended with id.
func (s RegionSet) Insert(id region.ID) RegionSet {
	i, ok := slices.BinarySearch(s.ids, id)
	if ok {
		return s
	}
	ids := make([]region.ID, 0, len(s.ids)+1)
	ids = append(ids, s.ids[:i]...)
	ids = append(ids, id)
	ids = append(ids, s.ids[i:]...)
	return RegionSet{ids: ids}
}

// Remove returns the set without id.
func (s RegionSet) Remove(id region.ID) RegionSet {
	i, ok := slices.BinarySearch(s.ids, id)
	if !ok {
		return s
	}
	ids := make([]region.ID, 0, len(s.ids)-1)
	ids = append(ids, s.ids[:i]...)
	ids = append(ids, s.ids[i+1:]...)
	return RegionSet{ids: ids}
}

// Len returns the number of regions in the set.
func (s RegionSet) Len() int { return len(s.ids) }

// All calls yield for each region in ascending ID order, stopping early if
// yield returns false.
func (s RegionSet) All(yield func(region.ID) bool) {
	for _, id := range s.ids {
		if !yield(id) {
			return
		}
	}
}

// Hash implements Store.
func (s RegionSet) Hash() uint64 {
	h := fnvOffset
	for _, id := range s.ids {
		h = hashUint64(h, uint64(id))
	}
	return h
}

// Equal implements Store.
func (s RegionSet) Equal(o Store) bool {
	os, ok := o.(RegionSet)
	return ok && slices.Equal(s.ids, os.ids)
}

type nameEntry struct {
	name string
	id   region.ID
}

// NameMap is a persistent map from name to region ID backed by a slice
// sorted by name. The zero NameMap is empty.
type NameMap struct {
	entries []nameEntry
}

func (m NameMap) search(name string) (int, bool) {
	return slices.BinarySearchFunc(m.entries, name, func(e nameEntry, n string) int {
		return strings.Compare(e.name, n)
	})
}

// Load returns the region recorded under name.
func (m NameMap) Load(name string) (region.ID, bool) {
	if i, ok := m.search(name); ok {
		return m.entries[i].id, true
	}
	return region.None, false
}

// Store returns the map with name bound to id.
func (m NameMap) Store(name string, id region.ID) NameMap {
	i, ok := m.search(name)
	entries := make([]nameEntry, len(m.entries), len(m.entries)+1)
	copy(entries, m.entries)
	if ok {
		entries[i].id = id
		return NameMap{entries: entries}
	}
	entries = append(entries[:i], append([]nameEntry{{name: name, id: id}}, entries[i:]...)...)
	return NameMap{entries: entries}
}

// Delete returns the map without name.
func (m NameMap) Delete(name string) NameMap {
	i, ok := m.search(name)
	if !ok {
		return m
	}
	entries := make([]nameEntry, 0, len(m.entries)-1)
	entries = append(entries, m.entries[:i]...)
	entries = append(entries, m.entries[i+1:]...)
	return NameMap{entries: entries}
}

// Len returns the number of entries.
func (m NameMap) Len() int { return len(m.entries) }

// All calls yield for each (name, region) pair in name order.
func (m NameMap) All(yield func(string, region.ID) bool) {
	for _, e := range m.entries {
		if !yield(e.name, e.id) {
			return
		}
	}
}

// Hash implements Store.
func (m NameMap) Hash() uint64 {
	h := fnvOffset
	for _, e := range m.entries {
		h = hashString(h, e.name)
		h = hashUint64(h, uint64(e.id))
	}
	return h
}

// Equal implements Store.
func (m NameMap) Equal(o Store) bool {
	om, ok := o.(NameMap)
	return ok && slices.Equal(m.entries, om.entries)
}

type valueEntry struct {
	name string
	val  region.Value
}

// ValueMap is a persistent map from name to abstract value, used by the
// engine for variable bindings. The zero ValueMap is empty.
type ValueMap struct {
	entries []valueEntry
}

func (m ValueMap) search(name string) (int, bool) {
	return slices.BinarySearchFunc(m.entries, name, func(e valueEntry, n string) int {
		return strings.Compare(e.name, n)
	})
}

// Load returns the value bound to name.
func (m ValueMap) Load(name string) (region.Value, bool) {
	if i, ok := m.search(name); ok {
		return m.entries[i].val, true
	}
	return region.Value{}, false
}

// Store returns the map with name bound to v.
func (m ValueMap) Store(name string, v region.Value) ValueMap {
	i, ok := m.search(name)
	entries := make([]valueEntry, len(m.entries), len(m.entries)+1)
	copy(entries, m.entries)
	if ok {
		entries[i].val = v
		return ValueMap{entries: entries}
	}
	entries = append(entries[:i], append([]valueEntry{{name: name, val: v}}, entries[i:]...)...)
	return ValueMap{entries: entries}
}

// DropPrefix returns the map without any entry whose name starts with
// prefix, used to discard a returning frame's bindings wholesale.
func (m ValueMap) DropPrefix(prefix string) ValueMap {
	kept := make([]valueEntry, 0, len(m.entries))
	for _, e := range m.entries {
		if !strings.HasPrefix(e.name, prefix) {
			kept = append(kept, e)
		}
	}
	if len(kept) == len(m.entries) {
		return m
	}
	return ValueMap{entries: kept}
}

// Len returns the number of bindings.
func (m ValueMap) Len() int { return len(m.entries) }

// Hash implements Store.
func (m ValueMap) Hash() uint64 {
	h := fnvOffset
	for _, e := range m.entries {
		h = hashString(h, e.name)
		h = hashValue(h, e.val)
	}
	return h
}

// Equal implements Store.
func (m ValueMap) Equal(o Store) bool {
	om, ok := o.(ValueMap)
	return ok && slices.Equal(m.entries, om.entries)
}

type assumption struct {
	sym region.Symbol
	val bool
}

// Assumptions is a persistent set of boolean assumptions over symbols,
// recorded along a path as branch outcomes are taken. The zero Assumptions
// assumes nothing.
type Assumptions struct {
	entries []assumption
}

func (a Assumptions) search(sym region.Symbol) (int, bool) {
	return slices.BinarySearchFunc(a.entries, sym, func(e assumption, s region.Symbol) int {
		switch {
		case e.sym < s:
			return -1
		case e.sym > s:
			return 1
		}
		return 0
	})
}

// Lookup returns the assumed truth value of sym, if any.
func (a Assumptions) Lookup(sym region.Symbol) (bool, bool) {
	if i, ok := a.search(sym); ok {
		return a.entries[i].val, true
	}
	return false, false
}

// Assume returns the assumption set extended with sym=v. The second result
// is false when the opposite is already assumed, which marks the path
// infeasible; the receiver is returned unchanged in that case.
func (a Assumptions) Assume(sym region.Symbol, v bool) (Assumptions, bool) {
	i, ok := a.search(sym)
	if ok {
		return a, a.entries[i].val == v
	}
	entries := make([]assumption, 0, len(a.entries)+1)
	entries = append(entries, a.entries[:i]...)
	entries = append(entries, assumption{sym: sym, val: v})
	entries = append(entries, a.entries[i:]...)
	return Assumptions{entries: entries}, true
}

// Len returns the number of recorded assumptions.
func (a Assumptions) Len() int { return len(a.entries) }

// Hash implements Store.
func (a Assumptions) Hash() uint64 {
	h := fnvOffset
	for _, e := range a.entries {
		h = hashUint64(h, uint64(e.sym))
		if e.val {
			h = hashUint64(h, 1)
		} else {
			h = hashUint64(h, 0)
		}
	}
	return h
}

// Equal implements Store.
func (a Assumptions) Equal(o Store) bool {
	oa, ok := o.(Assumptions)
	return ok && slices.Equal(a.entries, oa.entries)
}
