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

// Package state implements the persistent program state carried along every
// explored path. A State is an immutable collection of trait stores keyed by
// trait identifiers that checkers (and the engine itself) declare once at
// initialization. "Updating" a state produces a new state sharing all
// unchanged stores with the original, so states are cheap to fork at
// branches and safe to hold in many exploded-graph nodes at once.
//
// Two states with identical trait contents compare equal and carry the same
// fingerprint no matter how they were constructed. The explorer's
// (point, state) deduplication is sound only because of this invariant.
package state

import (
	"fmt"
	"slices"
	"strings"
)

// TraitID identifies a declared trait within one Registry.
type TraitID int32

// Registry holds the trait declarations for one engine instance. All traits
// are declared before analysis starts; Freeze marks the end of declaration
// time. Declaring after Freeze, declaring two traits with the same
// identifier, or using a trait against a state from a different registry are
// programming errors and panic.
type Registry struct {
	names    []string
	defaults []Store
	byName   map[string]TraitID
	frozen   bool
}

// NewRegistry returns an empty, unfrozen registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]TraitID)}
}

// Freeze ends declaration time. Freeze is idempotent.
func (r *Registry) Freeze() { r.frozen = true }

// Frozen reports whether declaration time has ended.
func (r *Registry) Frozen() bool { return r.frozen }

// Len returns the number of declared traits.
func (r *Registry) Len() int { return len(r.names) }

func (r *Registry) declare(name string, def Store) TraitID {
	if r.frozen {
		panic(fmt.Sprintf("state: trait %q declared after registry freeze", name))
	}
	if _, ok := r.byName[name]; ok {
		panic(fmt.Sprintf("state: conflicting declarations of trait %q", name))
	}
	id := TraitID(len(r.names))
	r.names = append(r.names, name)
	r.defaults = append(r.defaults, def)
	r.byName[name] = id
	return id
}

// Trait is a typed handle to one declared trait. The zero Trait is invalid;
// handles are obtained from Declare only.
type Trait[V Store] struct {
	reg  *Registry
	id   TraitID
	name string
	def  V
}

// Declare declares a trait with the given identifier and default value on r
// and returns its typed handle. The default is what Get yields for states
// that carry no entry for the trait; setting a trait to a value equal to its
// default is the same as clearing it.
func Declare[V Store](r *Registry, name string, def V) Trait[V] {
	if r == nil {
		panic("state: Declare on nil registry")
	}
	return Trait[V]{reg: r, id: r.declare(name, def), name: name, def: def}
}

// Name returns the trait's declared identifier.
func (t Trait[V]) Name() string { return t.name }

func (t Trait[V]) check(s *State) {
	if t.reg == nil {
		panic("state: use of undeclared trait")
	}
	if s.reg != t.reg {
		panic(fmt.Sprintf("state: trait %q queried against a state from a different registry", t.name))
	}
}

// Get returns the trait's store in s, or the declared default if absent.
func (t Trait[V]) Get(s *State) V {
	t.check(s)
	if i, ok := s.search(t.id); ok {
		return s.entries[i].store.(V)
	}
	return t.def
}

// Set returns a new state with the trait bound to v; s is unchanged. Binding
// the default value removes the entry so that states built in different
// orders stay structurally identical.
func (t Trait[V]) Set(s *State, v V) *State {
	t.check(s)
	if v.Equal(t.def) {
		return t.Clear(s)
	}
	i, ok := s.search(t.id)
	if ok && s.entries[i].store.Equal(v) {
		return s
	}
	entries := make([]entry, len(s.entries), len(s.entries)+1)
	copy(entries, s.entries)
	if ok {
		entries[i] = entry{id: t.id, store: v}
	} else {
		entries = append(entries[:i], append([]entry{{id: t.id, store: v}}, entries[i:]...)...)
	}
	return newState(s.reg, entries)
}

// Clear returns a new state without an entry for the trait.
func (t Trait[V]) Clear(s *State) *State {
	t.check(s)
	i, ok := s.search(t.id)
	if !ok {
		return s
	}
	entries := make([]entry, 0, len(s.entries)-1)
	entries = append(entries, s.entries[:i]...)
	entries = append(entries, s.entries[i+1:]...)
	return newState(s.reg, entries)
}

type entry struct {
	id    TraitID
	store Store
}

// State is one immutable program state. The zero State is invalid; use New.
type State struct {
	reg     *Registry
	entries []entry // sorted by trait ID, defaults elided
	fp      uint64
}

// New returns the empty state for a frozen registry: every trait at its
// default.
func New(r *Registry) *State {
	if !r.frozen {
		panic("state: New called before registry freeze")
	}
	return newState(r, nil)
}

func newState(r *Registry, entries []entry) *State {
	h := fnvOffset
	for _, e := range entries {
		h = hashUint64(h, uint64(e.id))
		h = hashUint64(h, e.store.Hash())
	}
	return &State{reg: r, entries: entries, fp: h}
}

func (s *State) search(id TraitID) (int, bool) {
	return slices.BinarySearchFunc(s.entries, id, func(e entry, want TraitID) int {
		switch {
		case e.id < want:
			return -1
		case e.id > want:
			return 1
		}
		return 0
	})
}

// Fingerprint returns the structural hash of the state. Equal states have
// equal fingerprints; the converse holds only up to hash collisions, which
// Equal resolves.
func (s *State) Fingerprint() uint64 { return s.fp }

// Equal reports whether o carries exactly the same trait contents as s.
func (s *State) Equal(o *State) bool {
	if s == o {
		return true
	}
	if o == nil || s.reg != o.reg || s.fp != o.fp || len(s.entries) != len(o.entries) {
		return false
	}
	for i := range s.entries {
		if s.entries[i].id != o.entries[i].id || !s.entries[i].store.Equal(o.entries[i].store) {
			return false
		}
	}
	return true
}

// String renders the non-default traits for debugging.
func (s *State) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, e := range s.entries {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s: %v", s.reg.names[e.id], e.store)
	}
	b.WriteByte('}')
	return b.String()
}
