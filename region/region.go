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

// Package region implements the abstract memory model of the engine: regions
// standing in for memory locations, tagged with a storage class, and symbols
// standing in for runtime values that are not concretely known. A Table owns
// the canonical identity of every region and symbol created during one
// function analysis; program states reference regions by ID only and never
// own them. Regions are never destroyed once created.
package region

import "fmt"

// Class is the storage class of a region.
type Class uint8

const (
	// ClassAuto is automatic (stack) storage.
	ClassAuto Class = iota
	// ClassStatic is static storage (globals, string literals, library-owned
	// buffers with static duration).
	ClassStatic
	// ClassHeap is dynamically allocated storage.
	ClassHeap
	// ClassUnknown is storage whose class cannot be determined, including
	// regions that have escaped through an opaque call.
	ClassUnknown
)

func (c Class) String() string {
	switch c {
	case ClassAuto:
		return "auto"
	case ClassStatic:
		return "static"
	case ClassHeap:
		return "heap"
	case ClassUnknown:
		return "unknown"
	}
	return fmt.Sprintf("Class(%d)", uint8(c))
}

// ID identifies a region within one Table. The zero ID is None.
type ID int32

// None is the absence of a region.
const None ID = 0

// Valid reports whether the ID names an actual region.
func (id ID) Valid() bool { return id != None }

// Symbol identifies a symbolic value within one Table. The zero Symbol is
// NoSymbol.
type Symbol int32

// NoSymbol is the absence of a symbolic value.
const NoSymbol Symbol = 0

// Valid reports whether the Symbol names an actual symbolic value.
func (s Symbol) Valid() bool { return s != NoSymbol }

type regionInfo struct {
	class  Class
	name   string
	parent ID
}

// Table allocates and resolves regions and symbols for one function analysis.
// IDs are dense and assigned in creation order, so a deterministic exploration
// produces deterministic IDs. A Table is not safe for concurrent use; each
// engine instance owns its own.
type Table struct {
	regions []regionInfo
	symbols int32
}

// NewTable returns an empty table.
func NewTable() *Table { return &Table{} }

// New creates a fresh root region with the given storage class and
// diagnostic name.
func (t *Table) New(class Class, name string) ID {
	t.regions = append(t.regions, regionInfo{class: class, name: name})
	return ID(len(t.regions))
}

// NewSub creates a region derived from parent (an element, field, or alias
// view of it). The subregion inherits the parent's storage class.
func (t *Table) NewSub(parent ID, name string) ID {
	t.regions = append(t.regions, regionInfo{
		class:  t.Class(parent),
		name:   name,
		parent: parent,
	})
	return ID(len(t.regions))
}

// NewSymbol allocates a fresh symbolic value.
func (t *Table) NewSymbol() Symbol {
	t.symbols++
	return Symbol(t.symbols)
}

// Class returns the storage class of id, or ClassUnknown for None.
func (t *Table) Class(id ID) Class {
	if !id.Valid() {
		return ClassUnknown
	}
	return t.regions[id-1].class
}

// Name returns the diagnostic name of id.
func (t *Table) Name(id ID) string {
	if !id.Valid() {
		return "<none>"
	}
	return t.regions[id-1].name
}

// Parent returns the region id was derived from, or None for root regions.
func (t *Table) Parent(id ID) ID {
	if !id.Valid() {
		return None
	}
	return t.regions[id-1].parent
}

// Base follows derivation links to the root region id belongs to.
func (t *Table) Base(id ID) ID {
	for {
		p := t.Parent(id)
		if !p.Valid() {
			return id
		}
		id = p
	}
}

// Len returns the number of regions created so far.
func (t *Table) Len() int { return len(t.regions) }
