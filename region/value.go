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

package region

import "fmt"

// ValueKind discriminates the Value union.
type ValueKind uint8

const (
	// ValueUnknown is the zero Value.
	ValueUnknown ValueKind = iota
	// ValuePointer is the address of a region.
	ValuePointer
	// ValueSymbol is a symbolic stand-in for an unknown runtime value.
	ValueSymbol
	// ValueInt is a concrete integer (0 doubles as the null pointer).
	ValueInt
)

// Value is the abstract runtime value the engine computes for expressions:
// either the address of a region, a symbol, or a concrete integer. Values are
// small comparable structs so they can be stored in program-state traits.
type Value struct {
	Kind   ValueKind
	Region ID
	Sym    Symbol
	Int    int64
}

// PointerTo returns the address-of-region value.
func PointerTo(r ID) Value { return Value{Kind: ValuePointer, Region: r} }

// SymbolValue returns the symbolic value for s.
func SymbolValue(s Symbol) Value { return Value{Kind: ValueSymbol, Sym: s} }

// IntValue returns the concrete integer value i.
func IntValue(i int64) Value { return Value{Kind: ValueInt, Int: i} }

// IsNull reports whether the value is the concrete integer zero.
func (v Value) IsNull() bool { return v.Kind == ValueInt && v.Int == 0 }

func (v Value) String() string {
	switch v.Kind {
	case ValuePointer:
		return fmt.Sprintf("&r%d", v.Region)
	case ValueSymbol:
		return fmt.Sprintf("$%d", v.Sym)
	case ValueInt:
		return fmt.Sprintf("%d", v.Int)
	}
	return "<unknown>"
}
