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

// Package cfg defines the control-flow-graph input of the engine: functions
// made of basic blocks of statements over a small expression language, with
// storage-classed object declarations. Front ends build these values
// directly or hand the engine the compact textual form understood by Parse;
// either way the engine never sees source text, only an already-built CFG.
package cfg

import "fmt"

// Pos is a source position carried through to bug reports.
type Pos struct {
	File string
	Line int
	Col  int
}

// IsValid reports whether the position was set.
func (p Pos) IsValid() bool { return p.Line > 0 }

func (p Pos) String() string {
	if !p.IsValid() {
		return "-"
	}
	if p.Col > 0 {
		return fmt.Sprintf("%s:%d:%d", p.File, p.Line, p.Col)
	}
	return fmt.Sprintf("%s:%d", p.File, p.Line)
}

// Storage is the storage class of a declared object.
type Storage uint8

const (
	// StorageAuto is automatic (stack) storage, the default for locals.
	StorageAuto Storage = iota
	// StorageStatic is static storage duration.
	StorageStatic
	// StorageHeap marks objects standing in for dynamic allocations.
	StorageHeap
)

func (s Storage) String() string {
	switch s {
	case StorageAuto:
		return "auto"
	case StorageStatic:
		return "static"
	case StorageHeap:
		return "heap"
	}
	return fmt.Sprintf("Storage(%d)", uint8(s))
}

// Decl is a declared object with a storage class.
type Decl struct {
	Name    string
	Storage Storage
	P       Pos
}

// Program is an ordered collection of functions, typically one translation
// unit.
type Program struct {
	funcs  []*Function
	byName map[string]*Function
}

// NewProgram returns an empty program.
func NewProgram() *Program {
	return &Program{byName: make(map[string]*Function)}
}

// Add appends f. Two functions with the same name is a front-end bug.
func (p *Program) Add(f *Function) error {
	if _, ok := p.byName[f.Name]; ok {
		return fmt.Errorf("cfg: duplicate function %q", f.Name)
	}
	p.funcs = append(p.funcs, f)
	p.byName[f.Name] = f
	return nil
}

// Func returns the function with the given name, or nil.
func (p *Program) Func(name string) *Function { return p.byName[name] }

// Funcs returns the functions in declaration order. The slice is shared;
// callers must not modify it.
func (p *Program) Funcs() []*Function { return p.funcs }

// Function is one function body: parameters, local declarations, and basic
// blocks. Blocks[0] is the entry block.
type Function struct {
	Name   string
	Params []string
	Decls  []Decl
	Blocks []*Block
	P      Pos
}

// Entry returns the entry block, or nil for a bodiless function.
func (f *Function) Entry() *Block {
	if len(f.Blocks) == 0 {
		return nil
	}
	return f.Blocks[0]
}

// Decl looks up a declared object by name.
func (f *Function) Decl(name string) (Decl, bool) {
	for _, d := range f.Decls {
		if d.Name == name {
			return d, true
		}
	}
	return Decl{}, false
}

// Block is a basic block. If Cond is non-nil the block ends in a branch and
// Succs holds exactly the true target followed by the false target; with a
// nil Cond, Succs holds at most one unconditional successor. A block with no
// successors exits the function.
type Block struct {
	Label string
	Index int
	Stmts []Stmt
	Cond  Expr
	Succs []*Block
}

// Stmt is one statement.
type Stmt interface {
	Pos() Pos
	stmt()
}

// Assign binds a variable to the value of an expression: name = rhs.
type Assign struct {
	P    Pos
	Name string
	RHS  Expr
}

// Store writes through a pointer: *target = value.
type Store struct {
	P      Pos
	Target Expr
	Value  Expr
}

// Eval evaluates an expression for its effects: a bare call or dereference.
type Eval struct {
	P Pos
	X Expr
}

// Ret returns from the function; Value may be nil.
type Ret struct {
	P     Pos
	Value Expr
}

// Pos implements Stmt.
func (s *Assign) Pos() Pos { return s.P }

// Pos implements Stmt.
func (s *Store) Pos() Pos { return s.P }

// Pos implements Stmt.
func (s *Eval) Pos() Pos { return s.P }

// Pos implements Stmt.
func (s *Ret) Pos() Pos { return s.P }

func (*Assign) stmt() {}
func (*Store) stmt()  {}
func (*Eval) stmt()   {}
func (*Ret) stmt()    {}

// Expr is one expression.
type Expr interface {
	Pos() Pos
	expr()
}

// Var references a variable or parameter.
type Var struct {
	P    Pos
	Name string
}

// AddrOf takes the address of a declared object: &name.
type AddrOf struct {
	P    Pos
	Name string
}

// Deref loads through a pointer: *x.
type Deref struct {
	P Pos
	X Expr
}

// Not negates a condition: !x.
type Not struct {
	P Pos
	X Expr
}

// IntLit is a concrete integer; 0 doubles as the null pointer.
type IntLit struct {
	P     Pos
	Value int64
}

// StrLit is a string literal; its backing storage is static.
type StrLit struct {
	P     Pos
	Value string
}

// Call invokes a function by name.
type Call struct {
	P      Pos
	Callee string
	Args   []Expr
}

// Pos implements Expr.
func (e *Var) Pos() Pos { return e.P }

// Pos implements Expr.
func (e *AddrOf) Pos() Pos { return e.P }

// Pos implements Expr.
func (e *Deref) Pos() Pos { return e.P }

// Pos implements Expr.
func (e *Not) Pos() Pos { return e.P }

// Pos implements Expr.
func (e *IntLit) Pos() Pos { return e.P }

// Pos implements Expr.
func (e *StrLit) Pos() Pos { return e.P }

// Pos implements Expr.
func (e *Call) Pos() Pos { return e.P }

func (*Var) expr()    {}
func (*AddrOf) expr() {}
func (*Deref) expr()  {}
func (*Not) expr()    {}
func (*IntLit) expr() {}
func (*StrLit) expr() {}
func (*Call) expr()   {}
