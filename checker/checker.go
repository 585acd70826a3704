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

// Package checker defines the pluggable rule-module protocol: the hook kinds
// the explorer dispatches on, the typed interfaces a checker implements per
// hook, and the registrar that owns the enabled checkers for one engine
// instance. Checkers interact with the engine only through returned states
// and submitted reports; they never touch engine structures directly, and
// they treat each other's traits as opaque.
package checker

import (
	"fmt"

	"github.com/pathsense/pathsense/cfg"
	"github.com/pathsense/pathsense/region"
	"github.com/pathsense/pathsense/state"
)

// Hook enumerates the dispatch points a checker can subscribe to.
type Hook uint8

const (
	// HookFunctionEntry fires once when exploration enters a function frame.
	HookFunctionEntry Hook = iota
	// HookPostCall fires after a call's built-in effects are applied.
	HookPostCall
	// HookMemoryAccess fires on every load and store through a region.
	HookMemoryAccess
)

// AccessKind distinguishes loads from stores at HookMemoryAccess.
type AccessKind uint8

const (
	// AccessLoad is a read through a pointer.
	AccessLoad AccessKind = iota
	// AccessStore is a write through a pointer.
	AccessStore
)

func (k AccessKind) String() string {
	if k == AccessStore {
		return "store"
	}
	return "load"
}

// Checker is one rule module. Register declares the checker's traits on the
// engine registry at initialization; the hook methods come from the per-hook
// interfaces below, matching the subscriptions returned by Hooks.
type Checker interface {
	Name() string
	Hooks() []Hook
	Register(reg *state.Registry)
}

// EntryChecker handles HookFunctionEntry.
type EntryChecker interface {
	Checker
	OnFunctionEntry(ctx *Context, frame *FrameInfo, s *state.State) *state.State
}

// PostCallChecker handles HookPostCall.
type PostCallChecker interface {
	Checker
	OnPostCall(ctx *Context, call *CallInfo, s *state.State) *state.State
}

// AccessChecker handles HookMemoryAccess. Access hooks only inspect state
// and report; they do not transform it.
type AccessChecker interface {
	Checker
	OnMemoryAccess(ctx *Context, access *Access, s *state.State)
}

// CallEvaluator is optionally implemented by checkers whose call table gives
// a call precise effects. The explorer skips its conservative escape of
// argument regions for evaluated calls.
type CallEvaluator interface {
	EvaluatesCall(name string, arity int) bool
}

// FrameInfo describes the frame being entered at HookFunctionEntry.
type FrameInfo struct {
	Func *cfg.Function
	// Depth is 0 for the analysis entry function and grows with inlining.
	Depth int
	// ParamRegions holds, per parameter, the region standing for the
	// parameter's pointee.
	ParamRegions []region.ID
}

// CallInfo describes a finished opaque call at HookPostCall. Inlined calls
// never dispatch here: their effects surface through HookFunctionEntry and
// the callee's own statements, so a program-defined function shadowing a
// tabled name is explored rather than matched.
type CallInfo struct {
	Callee string
	Arity  int
	Pos    cfg.Pos
	// ArgValues are the evaluated argument values.
	ArgValues []region.Value
	// ArgRegions resolves each argument to the region it refers to, or
	// region.None for non-pointer arguments.
	ArgRegions []region.ID
	// ReturnRegion is the region standing for the pointee of the call's
	// return value.
	ReturnRegion region.ID
	// Opaque is set when the callee's body was not explored.
	Opaque bool
	// Evaluated is set when some checker's table or the pass-through list
	// gave the call precise effects, suppressing conservative escape.
	Evaluated bool
}

// Key returns the (name, arity) matching key of the call.
func (c *CallInfo) Key() CallKey { return CallKey{Name: c.Callee, Arity: c.Arity} }

// Access describes one memory access at HookMemoryAccess.
type Access struct {
	Region region.ID
	Kind   AccessKind
	Pos    cfg.Pos
}

// CallKey matches calls by name and arity, the way static call tables are
// keyed.
type CallKey struct {
	Name  string
	Arity int
}

// CallSet is a static membership table of interesting calls.
type CallSet map[CallKey]struct{}

// NewCallSet builds a table from its keys.
func NewCallSet(keys ...CallKey) CallSet {
	s := make(CallSet, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

// Matches reports whether (name, arity) is in the table.
func (s CallSet) Matches(name string, arity int) bool {
	_, ok := s[CallKey{Name: name, Arity: arity}]
	return ok
}

// Context is the engine surface handed to a hook invocation: the canonical
// region table and a report sink tied to the current node. The engine drops
// submitted reports whose originating path turns out not to be surfacable.
type Context struct {
	Regions *region.Table

	submit func(kind, message string, pos cfg.Pos)
	pos    cfg.Pos
}

// NewContext assembles a hook context. It is exported for the explorer and
// for checker unit tests; checkers only consume it.
func NewContext(regions *region.Table, pos cfg.Pos, submit func(kind, message string, pos cfg.Pos)) *Context {
	return &Context{Regions: regions, submit: submit, pos: pos}
}

// Pos returns the position of the statement being dispatched.
func (c *Context) Pos() cfg.Pos { return c.pos }

// Report submits a finding at the current statement.
func (c *Context) Report(kind, message string) {
	c.submit(kind, message, c.pos)
}

// ReportAt submits a finding at an explicit position.
func (c *Context) ReportAt(pos cfg.Pos, kind, message string) {
	c.submit(kind, message, pos)
}

// Member resolves id against set: it returns the first of id and its
// derivation ancestors that is a member, so subregions and aliased views
// match the region actually recorded. region.None means no member.
func (c *Context) Member(set state.RegionSet, id region.ID) region.ID {
	for r := id; r.Valid(); r = c.Regions.Parent(r) {
		if set.Contains(r) {
			return r
		}
	}
	return region.None
}

// InSet reports whether id or any region it is derived from is a member of
// set.
func (c *Context) InSet(set state.RegionSet, id region.ID) bool {
	return c.Member(set, id).Valid()
}

// Registrar owns the checkers enabled for one engine instance, split by
// hook subscription in registration order. Dispatch order across checkers
// is fixed for reproducibility but must never be semantically significant.
type Registrar struct {
	checkers []Checker
	names    map[string]struct{}

	entry    []EntryChecker
	postCall []PostCallChecker
	access   []AccessChecker

	contained int
}

// NewRegistrar returns an empty registrar.
func NewRegistrar() *Registrar {
	return &Registrar{names: make(map[string]struct{})}
}

// Add registers a checker. Registering two checkers under one name is an
// initialization bug and panics, as does subscribing to a hook without
// implementing its interface.
func (r *Registrar) Add(c Checker) {
	if _, ok := r.names[c.Name()]; ok {
		panic(fmt.Sprintf("checker: conflicting registrations of %q", c.Name()))
	}
	r.names[c.Name()] = struct{}{}
	r.checkers = append(r.checkers, c)
	for _, h := range c.Hooks() {
		switch h {
		case HookFunctionEntry:
			ec, ok := c.(EntryChecker)
			if !ok {
				panic(fmt.Sprintf("checker: %q subscribes to function-entry without implementing EntryChecker", c.Name()))
			}
			r.entry = append(r.entry, ec)
		case HookPostCall:
			pc, ok := c.(PostCallChecker)
			if !ok {
				panic(fmt.Sprintf("checker: %q subscribes to post-call without implementing PostCallChecker", c.Name()))
			}
			r.postCall = append(r.postCall, pc)
		case HookMemoryAccess:
			ac, ok := c.(AccessChecker)
			if !ok {
				panic(fmt.Sprintf("checker: %q subscribes to memory-access without implementing AccessChecker", c.Name()))
			}
			r.access = append(r.access, ac)
		default:
			panic(fmt.Sprintf("checker: %q subscribes to unknown hook %d", c.Name(), h))
		}
	}
}

// Checkers returns the registered checkers in registration order.
func (r *Registrar) Checkers() []Checker { return r.checkers }

// RegisterTraits declares every checker's traits on reg. Called once by the
// engine before the registry is frozen.
func (r *Registrar) RegisterTraits(reg *state.Registry) {
	for _, c := range r.checkers {
		c.Register(reg)
	}
}

// Evaluates reports whether any registered checker gives (name, arity)
// precise effects.
func (r *Registrar) Evaluates(name string, arity int) bool {
	for _, c := range r.checkers {
		if ev, ok := c.(CallEvaluator); ok && ev.EvaluatesCall(name, arity) {
			return true
		}
	}
	return false
}

// ContainedPanics counts hook invocations that panicked and were skipped.
func (r *Registrar) ContainedPanics() int { return r.contained }

// guard contains a panicking checker: the hook is skipped and exploration
// continues, so one bad path in one checker cannot suppress findings
// elsewhere.
func (r *Registrar) guard(f func()) {
	defer func() {
		if recover() != nil {
			r.contained++
		}
	}()
	f()
}

// RunFunctionEntry dispatches HookFunctionEntry through every subscriber.
func (r *Registrar) RunFunctionEntry(ctx *Context, frame *FrameInfo, s *state.State) *state.State {
	for _, c := range r.entry {
		r.guard(func() {
			if next := c.OnFunctionEntry(ctx, frame, s); next != nil {
				s = next
			}
		})
	}
	return s
}

// RunPostCall dispatches HookPostCall through every subscriber.
func (r *Registrar) RunPostCall(ctx *Context, call *CallInfo, s *state.State) *state.State {
	for _, c := range r.postCall {
		r.guard(func() {
			if next := c.OnPostCall(ctx, call, s); next != nil {
				s = next
			}
		})
	}
	return s
}

// RunMemoryAccess dispatches HookMemoryAccess through every subscriber.
func (r *Registrar) RunMemoryAccess(ctx *Context, access *Access, s *state.State) {
	for _, c := range r.access {
		r.guard(func() { c.OnMemoryAccess(ctx, access, s) })
	}
}
