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

// Package explore implements the exploded-graph explorer: a worklist-driven,
// path-sensitive traversal of a function's CFG crossed with the persistent
// program state. The explorer forks states at branches, prunes outcomes the
// path constraints contradict, deduplicates (point, state) pairs to keep
// loop exploration finite, inlines calls within a depth budget, and treats
// everything else as opaque with conservative escape of argument regions.
// Checker hooks are dispatched at function entry, after calls, and on every
// memory access.
//
// Exploration is single-threaded and cooperative: budgets and the external
// cancel check are consulted at every worklist pop, and exceeding them
// truncates the remaining paths as a counted, observable approximation
// rather than an error. Separate Explorer instances share nothing and may
// run concurrently, one per function.
package explore

import (
	"fmt"

	"github.com/pathsense/pathsense/cfg"
	"github.com/pathsense/pathsense/checker"
	"github.com/pathsense/pathsense/region"
	"github.com/pathsense/pathsense/report"
	"github.com/pathsense/pathsense/state"
)

// Options configure one Explorer.
type Options struct {
	Budget Budget
	// PassThrough lists opaque calls known not to retain or mutate their
	// pointer arguments; conservative escape is skipped for them.
	PassThrough []string
}

type nodeKey struct {
	point Point
	fp    uint64
}

type frameKey struct {
	parent *frame
	fn     *cfg.Function
	block  int
	index  int
}

type objKey struct {
	frameID int
	name    string
}

// Explorer walks one program's functions. It owns the canonical region
// table, the node dedup table, and the report set for the functions it has
// analyzed; it is not safe for concurrent use.
type Explorer struct {
	prog      *cfg.Program
	registrar *checker.Registrar
	opts      Options

	registry *state.Registry
	bindings state.Trait[state.ValueMap]
	assumes  state.Trait[state.Assumptions]
	escaped  state.Trait[state.RegionSet]

	regions *region.Table
	reports *report.Set
	stats   Stats

	passThrough map[string]struct{}

	worklist []*Node
	nodes    map[nodeKey][]*Node
	allNodes []*Node // creation order, for graph inspection

	frames   map[frameKey]*frame
	frameSeq int

	objRegions map[objKey]region.ID
	strRegions map[string]region.ID
	siteSyms   map[objKey]region.Symbol // call-site key -> conjured return symbol
	loadSyms   map[region.ID]region.Symbol
	notSyms    map[region.Symbol]region.Symbol
	symPointee map[region.Symbol]region.ID
	symParent  map[region.Symbol]region.ID // region the symbol was loaded from
}

// New builds an explorer over prog with the given checkers. It declares the
// engine's own traits followed by every checker's traits and freezes the
// registry, so any trait conflict fails here, at initialization.
func New(prog *cfg.Program, registrar *checker.Registrar, opts Options) *Explorer {
	e := &Explorer{
		prog:        prog,
		registrar:   registrar,
		opts:        opts,
		registry:    state.NewRegistry(),
		regions:     region.NewTable(),
		reports:     report.NewSet(),
		passThrough: make(map[string]struct{}, len(opts.PassThrough)),
		nodes:       make(map[nodeKey][]*Node),
		frames:      make(map[frameKey]*frame),
		objRegions:  make(map[objKey]region.ID),
		strRegions:  make(map[string]region.ID),
		siteSyms:    make(map[objKey]region.Symbol),
		loadSyms:    make(map[region.ID]region.Symbol),
		notSyms:     make(map[region.Symbol]region.Symbol),
		symPointee:  make(map[region.Symbol]region.ID),
		symParent:   make(map[region.Symbol]region.ID),
	}
	for _, name := range opts.PassThrough {
		e.passThrough[name] = struct{}{}
	}
	e.bindings = state.Declare(e.registry, "engine.bindings", state.ValueMap{})
	e.assumes = state.Declare(e.registry, "engine.assumptions", state.Assumptions{})
	e.escaped = state.Declare(e.registry, "engine.escaped", state.RegionSet{})
	registrar.RegisterTraits(e.registry)
	e.registry.Freeze()
	return e
}

// Reports returns the findings collected so far.
func (e *Explorer) Reports() *report.Set { return e.reports }

// Stats returns the exploration statistics collected so far.
func (e *Explorer) Stats() Stats {
	s := e.stats
	s.ContainedPanics = e.registrar.ContainedPanics()
	return s
}

// Regions exposes the canonical region table, mainly for tests.
func (e *Explorer) Regions() *region.Table { return e.regions }

// Nodes returns every exploded node created so far in creation order. The
// slice is shared; callers must not modify it.
func (e *Explorer) Nodes() []*Node { return e.allNodes }

// Run explores the named function as an analysis entry point until the
// worklist drains or a budget truncates it. Findings accumulate in
// Reports; budget exhaustion is not an error.
func (e *Explorer) Run(name string) error {
	fn := e.prog.Func(name)
	if fn == nil {
		return fmt.Errorf("explore: no function %q in program", name)
	}
	if fn.Entry() == nil {
		return nil
	}

	root := e.internFrame(frameKey{fn: fn}, "", Point{}, cfg.Pos{})
	s := state.New(e.registry)

	// Bind every parameter to the address of a fresh region standing for
	// its pointee; the entry hook sees those regions.
	params := make([]region.ID, len(fn.Params))
	binds := e.bindings.Get(s)
	for i, p := range fn.Params {
		params[i] = e.internObjRegion(root, "param "+p, region.ClassUnknown, fn.Name+"."+p)
		binds = binds.Store(bindKey(root, p), region.PointerTo(params[i]))
	}
	s = e.bindings.Set(s, binds)

	seed := &Node{point: Point{fr: root}}
	frameInfo := &checker.FrameInfo{Func: fn, Depth: 0, ParamRegions: params}
	s = e.registrar.RunFunctionEntry(e.ctx(seed, fn.P), frameInfo, s)
	seed.state = s
	e.addSeed(seed)

	// The step budget is per entry point: aggregate stats keep counting
	// across Run calls, but each function gets the full allowance.
	start := e.stats.Steps
	for len(e.worklist) > 0 {
		if e.opts.Budget.Cancel != nil && e.opts.Budget.Cancel() {
			e.stats.Cancelled += len(e.worklist)
			e.worklist = nil
			break
		}
		if e.opts.Budget.MaxSteps > 0 && e.stats.Steps-start >= e.opts.Budget.MaxSteps {
			e.stats.TruncatedSteps += len(e.worklist)
			e.worklist = nil
			break
		}
		n := e.worklist[0]
		e.worklist = e.worklist[1:]
		e.stats.Steps++
		e.transfer(n)
	}
	return nil
}

func (e *Explorer) addSeed(n *Node) {
	key := nodeKey{point: n.point, fp: n.state.Fingerprint()}
	e.nodes[key] = append(e.nodes[key], n)
	e.allNodes = append(e.allNodes, n)
	e.stats.Nodes++
	e.worklist = append(e.worklist, n)
}

// succeed creates (or links to) the node (point, s) as a successor of n.
func (e *Explorer) succeed(n *Node, point Point, s *state.State) {
	key := nodeKey{point: point, fp: s.Fingerprint()}
	for _, existing := range e.nodes[key] {
		if existing.point == point && existing.state.Equal(s) {
			link(n, existing)
			e.stats.DedupHits++
			return
		}
	}
	next := &Node{point: point, state: s}
	e.nodes[key] = append(e.nodes[key], next)
	e.allNodes = append(e.allNodes, next)
	e.stats.Nodes++
	link(n, next)
	e.worklist = append(e.worklist, next)
}

func (e *Explorer) transfer(n *Node) {
	block := n.point.fr.fn.Blocks[n.point.block]
	if n.point.index < len(block.Stmts) {
		e.execStmt(n, block.Stmts[n.point.index])
		return
	}
	e.execTerminator(n, block)
}

func (e *Explorer) execStmt(n *Node, stmt cfg.Stmt) {
	switch st := stmt.(type) {
	case *cfg.Assign:
		if call, ok := st.RHS.(*cfg.Call); ok {
			e.execCall(n, call, st.Name, st.P)
			return
		}
		v, s := e.eval(n, n.state, st.RHS)
		s = e.bind(s, n.point.fr, st.Name, v)
		e.succeed(n, n.point.advance(), s)

	case *cfg.Store:
		v, s := e.eval(n, n.state, st.Value)
		_ = v // stores are not tracked per-region beyond the access hook
		target, s := e.eval(n, s, st.Target)
		if r := e.refRegion(target); r.Valid() {
			e.registrar.RunMemoryAccess(e.ctx(n, st.P), &checker.Access{
				Region: r,
				Kind:   checker.AccessStore,
				Pos:    st.P,
			}, s)
		}
		e.succeed(n, n.point.advance(), s)

	case *cfg.Eval:
		if call, ok := st.X.(*cfg.Call); ok {
			e.execCall(n, call, "", st.P)
			return
		}
		_, s := e.eval(n, n.state, st.X)
		e.succeed(n, n.point.advance(), s)

	case *cfg.Ret:
		e.execReturn(n, st)

	default:
		panic(fmt.Sprintf("explore: unknown statement %T", stmt))
	}
}

func (e *Explorer) execReturn(n *Node, ret *cfg.Ret) {
	fr := n.point.fr
	var v region.Value
	s := n.state
	if ret.Value != nil {
		v, s = e.eval(n, s, ret.Value)
	}
	if fr.parent == nil {
		// Analysis entry function: the path ends here.
		return
	}
	// Pop the frame: discard callee bindings, deliver the return value to
	// the caller, resume at the continuation point.
	binds := e.bindings.Get(s).DropPrefix(framePrefix(fr))
	if fr.retName != "" {
		binds = binds.Store(bindKey(fr.parent, fr.retName), v)
	}
	s = e.bindings.Set(s, binds)
	e.succeed(n, fr.retTo, s)
}

func (e *Explorer) execTerminator(n *Node, block *cfg.Block) {
	if block.Cond == nil {
		// Unconditional edge or function exit; a block without statements
		// and successors is terminal.
		for _, succ := range block.Succs {
			e.succeed(n, n.point.blockEntry(succ), n.state)
		}
		if len(block.Succs) == 0 && n.point.fr.parent != nil {
			// Falling off the end of an inlined callee returns no value.
			e.execReturn(n, &cfg.Ret{})
		}
		return
	}

	// Strip negations so "!x" branches swap outcomes instead of conjuring
	// an opaque symbol.
	cond, negated := block.Cond, false
	for {
		not, ok := cond.(*cfg.Not)
		if !ok {
			break
		}
		cond = not.X
		negated = !negated
	}

	v, s := e.eval(n, n.state, cond)
	trueB, falseB := block.Succs[0], block.Succs[1]
	if negated {
		trueB, falseB = falseB, trueB
	}

	switch v.Kind {
	case region.ValueInt:
		// Concrete condition: single successor, nothing pruned.
		if v.Int != 0 {
			e.succeed(n, n.point.blockEntry(trueB), s)
		} else {
			e.succeed(n, n.point.blockEntry(falseB), s)
		}
	case region.ValuePointer:
		// Addresses are concretely non-null.
		e.succeed(n, n.point.blockEntry(trueB), s)
	case region.ValueSymbol:
		as := e.assumes.Get(s)
		if known, ok := as.Lookup(v.Sym); ok {
			// The other outcome contradicts the path constraints.
			e.stats.InfeasiblePruned++
			if known {
				e.succeed(n, n.point.blockEntry(trueB), s)
			} else {
				e.succeed(n, n.point.blockEntry(falseB), s)
			}
			return
		}
		onTrue, _ := as.Assume(v.Sym, true)
		onFalse, _ := as.Assume(v.Sym, false)
		e.succeed(n, n.point.blockEntry(trueB), e.assumes.Set(s, onTrue))
		e.succeed(n, n.point.blockEntry(falseB), e.assumes.Set(s, onFalse))
	default:
		// Unknown condition value: both outcomes feasible, no constraint
		// to record.
		e.succeed(n, n.point.blockEntry(trueB), s)
		e.succeed(n, n.point.blockEntry(falseB), s)
	}
}

// execCall handles a statement-level call: inline it when the body is in
// the program and the depth budget permits, otherwise apply opaque-call
// semantics.
func (e *Explorer) execCall(n *Node, call *cfg.Call, assignTo string, pos cfg.Pos) {
	fr := n.point.fr
	s := n.state
	args := make([]region.Value, len(call.Args))
	for i, a := range call.Args {
		args[i], s = e.eval(n, s, a)
	}

	callee := e.prog.Func(call.Callee)
	maxDepth := e.opts.Budget.MaxCallDepth
	inlinable := callee != nil && callee.Entry() != nil &&
		len(callee.Params) == len(call.Args) &&
		(maxDepth == 0 || fr.depth+1 <= maxDepth)

	if !inlinable {
		v, s := e.applyOpaqueCall(n, s, call, args, pos)
		if assignTo != "" {
			s = e.bind(s, fr, assignTo, v)
		}
		e.succeed(n, n.point.advance(), s)
		return
	}

	e.stats.InlinedCalls++
	key := frameKey{parent: fr, fn: callee, block: n.point.block, index: n.point.index}
	cf := e.internFrame(key, assignTo, n.point.advance(), pos)

	binds := e.bindings.Get(s)
	params := make([]region.ID, len(callee.Params))
	for i, p := range callee.Params {
		binds = binds.Store(bindKey(cf, p), args[i])
		params[i] = e.refRegion(args[i])
	}
	s = e.bindings.Set(s, binds)

	entry := Point{fr: cf}
	frameInfo := &checker.FrameInfo{Func: callee, Depth: cf.depth, ParamRegions: params}
	s = e.registrar.RunFunctionEntry(e.ctx(n, callee.P), frameInfo, s)
	e.succeed(n, entry, s)
}

// applyOpaqueCall models a call whose body is not explored: conjure a
// return symbol with a per-site pointee region, conservatively escape the
// regions reachable from pointer arguments unless a checker evaluates the
// call or it is pass-through listed, then dispatch the post-call hook.
func (e *Explorer) applyOpaqueCall(n *Node, s *state.State, call *cfg.Call, args []region.Value, pos cfg.Pos) (region.Value, *state.State) {
	e.stats.OpaqueCalls++
	fr := n.point.fr

	evaluated := e.registrar.Evaluates(call.Callee, len(call.Args))
	if _, ok := e.passThrough[call.Callee]; ok {
		evaluated = true
	}

	site := objKey{frameID: fr.id, name: fmt.Sprintf("%d.%d %s", n.point.block, n.point.index, call.Callee)}
	sym, ok := e.siteSyms[site]
	if !ok {
		sym = e.regions.NewSymbol()
		e.siteSyms[site] = sym
		e.symPointee[sym] = e.regions.New(region.ClassUnknown, "ret:"+call.Callee)
	}
	retRegion := e.symPointee[sym]

	argRegions := make([]region.ID, len(args))
	for i, a := range args {
		argRegions[i] = e.refRegion(a)
	}
	if !evaluated {
		esc := e.escaped.Get(s)
		for _, r := range argRegions {
			if r.Valid() {
				esc = esc.Insert(e.regions.Base(r))
			}
		}
		s = e.escaped.Set(s, esc)
	}

	info := &checker.CallInfo{
		Callee:       call.Callee,
		Arity:        len(call.Args),
		Pos:          pos,
		ArgValues:    args,
		ArgRegions:   argRegions,
		ReturnRegion: retRegion,
		Opaque:       true,
		Evaluated:    evaluated,
	}
	s = e.registrar.RunPostCall(e.ctx(n, pos), info, s)
	return region.SymbolValue(sym), s
}

// eval computes the abstract value of an expression, dispatching memory
// access hooks for loads. Calls in nested expression position are never
// inlined; they get opaque semantics.
func (e *Explorer) eval(n *Node, s *state.State, expr cfg.Expr) (region.Value, *state.State) {
	fr := n.point.fr
	switch x := expr.(type) {
	case *cfg.IntLit:
		return region.IntValue(x.Value), s

	case *cfg.StrLit:
		return region.PointerTo(e.strRegion(x.Value)), s

	case *cfg.Var:
		if v, ok := e.bindings.Get(s).Load(bindKey(fr, x.Name)); ok {
			return v, s
		}
		// Unbound read: a stable per-(frame, name) symbol, no state change.
		return region.SymbolValue(e.varSym(fr, x.Name)), s

	case *cfg.AddrOf:
		return region.PointerTo(e.declRegion(fr, x.Name)), s

	case *cfg.Deref:
		v, s := e.eval(n, s, x.X)
		r := e.refRegion(v)
		if r.Valid() {
			e.registrar.RunMemoryAccess(e.ctx(n, x.P), &checker.Access{
				Region: r,
				Kind:   checker.AccessLoad,
				Pos:    x.P,
			}, s)
		}
		return region.SymbolValue(e.loadSym(r)), s

	case *cfg.Not:
		v, s := e.eval(n, s, x.X)
		switch v.Kind {
		case region.ValueInt:
			if v.Int == 0 {
				return region.IntValue(1), s
			}
			return region.IntValue(0), s
		case region.ValueSymbol:
			return region.SymbolValue(e.notSym(v.Sym)), s
		case region.ValuePointer:
			return region.IntValue(0), s
		}
		return v, s

	case *cfg.Call:
		args := make([]region.Value, len(x.Args))
		for i, a := range x.Args {
			args[i], s = e.eval(n, s, a)
		}
		return e.applyOpaqueCall(n, s, x, args, x.P)

	default:
		panic(fmt.Sprintf("explore: unknown expression %T", expr))
	}
}

// refRegion resolves a value to the region it refers to: the pointee for
// addresses, the symbol's conjured pointee for symbols, none for integers.
func (e *Explorer) refRegion(v region.Value) region.ID {
	switch v.Kind {
	case region.ValuePointer:
		return v.Region
	case region.ValueSymbol:
		if r, ok := e.symPointee[v.Sym]; ok {
			return r
		}
	}
	return region.None
}

func framePrefix(fr *frame) string { return fmt.Sprintf("%d:", fr.id) }

func bindKey(fr *frame, name string) string { return fmt.Sprintf("%d:%s", fr.id, name) }

func (e *Explorer) bind(s *state.State, fr *frame, name string, v region.Value) *state.State {
	return e.bindings.Set(s, e.bindings.Get(s).Store(bindKey(fr, name), v))
}

func (e *Explorer) internFrame(key frameKey, retName string, retTo Point, callPos cfg.Pos) *frame {
	if fr, ok := e.frames[key]; ok {
		return fr
	}
	fr := &frame{
		id:      e.frameSeq,
		fn:      key.fn,
		parent:  key.parent,
		retName: retName,
		retTo:   retTo,
		callPos: callPos,
	}
	if key.parent != nil {
		fr.depth = key.parent.depth + 1
	}
	e.frameSeq++
	e.frames[key] = fr
	return fr
}

// internObjRegion creates at most one region per (frame, key) so that the
// same object reached along different paths has one identity.
func (e *Explorer) internObjRegion(fr *frame, key string, class region.Class, name string) region.ID {
	k := objKey{frameID: fr.id, name: key}
	if r, ok := e.objRegions[k]; ok {
		return r
	}
	r := e.regions.New(class, name)
	e.objRegions[k] = r
	return r
}

// declRegion resolves &name against the frame's function: declared objects
// get their declared storage class, parameters are automatic, anything else
// is unknown.
func (e *Explorer) declRegion(fr *frame, name string) region.ID {
	class := region.ClassUnknown
	if d, ok := fr.fn.Decl(name); ok {
		switch d.Storage {
		case cfg.StorageAuto:
			class = region.ClassAuto
		case cfg.StorageStatic:
			class = region.ClassStatic
		case cfg.StorageHeap:
			class = region.ClassHeap
		}
	} else {
		for _, p := range fr.fn.Params {
			if p == name {
				class = region.ClassAuto
				break
			}
		}
	}
	return e.internObjRegion(fr, "obj "+name, class, fr.fn.Name+"."+name)
}

func (e *Explorer) strRegion(lit string) region.ID {
	if r, ok := e.strRegions[lit]; ok {
		return r
	}
	r := e.regions.New(region.ClassStatic, fmt.Sprintf("%q", lit))
	e.strRegions[lit] = r
	return r
}

// loadSym returns the stable symbol for values loaded from r; its pointee
// is a subregion of r so rules can resolve derived regions back to their
// base.
func (e *Explorer) loadSym(r region.ID) region.Symbol {
	if sym, ok := e.loadSyms[r]; ok {
		return sym
	}
	sym := e.regions.NewSymbol()
	e.loadSyms[r] = sym
	if r.Valid() {
		e.symPointee[sym] = e.regions.NewSub(r, "*"+e.regions.Name(r))
		e.symParent[sym] = r
	}
	return sym
}

func (e *Explorer) notSym(sym region.Symbol) region.Symbol {
	if ns, ok := e.notSyms[sym]; ok {
		return ns
	}
	ns := e.regions.NewSymbol()
	e.notSyms[sym] = ns
	return ns
}

func (e *Explorer) varSym(fr *frame, name string) region.Symbol {
	k := objKey{frameID: fr.id, name: "var " + name}
	if sym, ok := e.siteSyms[k]; ok {
		return sym
	}
	sym := e.regions.NewSymbol()
	e.siteSyms[k] = sym
	return sym
}

// ctx builds the hook context for the node being processed. Reports are
// submitted with a path trace derived from the node's frame chain; nodes on
// the worklist are reachable and feasible by construction, which is what
// makes submissions surfacable.
func (e *Explorer) ctx(n *Node, pos cfg.Pos) *checker.Context {
	return checker.NewContext(e.regions, pos, func(kind, message string, at cfg.Pos) {
		e.reports.Submit(report.Report{
			Kind:    kind,
			Message: message,
			Pos:     at,
			Path:    e.trace(n.point.fr, at, message),
		})
	})
}

// trace renders the frame chain as an ordered path explanation.
func (e *Explorer) trace(fr *frame, at cfg.Pos, message string) []report.PathStep {
	var frames []*frame
	for f := fr; f != nil; f = f.parent {
		frames = append(frames, f)
	}
	steps := make([]report.PathStep, 0, len(frames)+1)
	for i := len(frames) - 1; i >= 0; i-- {
		f := frames[i]
		if f.parent == nil {
			steps = append(steps, report.PathStep{
				Pos:  f.fn.P,
				Note: fmt.Sprintf("entering %q", f.fn.Name),
			})
			continue
		}
		steps = append(steps, report.PathStep{
			Pos:  f.callPos,
			Note: fmt.Sprintf("inlined call to %q", f.fn.Name),
		})
	}
	return append(steps, report.PathStep{Pos: at, Note: message})
}
