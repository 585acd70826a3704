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

package explore_test

import (
	"fmt"
	"testing"

	"github.com/pathsense/pathsense/cfg"
	"github.com/pathsense/pathsense/checker"
	"github.com/pathsense/pathsense/explore"
	"github.com/pathsense/pathsense/region"
	"github.com/pathsense/pathsense/state"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// recorder observes hook dispatch without transforming state.
type recorder struct {
	evals checker.CallSet

	entries  []string // "func@depth"
	calls    []string // callee names, possibly repeated across paths
	badged   map[string]bool
	accesses []string // "kind name"
}

func newRecorder() *recorder { return &recorder{badged: make(map[string]bool)} }

func (r *recorder) Name() string { return "recorder" }
func (r *recorder) Hooks() []checker.Hook {
	return []checker.Hook{checker.HookFunctionEntry, checker.HookPostCall, checker.HookMemoryAccess}
}
func (r *recorder) Register(*state.Registry) {}

func (r *recorder) EvaluatesCall(name string, arity int) bool { return r.evals.Matches(name, arity) }

func (r *recorder) OnFunctionEntry(_ *checker.Context, fr *checker.FrameInfo, s *state.State) *state.State {
	r.entries = append(r.entries, fmt.Sprintf("%s@%d", fr.Func.Name, fr.Depth))
	return s
}

func (r *recorder) OnPostCall(_ *checker.Context, call *checker.CallInfo, s *state.State) *state.State {
	r.calls = append(r.calls, call.Callee)
	r.badged[call.Callee] = call.Evaluated
	return s
}

func (r *recorder) OnMemoryAccess(ctx *checker.Context, access *checker.Access, _ *state.State) {
	r.accesses = append(r.accesses, access.Kind.String()+" "+ctx.Regions.Name(access.Region))
}

func parse(t *testing.T, src string) *cfg.Program {
	t.Helper()
	prog, err := cfg.Parse("test.cfg", []byte(src))
	require.NoError(t, err)
	return prog
}

func run(t *testing.T, src string, rec *recorder, opts explore.Options) *explore.Explorer {
	t.Helper()
	reg := checker.NewRegistrar()
	if rec != nil {
		reg.Add(rec)
	}
	e := explore.New(parse(t, src), reg, opts)
	require.NoError(t, e.Run("main"))
	return e
}

func TestStraightLine(t *testing.T) {
	t.Parallel()

	rec := newRecorder()
	e := run(t, `func main(argc, argv, envp) {
b0:
  x = 1
  y = x
  return
}
`, rec, explore.Options{})

	st := e.Stats()
	require.Greater(t, st.Steps, 0)
	require.Greater(t, st.Nodes, 0)
	require.Equal(t, []string{"main@0"}, rec.entries)
	require.Equal(t, 0, st.TruncatedSteps)
	require.Equal(t, 0, e.Reports().Len())
}

func TestGraphLinks(t *testing.T) {
	t.Parallel()

	e := run(t, `func main() {
b0:
  x = 1
  return
}
`, nil, explore.Options{})

	nodes := e.Nodes()
	require.Equal(t, e.Stats().Nodes, len(nodes))

	seed := nodes[0]
	require.Empty(t, seed.Preds())
	require.Equal(t, "main", seed.Point().Func().Name)
	require.Equal(t, 0, seed.Point().Depth())
	require.NotNil(t, seed.State())

	// A straight-line function explodes into a chain ending at the return.
	last := nodes[len(nodes)-1]
	require.True(t, last.Terminal())
	require.NotEmpty(t, last.Preds())
	for _, n := range nodes[:len(nodes)-1] {
		require.Len(t, n.Succs(), 1)
	}
}

func TestRunUnknownFunction(t *testing.T) {
	t.Parallel()

	e := explore.New(parse(t, "func f() {\nb0:\n  return\n}\n"), checker.NewRegistrar(), explore.Options{})
	require.Error(t, e.Run("missing"))
}

func TestBranchForksBothOutcomes(t *testing.T) {
	t.Parallel()

	rec := newRecorder()
	run(t, `func main() {
b0:
  if c goto a else b
a:
  left()
  return
b:
  right()
  return
}
`, rec, explore.Options{})

	require.Contains(t, rec.calls, "left")
	require.Contains(t, rec.calls, "right")
}

func TestConcreteConditionTakesOneBranch(t *testing.T) {
	t.Parallel()

	rec := newRecorder()
	run(t, `func main() {
b0:
  x = 0
  if x goto a else b
a:
  left()
  return
b:
  right()
  return
}
`, rec, explore.Options{})

	require.NotContains(t, rec.calls, "left")
	require.Contains(t, rec.calls, "right")
}

func TestNegatedConditionSwapsBranches(t *testing.T) {
	t.Parallel()

	rec := newRecorder()
	run(t, `func main() {
b0:
  x = 1
  if !x goto a else b
a:
  left()
  return
b:
  right()
  return
}
`, rec, explore.Options{})

	require.NotContains(t, rec.calls, "left")
	require.Contains(t, rec.calls, "right")
}

func TestContradictingOutcomesArePruned(t *testing.T) {
	t.Parallel()

	rec := newRecorder()
	e := run(t, `func main() {
b0:
  if c goto a else join
a:
  taken()
  goto join
join:
  if c goto b else done
b:
  second()
  goto done
done:
  return
}
`, rec, explore.Options{})

	// Both branch bodies execute, but only on the paths consistent with the
	// assumption recorded at the first branch: two outcomes are pruned at
	// the second.
	require.Contains(t, rec.calls, "taken")
	require.Contains(t, rec.calls, "second")
	require.Equal(t, 2, e.Stats().InfeasiblePruned)
}

func TestLoopConvergesByDedup(t *testing.T) {
	t.Parallel()

	rec := newRecorder()
	rec.evals = checker.NewCallSet(checker.CallKey{Name: "getenv", Arity: 1})
	e := run(t, `func main() {
b0:
  i = 0
  goto head
head:
  if c goto body else done
body:
  x = getenv("PATH")
  goto head
done:
  return
}
`, rec, explore.Options{})

	st := e.Stats()
	require.Greater(t, st.DedupHits, 0, "the loop back edge must hit an existing node")
	require.Less(t, st.Steps, 50, "exploration must converge, not iterate")
}

func TestCallInliningDeliversReturnValue(t *testing.T) {
	t.Parallel()

	rec := newRecorder()
	e := run(t, `func helper(n) {
b0:
  return 42
}

func main() {
b0:
  x = helper(7)
  if x goto t else f
t:
  yes()
  return
f:
  no()
  return
}
`, rec, explore.Options{})

	require.Equal(t, 1, e.Stats().InlinedCalls)
	require.Equal(t, []string{"main@0", "helper@1"}, rec.entries)
	require.Contains(t, rec.calls, "yes", "the concrete return value decides the branch")
	require.NotContains(t, rec.calls, "no")
	require.NotContains(t, rec.calls, "helper", "inlined calls take no post-call hook")
}

func TestCallDepthBudget(t *testing.T) {
	t.Parallel()

	rec := newRecorder()
	e := run(t, `func main() {
b0:
  main()
  return
}
`, rec, explore.Options{Budget: explore.Budget{MaxCallDepth: 2}})

	st := e.Stats()
	require.Equal(t, 2, st.InlinedCalls)
	require.Greater(t, st.OpaqueCalls, 0, "recursion beyond the depth budget goes opaque")
	require.Contains(t, rec.entries, "main@2")
	require.NotContains(t, rec.entries, "main@3")
}

func TestMaxStepsTruncates(t *testing.T) {
	t.Parallel()

	e := run(t, `func main() {
b0:
  a = 1
  b = 2
  c = 3
  d = 4
  e = 5
  return
}
`, nil, explore.Options{Budget: explore.Budget{MaxSteps: 3}})

	st := e.Stats()
	require.Equal(t, 3, st.Steps)
	require.Greater(t, st.TruncatedSteps, 0)
}

func TestStepBudgetIsPerEntryPoint(t *testing.T) {
	t.Parallel()

	// alpha needs 8 pops and main needs 2; each fits MaxSteps on its own,
	// and an earlier run must not eat a later function's allowance.
	rec := newRecorder()
	reg := checker.NewRegistrar()
	reg.Add(rec)
	e := explore.New(parse(t, `func alpha() {
b0:
  a = 1
  b = 2
  c = 3
  d = 4
  e = 5
  f = 6
  g = 7
  return
}

func main() {
b0:
  mark()
  return
}
`), reg, explore.Options{Budget: explore.Budget{MaxSteps: 8}})
	require.NoError(t, e.Run("alpha"))
	require.NoError(t, e.Run("main"))

	st := e.Stats()
	require.Equal(t, 10, st.Steps)
	require.Equal(t, 0, st.TruncatedSteps)
	require.Contains(t, rec.calls, "mark")
}

func TestProgramFunctionShadowsTable(t *testing.T) {
	t.Parallel()

	// A program-defined body wins over a checker call table: the call is
	// inlined and never reaches the post-call hook.
	rec := newRecorder()
	rec.evals = checker.NewCallSet(checker.CallKey{Name: "getenv", Arity: 1})
	e := run(t, `func getenv(name) {
b0:
  inner()
  return 0
}

func main() {
b0:
  x = getenv("HOME")
  return
}
`, rec, explore.Options{})

	require.Equal(t, 1, e.Stats().InlinedCalls)
	require.NotContains(t, rec.calls, "getenv")
	require.Contains(t, rec.calls, "inner")
}

func TestCancel(t *testing.T) {
	t.Parallel()

	e := run(t, `func main() {
b0:
  x = 1
  return
}
`, nil, explore.Options{Budget: explore.Budget{Cancel: func() bool { return true }}})

	st := e.Stats()
	require.Equal(t, 0, st.Steps)
	require.Greater(t, st.Cancelled, 0)
}

func TestOpaqueCallEvaluatedFlag(t *testing.T) {
	t.Parallel()

	rec := newRecorder()
	rec.evals = checker.NewCallSet(checker.CallKey{Name: "tabled", Arity: 0})
	run(t, `func main() {
b0:
  tabled()
  untabled()
  passed()
  return
}
`, rec, explore.Options{PassThrough: []string{"passed"}})

	require.True(t, rec.badged["tabled"], "a checker table marks the call evaluated")
	require.False(t, rec.badged["untabled"])
	require.True(t, rec.badged["passed"], "the pass-through list marks the call evaluated")
}

func TestArgumentRegionsResolve(t *testing.T) {
	t.Parallel()

	probe := &argProbe{}
	reg := checker.NewRegistrar()
	reg.Add(probe)

	e := explore.New(parse(t, `func main() {
  var buf
b0:
  sink(&buf, 3)
  return
}
`), reg, explore.Options{})
	require.NoError(t, e.Run("main"))

	require.Len(t, probe.regions, 2)
	require.Equal(t, region.ClassAuto, e.Regions().Class(e.Regions().Base(probe.regions[0])))
	require.Equal(t, "main.buf", e.Regions().Name(probe.regions[0]))
	require.False(t, probe.regions[1].Valid(), "integer arguments resolve to no region")
}

// argProbe captures the resolved argument regions of the sink call.
type argProbe struct {
	regions []region.ID
}

func (p *argProbe) Name() string             { return "arg-probe" }
func (p *argProbe) Hooks() []checker.Hook    { return []checker.Hook{checker.HookPostCall} }
func (p *argProbe) Register(*state.Registry) {}

func (p *argProbe) OnPostCall(_ *checker.Context, call *checker.CallInfo, s *state.State) *state.State {
	if call.Callee == "sink" {
		p.regions = call.ArgRegions
	}
	return s
}

func TestMemoryAccessHooks(t *testing.T) {
	t.Parallel()

	rec := newRecorder()
	run(t, `func main(p) {
b0:
  x = *p
  *p = 0
  return
}
`, rec, explore.Options{})

	require.Equal(t, []string{"load main.p", "store main.p"}, rec.accesses)
}

func TestDeterministicAcrossRuns(t *testing.T) {
	t.Parallel()

	src := `func main(argc, argv, envp) {
b0:
  if c goto a else b
a:
  x = getenv("HOME")
  y = *x
  return
b:
  return
}
`
	once := func() (explore.Stats, []string) {
		rec := newRecorder()
		e := run(t, src, rec, explore.Options{})
		var lines []string
		for _, r := range e.Reports().Sorted() {
			lines = append(lines, r.String())
		}
		return e.Stats(), lines
	}

	stats1, reports1 := once()
	stats2, reports2 := once()
	require.Equal(t, stats1, stats2)
	require.Equal(t, reports1, reports2)
}

func TestStatsMerge(t *testing.T) {
	t.Parallel()

	a := explore.Stats{Steps: 1, Nodes: 2, DedupHits: 3, InlinedCalls: 4}
	b := explore.Stats{Steps: 10, Nodes: 20, OpaqueCalls: 5, ContainedPanics: 1}
	a.Merge(b)
	require.Equal(t, 11, a.Steps)
	require.Equal(t, 22, a.Nodes)
	require.Equal(t, 3, a.DedupHits)
	require.Equal(t, 5, a.OpaqueCalls)
	require.Equal(t, 1, a.ContainedPanics)
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
