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

package explore

import (
	"fmt"

	"github.com/pathsense/pathsense/cfg"
	"github.com/pathsense/pathsense/state"
)

// frame is one call context. Frames are interned by (parent, call site,
// callee) so that the same calling context reached along different paths
// yields the same frame, which keeps program points comparable for node
// dedup.
type frame struct {
	id      int
	fn      *cfg.Function
	parent  *frame
	depth   int
	retTo   Point   // caller continuation when this frame returns
	retName string  // caller variable bound to the return value, "" if none
	callPos cfg.Pos // position of the inlined call, for path traces
}

// Point identifies "between statement index-1 and index" of a block within
// one call frame. Points are immutable and comparable; an index equal to
// the block's statement count sits at the block terminator.
type Point struct {
	fr    *frame
	block int
	index int
}

// Func returns the function the point is in.
func (p Point) Func() *cfg.Function { return p.fr.fn }

// Depth returns the call-inlining depth of the point's frame.
func (p Point) Depth() int { return p.fr.depth }

func (p Point) String() string {
	return fmt.Sprintf("%s.%s+%d", p.fr.fn.Name, p.fr.fn.Blocks[p.block].Label, p.index)
}

// advance returns the point after the current statement.
func (p Point) advance() Point {
	return Point{fr: p.fr, block: p.block, index: p.index + 1}
}

// blockEntry returns the point at the start of block b in the same frame.
func (p Point) blockEntry(b *cfg.Block) Point {
	return Point{fr: p.fr, block: b.Index}
}

// Node is one exploded-graph node: a (point, state) pair with predecessor
// and successor links. No two live nodes share an identical pair; the
// explorer links duplicates to the existing node instead.
type Node struct {
	point Point
	state *state.State
	preds []*Node
	succs []*Node
}

// Point returns the node's program point.
func (n *Node) Point() Point { return n.point }

// State returns the node's program state.
func (n *Node) State() *state.State { return n.state }

// Preds returns the predecessor links. The slice is shared; callers must
// not modify it.
func (n *Node) Preds() []*Node { return n.preds }

// Succs returns the successor links. The slice is shared; callers must not
// modify it.
func (n *Node) Succs() []*Node { return n.succs }

// Terminal reports whether exploration ended at this node: function or
// program exit, or a pruned/truncated path.
func (n *Node) Terminal() bool { return len(n.succs) == 0 }

func link(from, to *Node) {
	from.succs = append(from.succs, to)
	to.preds = append(to.preds, from)
}

// Budget bounds one exploration. MaxSteps bounds worklist pops per analyzed
// entry point, so one expensive function cannot starve the rest. Exceeding a
// budget truncates paths without error; the truncation is counted in Stats
// so callers can account for false negatives. A zero field means unbounded;
// Cancel, when non-nil, is polled at every worklist pop.
type Budget struct {
	MaxSteps     int
	MaxCallDepth int
	Cancel       func() bool
}

// Stats describes one exploration, including its lossy approximations.
type Stats struct {
	// Steps is the number of worklist pops.
	Steps int
	// Nodes is the number of distinct exploded nodes created.
	Nodes int
	// DedupHits counts successors that were linked to an existing
	// (point, state) node instead of creating a new one.
	DedupHits int
	// InfeasiblePruned counts branch outcomes dropped because the path
	// constraints already contradicted them.
	InfeasiblePruned int
	// TruncatedSteps counts pending nodes abandoned when the step budget
	// ran out.
	TruncatedSteps int
	// Cancelled counts pending nodes abandoned by the external cancel
	// check.
	Cancelled int
	// InlinedCalls and OpaqueCalls count call handling decisions.
	InlinedCalls int
	OpaqueCalls  int
	// ContainedPanics counts checker hook invocations that panicked and
	// were skipped.
	ContainedPanics int
}

// Merge folds o into s for cross-function aggregation.
func (s *Stats) Merge(o Stats) {
	s.Steps += o.Steps
	s.Nodes += o.Nodes
	s.DedupHits += o.DedupHits
	s.InfeasiblePruned += o.InfeasiblePruned
	s.TruncatedSteps += o.TruncatedSteps
	s.Cancelled += o.Cancelled
	s.InlinedCalls += o.InlinedCalls
	s.OpaqueCalls += o.OpaqueCalls
	s.ContainedPanics += o.ContainedPanics
}
