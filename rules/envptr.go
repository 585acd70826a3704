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

package rules

import (
	"fmt"

	"github.com/pathsense/pathsense/checker"
	"github.com/pathsense/pathsense/state"
)

// InvalidatedEnvPointerName identifies the stale-environment-table rule and
// its reports.
const InvalidatedEnvPointerName = "invalidated-env-pointer"

// invalidatedEnvPointer tracks the environment-table pointer passed to the
// three-parameter program entry point. Environment mutations may reallocate
// the table, so after any of them the saved pointer is stale: dereferencing
// it, or handing it to an opaque call, is flagged.
type invalidatedEnvPointer struct {
	environ     state.Trait[state.Region]
	invalidated state.Trait[state.RegionSet]
	mutators    checker.CallSet
}

// InvalidatedEnvPointer returns a fresh instance of the rule.
func InvalidatedEnvPointer() checker.Checker {
	return &invalidatedEnvPointer{
		mutators: checker.NewCallSet(
			checker.CallKey{Name: "putenv", Arity: 1},
			checker.CallKey{Name: "setenv", Arity: 3},
			checker.CallKey{Name: "unsetenv", Arity: 1},
			checker.CallKey{Name: "clearenv", Arity: 0},
		),
	}
}

// Name implements checker.Checker.
func (c *invalidatedEnvPointer) Name() string { return InvalidatedEnvPointerName }

// Hooks implements checker.Checker.
func (c *invalidatedEnvPointer) Hooks() []checker.Hook {
	return []checker.Hook{checker.HookFunctionEntry, checker.HookPostCall, checker.HookMemoryAccess}
}

// Register implements checker.Checker.
func (c *invalidatedEnvPointer) Register(reg *state.Registry) {
	c.environ = state.Declare(reg, "envptr.environ", state.NoRegion)
	c.invalidated = state.Declare(reg, "envptr.invalidated", state.RegionSet{})
}

// EvaluatesCall implements checker.CallEvaluator: the mutator table gives
// those calls precise effects, so the engine's conservative argument escape
// is unnecessary for them.
func (c *invalidatedEnvPointer) EvaluatesCall(name string, arity int) bool {
	return c.mutators.Matches(name, arity)
}

// OnFunctionEntry implements checker.EntryChecker: remember the region of
// the environment table handed to the designated program entry.
func (c *invalidatedEnvPointer) OnFunctionEntry(_ *checker.Context, frame *checker.FrameInfo, s *state.State) *state.State {
	if frame.Depth != 0 || frame.Func.Name != "main" || len(frame.ParamRegions) != 3 {
		return s
	}
	if env := frame.ParamRegions[2]; env.Valid() {
		s = c.environ.Set(s, state.Region(env))
	}
	return s
}

// OnPostCall implements checker.PostCallChecker: a matched mutator moves
// the recorded table region into the invalidated set; any other opaque call
// receiving an invalidated pointer is itself a use.
func (c *invalidatedEnvPointer) OnPostCall(ctx *checker.Context, call *checker.CallInfo, s *state.State) *state.State {
	if c.mutators.Matches(call.Callee, call.Arity) {
		env := c.environ.Get(s)
		if env.Valid() {
			s = c.invalidated.Set(s, c.invalidated.Get(s).Insert(env.ID()))
		}
		return s
	}
	if call.Opaque && !call.Evaluated {
		set := c.invalidated.Get(s)
		for i, r := range call.ArgRegions {
			if r.Valid() && ctx.InSet(set, r) {
				ctx.Report(InvalidatedEnvPointerName, fmt.Sprintf(
					"environment pointer invalidated by an environment mutation is passed as argument %d in call to %q",
					i+1, call.Callee))
			}
		}
	}
	return s
}

// OnMemoryAccess implements checker.AccessChecker.
func (c *invalidatedEnvPointer) OnMemoryAccess(ctx *checker.Context, access *checker.Access, s *state.State) {
	if ctx.InSet(c.invalidated.Get(s), access.Region) {
		ctx.ReportAt(access.Pos, InvalidatedEnvPointerName, fmt.Sprintf(
			"%s through an environment pointer that a preceding environment mutation invalidated",
			access.Kind))
	}
}
