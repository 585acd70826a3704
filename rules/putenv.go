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
	"github.com/pathsense/pathsense/region"
	"github.com/pathsense/pathsense/state"
)

// PutenvStackArrayName identifies the stack-escape rule and its reports.
const PutenvStackArrayName = "putenv-stack-array"

// putenvStackArray flags calls that install a stack-allocated buffer into
// the process environment. putenv does not copy its argument, so the
// environment keeps pointing at the buffer after the enclosing function
// returns. The rule is purely local to one call site and keeps no state.
type putenvStackArray struct {
	calls checker.CallSet
}

// PutenvStackArray returns a fresh instance of the stack-escape rule.
func PutenvStackArray() checker.Checker {
	return &putenvStackArray{
		calls: checker.NewCallSet(checker.CallKey{Name: "putenv", Arity: 1}),
	}
}

// Name implements checker.Checker.
func (c *putenvStackArray) Name() string { return PutenvStackArrayName }

// Hooks implements checker.Checker.
func (c *putenvStackArray) Hooks() []checker.Hook {
	return []checker.Hook{checker.HookPostCall}
}

// Register implements checker.Checker; the rule declares no traits.
func (c *putenvStackArray) Register(*state.Registry) {}

// OnPostCall implements checker.PostCallChecker.
func (c *putenvStackArray) OnPostCall(ctx *checker.Context, call *checker.CallInfo, s *state.State) *state.State {
	if !c.calls.Matches(call.Callee, call.Arity) {
		return s
	}
	r := call.ArgRegions[0]
	if !r.Valid() {
		return s
	}
	base := ctx.Regions.Base(r)
	if ctx.Regions.Class(base) == region.ClassAuto {
		ctx.Report(PutenvStackArrayName, fmt.Sprintf(
			"automatic-storage buffer `%s` is passed to %q, which keeps the pointer in the process environment after the buffer is gone",
			ctx.Regions.Name(base), call.Callee))
	}
	return s
}
