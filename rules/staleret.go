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
	"strings"

	"github.com/pathsense/pathsense/checker"
	"github.com/pathsense/pathsense/state"
)

// StaleLibraryReturnName identifies the non-reentrant-return rule and its
// reports.
const StaleLibraryReturnName = "stale-library-return"

// staleLibraryReturn tracks, per non-reentrant library function, the region
// of its most recent return value. A later call to the same function
// overwrites the shared backing storage, so the previously returned pointer
// goes stale. Extending coverage to another non-reentrant function is one
// more table entry.
type staleLibraryReturn struct {
	latest      state.Trait[state.NameMap]
	invalidated state.Trait[state.RegionSet]
	calls       checker.CallSet
}

// StaleLibraryReturn returns a fresh instance of the rule.
func StaleLibraryReturn() checker.Checker {
	return &staleLibraryReturn{
		calls: checker.NewCallSet(
			checker.CallKey{Name: "getenv", Arity: 1},
			checker.CallKey{Name: "setlocale", Arity: 2},
			checker.CallKey{Name: "strerror", Arity: 1},
			checker.CallKey{Name: "localeconv", Arity: 0},
			checker.CallKey{Name: "asctime", Arity: 1},
		),
	}
}

// Name implements checker.Checker.
func (c *staleLibraryReturn) Name() string { return StaleLibraryReturnName }

// Hooks implements checker.Checker.
func (c *staleLibraryReturn) Hooks() []checker.Hook {
	return []checker.Hook{checker.HookPostCall, checker.HookMemoryAccess}
}

// Register implements checker.Checker.
func (c *staleLibraryReturn) Register(reg *state.Registry) {
	c.latest = state.Declare(reg, "staleret.latest", state.NameMap{})
	c.invalidated = state.Declare(reg, "staleret.invalidated", state.RegionSet{})
}

// EvaluatesCall implements checker.CallEvaluator: tabled calls only read
// their arguments, so conservative argument escape is skipped for them.
func (c *staleLibraryReturn) EvaluatesCall(name string, arity int) bool {
	return c.calls.Matches(name, arity)
}

// OnPostCall implements checker.PostCallChecker: retire the previous return
// region of the matched function into the invalidated set and record the
// new one.
func (c *staleLibraryReturn) OnPostCall(_ *checker.Context, call *checker.CallInfo, s *state.State) *state.State {
	if !c.calls.Matches(call.Callee, call.Arity) {
		return s
	}
	m := c.latest.Get(s)
	if prev, ok := m.Load(call.Callee); ok && prev != call.ReturnRegion {
		s = c.invalidated.Set(s, c.invalidated.Get(s).Insert(prev))
	}
	if call.ReturnRegion.Valid() {
		s = c.latest.Set(s, m.Store(call.Callee, call.ReturnRegion))
	}
	return s
}

// OnMemoryAccess implements checker.AccessChecker.
func (c *staleLibraryReturn) OnMemoryAccess(ctx *checker.Context, access *checker.Access, s *state.State) {
	stale := ctx.Member(c.invalidated.Get(s), access.Region)
	if !stale.Valid() {
		return
	}
	fn := strings.TrimPrefix(ctx.Regions.Name(stale), "ret:")
	ctx.ReportAt(access.Pos, StaleLibraryReturnName, fmt.Sprintf(
		"%s through the result of a prior %q call; a subsequent call overwrote its backing storage",
		access.Kind, fn))
}
