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

// Package rules hosts the built-in checkers: misuse of the process
// environment through stack-allocated putenv buffers, stale environment
// table pointers, and overwritten return values of non-reentrant library
// calls. Each rule is an independent module over the dispatch hooks; the
// rules share no traits and can be enabled in any combination.
package rules

import "github.com/pathsense/pathsense/checker"

// Names returns the built-in checker names in their fixed registration
// order.
func Names() []string {
	return []string{PutenvStackArrayName, InvalidatedEnvPointerName, StaleLibraryReturnName}
}

// New constructs a fresh instance of the named built-in checker. Checker
// instances hold trait handles bound to one engine, so they are never
// shared across engines.
func New(name string) (checker.Checker, bool) {
	switch name {
	case PutenvStackArrayName:
		return PutenvStackArray(), true
	case InvalidatedEnvPointerName:
		return InvalidatedEnvPointer(), true
	case StaleLibraryReturnName:
		return StaleLibraryReturn(), true
	}
	return nil, false
}

// All constructs fresh instances of every built-in checker.
func All() []checker.Checker {
	names := Names()
	out := make([]checker.Checker, 0, len(names))
	for _, n := range names {
		c, _ := New(n)
		out = append(out, c)
	}
	return out
}
