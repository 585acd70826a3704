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

package config

// This file hosts the built-in default parameters --- the configuration file overrides them per run.

// DefaultMaxSteps is the per-function worklist budget used when the
// configuration does not set one. Node dedup alone guarantees termination
// for finite trait domains, but pathological branch fans can still make a
// single function expensive; the cap turns that into a counted truncation.
// Raising it trades analysis time for fewer false negatives on deeply
// branching functions.
const DefaultMaxSteps = 50_000

// DefaultMaxCallDepth is the default call-inlining depth. Calls beyond this
// depth are treated as opaque, which is sound but loses precision inside
// the callee. Values past ~8 showed no report differences on the fixture
// corpus while growing node counts noticeably.
const DefaultMaxCallDepth = 8
