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

// Package pathsensetest implements utility functions for tests: loading
// txtar fixtures that pair a textual CFG with its expected findings, and
// comparing engine output against them.
package pathsensetest

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pathsense/pathsense/cfg"
	"github.com/pathsense/pathsense/report"
	"github.com/stretchr/testify/require"
	"golang.org/x/tools/txtar"
)

// Finding is the (kind, location) projection of a report that fixtures
// assert on.
type Finding struct {
	Kind string
	File string
	Line int
}

func (f Finding) String() string {
	return fmt.Sprintf("%s %s:%d", f.Kind, f.File, f.Line)
}

// LoadFixture reads a txtar fixture: every ".cfg" file becomes part of the
// program, and the optional "expect" file lists one expected finding per
// line in the form "kind file:line". Blank lines and "#" comments are
// allowed.
func LoadFixture(t *testing.T, path string) (*cfg.Program, []Finding) {
	t.Helper()

	ar, err := txtar.ParseFile(path)
	require.NoError(t, err)

	prog, err := cfg.ParseArchive(ar)
	require.NoError(t, err)

	var expected []Finding
	for _, f := range ar.Files {
		if f.Name != "expect" {
			continue
		}
		for i, line := range strings.Split(string(f.Data), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			finding, err := parseFinding(line)
			require.NoErrorf(t, err, "%s: expect line %d", path, i+1)
			expected = append(expected, finding)
		}
	}
	return prog, expected
}

func parseFinding(line string) (Finding, error) {
	kind, loc, ok := strings.Cut(line, " ")
	if !ok {
		return Finding{}, fmt.Errorf("malformed expectation %q", line)
	}
	file, lineno, ok := strings.Cut(strings.TrimSpace(loc), ":")
	if !ok {
		return Finding{}, fmt.Errorf("malformed location in %q", line)
	}
	n, err := strconv.Atoi(lineno)
	if err != nil {
		return Finding{}, fmt.Errorf("malformed line number in %q", line)
	}
	return Finding{Kind: kind, File: file, Line: n}, nil
}

// Findings projects a report set onto the (kind, location) triples the
// fixtures assert on, in the renderer's sorted order.
func Findings(set *report.Set) []Finding {
	out := make([]Finding, 0, set.Len())
	for _, r := range set.Sorted() {
		out = append(out, Finding{Kind: r.Kind, File: r.Pos.File, Line: r.Pos.Line})
	}
	return out
}

// RequireFindings fails the test unless the set's findings match expected
// exactly (order-insensitive; both sides are sorted before diffing).
func RequireFindings(t *testing.T, set *report.Set, expected []Finding) {
	t.Helper()

	sort := func(fs []Finding) []Finding {
		out := append([]Finding(nil), fs...)
		slices.SortFunc(out, func(a, b Finding) int {
			return strings.Compare(a.String(), b.String())
		})
		return out
	}
	if diff := cmp.Diff(sort(expected), sort(Findings(set))); diff != "" {
		t.Fatalf("findings mismatch (-want +got):\n%s", diff)
	}
}
