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

package pathsense_test

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/pathsense/pathsense"
	"github.com/pathsense/pathsense/cfg"
	"github.com/pathsense/pathsense/config"
	"github.com/pathsense/pathsense/pathsensetest"
	"github.com/pathsense/pathsense/rules"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// TestFixtures runs the engine over every testdata fixture and compares the
// findings against the fixture's expect file.
func TestFixtures(t *testing.T) {
	t.Parallel()

	paths, err := filepath.Glob(filepath.Join("testdata", "*.txtar"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(strings.TrimSuffix(filepath.Base(path), ".txtar"), func(t *testing.T) {
			t.Parallel()

			prog, expected := pathsensetest.LoadFixture(t, path)
			set, stats, err := pathsense.Run(prog, nil)
			require.NoError(t, err)
			require.Equal(t, 0, stats.TruncatedSteps, "fixtures must fit the default budget")
			pathsensetest.RequireFindings(t, set, expected)
		})
	}
}

func TestDisabledChecker(t *testing.T) {
	t.Parallel()

	prog, expected := pathsensetest.LoadFixture(t, filepath.Join("testdata", "putenv_stack.txtar"))
	require.NotEmpty(t, expected)

	conf := config.Default()
	conf.Checkers = map[string]bool{rules.PutenvStackArrayName: false}
	set, _, err := pathsense.Run(prog, conf)
	require.NoError(t, err)
	pathsensetest.RequireFindings(t, set, nil)
}

func TestUnknownCheckerRejected(t *testing.T) {
	t.Parallel()

	prog, _ := pathsensetest.LoadFixture(t, filepath.Join("testdata", "putenv_stack.txtar"))
	conf := config.Default()
	conf.Checkers = map[string]bool{"no-such-rule": true}
	_, _, err := pathsense.Run(prog, conf)
	require.ErrorContains(t, err, "no-such-rule")
}

func TestRunFunction(t *testing.T) {
	t.Parallel()

	prog, expected := pathsensetest.LoadFixture(t, filepath.Join("testdata", "envptr_inline.txtar"))
	set, _, err := pathsense.RunFunction(prog, "main", nil)
	require.NoError(t, err)
	pathsensetest.RequireFindings(t, set, expected)

	_, _, err = pathsense.RunFunction(prog, "missing", nil)
	require.Error(t, err)
}

func TestTightBudgetTruncates(t *testing.T) {
	t.Parallel()

	prog, _ := pathsensetest.LoadFixture(t, filepath.Join("testdata", "loop.txtar"))
	conf := config.Default()
	conf.Budget.MaxSteps = 2
	_, stats, err := pathsense.Run(prog, conf)
	require.NoError(t, err)
	require.Equal(t, 2, stats.Steps)
	require.Greater(t, stats.TruncatedSteps, 0)
}

func TestBudgetIsPerFunction(t *testing.T) {
	t.Parallel()

	// Each function fits the step budget on its own; the findings of a
	// later function must not depend on how much an earlier one explored.
	prog, err := cfg.Parse("prog.cfg", []byte(`func alpha() {
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
  var buf
b0:
  putenv(&buf)
  return
}
`))
	require.NoError(t, err)

	conf := config.Default()
	conf.Budget.MaxSteps = 8
	set, stats, err := pathsense.Run(prog, conf)
	require.NoError(t, err)
	require.Equal(t, 0, stats.TruncatedSteps)
	pathsensetest.RequireFindings(t, set, []pathsensetest.Finding{
		{Kind: rules.PutenvStackArrayName, File: "prog.cfg", Line: 16},
	})
}

func TestFindingsCarryPaths(t *testing.T) {
	t.Parallel()

	prog, _ := pathsensetest.LoadFixture(t, filepath.Join("testdata", "envptr_inline.txtar"))
	set, _, err := pathsense.Run(prog, nil)
	require.NoError(t, err)
	require.Equal(t, 1, set.Len())

	// The trace walks from the entry through the inlined call to the
	// finding itself.
	path := set.All()[0].Path
	require.Len(t, path, 3)
	require.Contains(t, path[0].Note, "entering")
	require.Contains(t, path[1].Note, "inlined call")
	require.Equal(t, set.All()[0].Pos, path[2].Pos)
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
