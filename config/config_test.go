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

package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pathsense/pathsense/config"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestDefault(t *testing.T) {
	t.Parallel()

	c := config.Default()
	require.Equal(t, config.DefaultMaxSteps, c.Budget.MaxSteps)
	require.Equal(t, config.DefaultMaxCallDepth, c.Budget.MaxCallDepth)
	require.True(t, c.CheckerEnabled("putenv-stack-array"))
	require.Empty(t, c.PassThrough)
}

func TestLoad(t *testing.T) {
	t.Parallel()

	c, err := config.Load(strings.NewReader(`
checkers:
  putenv-stack-array: false
  stale-library-return: true
budget:
  max_steps: 1000
pass_through:
  - log_msg
  - noop
`))
	require.NoError(t, err)
	require.False(t, c.CheckerEnabled("putenv-stack-array"))
	require.True(t, c.CheckerEnabled("stale-library-return"))
	require.True(t, c.CheckerEnabled("invalidated-env-pointer"), "unmentioned checkers run by default")
	require.Equal(t, 1000, c.Budget.MaxSteps)
	require.Equal(t, config.DefaultMaxCallDepth, c.Budget.MaxCallDepth, "zero budget fields fall back to defaults")
	require.Equal(t, []string{"log_msg", "noop"}, c.PassThrough)
}

func TestLoadEmpty(t *testing.T) {
	t.Parallel()

	c, err := config.Load(strings.NewReader(""))
	require.NoError(t, err)
	require.Equal(t, config.DefaultMaxSteps, c.Budget.MaxSteps)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	_, err := config.Load(strings.NewReader("chekers:\n  foo: true\n"))
	require.Error(t, err)
}

func TestLoadRejectsNegativeBudgets(t *testing.T) {
	t.Parallel()

	_, err := config.Load(strings.NewReader("budget:\n  max_steps: -1\n"))
	require.Error(t, err)
	_, err = config.Load(strings.NewReader("budget:\n  max_call_depth: -2\n"))
	require.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "pathsense.yaml")
	require.NoError(t, os.WriteFile(path, []byte("budget:\n  max_call_depth: 3\n"), 0o600))

	c, err := config.LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, 3, c.Budget.MaxCallDepth)

	_, err = config.LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
