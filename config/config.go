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

// Package config holds the user-facing engine configuration: which checkers
// run, the exploration budgets, and the opaque-call pass-through list. The
// on-disk form is YAML.
package config

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Budget bounds one function's exploration. Exhausting a budget truncates
// exploration without error; the engine counts truncations so callers can
// account for the lost coverage.
type Budget struct {
	// MaxSteps bounds worklist pops per analyzed function.
	MaxSteps int `yaml:"max_steps"`
	// MaxCallDepth bounds call inlining; deeper calls are treated as opaque.
	MaxCallDepth int `yaml:"max_call_depth"`
}

// Config is the engine configuration. The zero value is not meaningful; use
// Default or Load.
type Config struct {
	// Checkers enables or disables individual checkers by name. Checkers
	// not mentioned run by default.
	Checkers map[string]bool `yaml:"checkers"`
	// Budget bounds exploration.
	Budget Budget `yaml:"budget"`
	// PassThrough lists calls (by name) known not to read or retain their
	// pointer arguments; the engine skips conservative escape for them.
	PassThrough []string `yaml:"pass_through"`
}

// Default returns the configuration used when no file is given: every
// checker enabled, default budgets, empty pass-through list.
func Default() *Config {
	return &Config{
		Budget: Budget{
			MaxSteps:     DefaultMaxSteps,
			MaxCallDepth: DefaultMaxCallDepth,
		},
	}
}

// CheckerEnabled reports whether the named checker should run.
func (c *Config) CheckerEnabled(name string) bool {
	if enabled, ok := c.Checkers[name]; ok {
		return enabled
	}
	return true
}

// Load parses a YAML configuration. Unknown fields are rejected so that a
// typoed key fails loudly instead of silently running with defaults. Zero
// budget fields fall back to the defaults.
func Load(r io.Reader) (*Config, error) {
	c := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && err != io.EOF {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if c.Budget.MaxSteps < 0 || c.Budget.MaxCallDepth < 0 {
		return nil, fmt.Errorf("config: negative budget (max_steps=%d, max_call_depth=%d)",
			c.Budget.MaxSteps, c.Budget.MaxCallDepth)
	}
	if c.Budget.MaxSteps == 0 {
		c.Budget.MaxSteps = DefaultMaxSteps
	}
	if c.Budget.MaxCallDepth == 0 {
		c.Budget.MaxCallDepth = DefaultMaxCallDepth
	}
	return c, nil
}

// LoadFile reads and parses the configuration file at path.
func LoadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Load(f)
}
