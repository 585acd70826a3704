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

// Package pathsense ties the engine together: it assembles the configured
// checkers, runs the exploded-graph explorer over a program, and hands the
// deduplicated findings to the caller. Rendering and batch driving are the
// caller's business; this package only produces data.
package pathsense

import (
	"fmt"

	"github.com/pathsense/pathsense/cfg"
	"github.com/pathsense/pathsense/checker"
	"github.com/pathsense/pathsense/config"
	"github.com/pathsense/pathsense/explore"
	"github.com/pathsense/pathsense/report"
	"github.com/pathsense/pathsense/rules"
)

// Run analyzes every function of prog as an independent entry point with
// the built-in checkers enabled per conf (nil means defaults) and returns
// the findings in discovery order together with the aggregated exploration
// statistics. Budget exhaustion is not an error; it shows up in the stats.
func Run(prog *cfg.Program, conf *config.Config) (*report.Set, explore.Stats, error) {
	e, err := newExplorer(prog, conf)
	if err != nil {
		return nil, explore.Stats{}, err
	}
	for _, fn := range prog.Funcs() {
		if err := e.Run(fn.Name); err != nil {
			return nil, explore.Stats{}, err
		}
	}
	return e.Reports(), e.Stats(), nil
}

// RunFunction analyzes a single function of prog as the entry point.
func RunFunction(prog *cfg.Program, name string, conf *config.Config) (*report.Set, explore.Stats, error) {
	e, err := newExplorer(prog, conf)
	if err != nil {
		return nil, explore.Stats{}, err
	}
	if err := e.Run(name); err != nil {
		return nil, explore.Stats{}, err
	}
	return e.Reports(), e.Stats(), nil
}

func newExplorer(prog *cfg.Program, conf *config.Config) (*explore.Explorer, error) {
	if conf == nil {
		conf = config.Default()
	}
	known := make(map[string]struct{})
	for _, name := range rules.Names() {
		known[name] = struct{}{}
	}
	for name := range conf.Checkers {
		if _, ok := known[name]; !ok {
			return nil, fmt.Errorf("pathsense: unknown checker %q in configuration", name)
		}
	}

	registrar := checker.NewRegistrar()
	for _, name := range rules.Names() {
		if !conf.CheckerEnabled(name) {
			continue
		}
		c, _ := rules.New(name)
		registrar.Add(c)
	}

	return explore.New(prog, registrar, explore.Options{
		Budget: explore.Budget{
			MaxSteps:     conf.Budget.MaxSteps,
			MaxCallDepth: conf.Budget.MaxCallDepth,
		},
		PassThrough: conf.PassThrough,
	}), nil
}
