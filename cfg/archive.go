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

package cfg

import (
	"strings"

	"golang.org/x/tools/txtar"
)

// ParseArchive collects every ".cfg" file of a txtar archive into one
// program. Archives let a fixture keep a program and its expected findings
// side by side in a single testdata file; non-".cfg" files are ignored here
// and left to the caller.
func ParseArchive(ar *txtar.Archive) (*Program, error) {
	prog := NewProgram()
	for _, f := range ar.Files {
		if !strings.HasSuffix(f.Name, ".cfg") {
			continue
		}
		parsed, err := Parse(f.Name, f.Data)
		if err != nil {
			return nil, err
		}
		for _, fn := range parsed.Funcs() {
			if err := prog.Add(fn); err != nil {
				return nil, err
			}
		}
	}
	return prog, nil
}

// LoadArchive reads and parses a txtar archive from disk.
func LoadArchive(path string) (*Program, error) {
	ar, err := txtar.ParseFile(path)
	if err != nil {
		return nil, err
	}
	return ParseArchive(ar)
}
