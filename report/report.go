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

// Package report collects the findings of an analysis. A Set deduplicates
// submissions by (kind, location) with the first submission winning the
// path-trace detail, and exposes read-only ordered views to the external
// diagnostic renderer. Sets round-trip through an s2-compressed gob
// artifact so a batch driver can ship them across processes.
package report

import (
	"cmp"
	"encoding/gob"
	"fmt"
	"io"
	"slices"

	"github.com/klauspost/compress/s2"
	"github.com/pathsense/pathsense/cfg"
	"github.com/pathsense/pathsense/util/orderedmap"
)

// PathStep is one annotated location on the path explaining a finding.
type PathStep struct {
	Pos  cfg.Pos
	Note string
}

// Report is one finding. Reports are immutable once submitted.
type Report struct {
	// Kind identifies the rule, e.g. "putenv-stack-array".
	Kind string
	// Message is the human-readable description.
	Message string
	// Pos is the primary location of the originating statement.
	Pos cfg.Pos
	// Path optionally traces the originating path for renderers that want
	// one, ordered from path start to the finding.
	Path []PathStep
}

func (r Report) String() string {
	return fmt.Sprintf("%s: %s [%s]", r.Pos, r.Message, r.Kind)
}

type dedupKey struct {
	kind string
	pos  cfg.Pos
}

// Set is a deduplicated, discovery-ordered collection of reports. The zero
// Set is not usable; call NewSet. A Set is not safe for concurrent use;
// engine instances each own one and a driver merges afterwards.
type Set struct {
	reports *orderedmap.OrderedMap[dedupKey, Report]
}

// NewSet returns an empty set.
func NewSet() *Set {
	return &Set{reports: orderedmap.New[dedupKey, Report]()}
}

// Submit adds r unless a report with the same kind and location was already
// submitted; the first submission keeps its path trace. Submit reports
// whether r was kept.
func (s *Set) Submit(r Report) bool {
	key := dedupKey{kind: r.Kind, pos: r.Pos}
	if _, ok := s.reports.Load(key); ok {
		return false
	}
	s.reports.Store(key, r)
	return true
}

// Len returns the number of distinct findings.
func (s *Set) Len() int { return s.reports.Len() }

// All returns the findings in discovery order.
func (s *Set) All() []Report {
	out := make([]Report, 0, s.reports.Len())
	s.reports.OrderedRange(func(_ dedupKey, r Report) bool {
		out = append(out, r)
		return true
	})
	return out
}

// Sorted returns the findings ordered by file, line, column, then kind, the
// stable order renderers want.
func (s *Set) Sorted() []Report {
	out := s.All()
	slices.SortFunc(out, func(a, b Report) int {
		if n := cmp.Compare(a.Pos.File, b.Pos.File); n != 0 {
			return n
		}
		if n := cmp.Compare(a.Pos.Line, b.Pos.Line); n != 0 {
			return n
		}
		if n := cmp.Compare(a.Pos.Col, b.Pos.Col); n != 0 {
			return n
		}
		return cmp.Compare(a.Kind, b.Kind)
	})
	return out
}

// Merge submits every finding of o into s, preserving o's discovery order
// and s's dedup policy.
func (s *Set) Merge(o *Set) {
	o.reports.OrderedRange(func(_ dedupKey, r Report) bool {
		s.Submit(r)
		return true
	})
}

// Encode writes the set as an s2-compressed gob stream.
func (s *Set) Encode(w io.Writer) error {
	zw := s2.NewWriter(w)
	if err := gob.NewEncoder(zw).Encode(s.All()); err != nil {
		return fmt.Errorf("report: encode: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("report: flush: %w", err)
	}
	return nil
}

// Decode reads a set written by Encode.
func Decode(r io.Reader) (*Set, error) {
	var reports []Report
	if err := gob.NewDecoder(s2.NewReader(r)).Decode(&reports); err != nil {
		return nil, fmt.Errorf("report: decode: %w", err)
	}
	s := NewSet()
	for _, rep := range reports {
		s.Submit(rep)
	}
	return s, nil
}
