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

// Package orderedmap implements a map that preserves insertion order, for
// the places where iteration must be deterministic: report collection and
// exploded-graph bookkeeping. Go's builtin map randomizes iteration order,
// which would make engine output flap between runs.
package orderedmap

// OrderedMap is a map that remembers first-insertion order of its keys.
// The zero value is not usable; call New.
type OrderedMap[K comparable, V any] struct {
	inner map[K]V
	keys  []K
}

// New creates an empty ordered map.
func New[K comparable, V any]() *OrderedMap[K, V] {
	return &OrderedMap[K, V]{inner: make(map[K]V)}
}

// Len returns the number of stored pairs.
func (m *OrderedMap[K, V]) Len() int { return len(m.keys) }

// Load returns the value stored under key.
func (m *OrderedMap[K, V]) Load(key K) (V, bool) {
	v, ok := m.inner[key]
	return v, ok
}

// Value returns the value stored under key, or the zero value.
func (m *OrderedMap[K, V]) Value(key K) V { return m.inner[key] }

// Store inserts or updates key. A key keeps its original position on
// update.
func (m *OrderedMap[K, V]) Store(key K, value V) {
	if _, ok := m.inner[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.inner[key] = value
}

// Keys returns the keys in insertion order. The slice is shared; callers
// must not modify it.
func (m *OrderedMap[K, V]) Keys() []K { return m.keys }

// OrderedRange calls f for each pair in insertion order until f returns
// false.
func (m *OrderedMap[K, V]) OrderedRange(f func(key K, value V) bool) {
	for _, k := range m.keys {
		if !f(k, m.inner[k]) {
			return
		}
	}
}
