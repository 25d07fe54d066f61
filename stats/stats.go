// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package stats provides the counters kept by collective
// communicators. Counters live in a Map owned by a communicator;
// snapshots of several maps, possibly from different processes, are
// summed into a single set of Values.
package stats

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// Names of the counters maintained by communicators.
const (
	// Scatter counts completed scatters.
	Scatter = "scatter"
	// ScatterElems counts the vector elements distributed by scatters.
	ScatterElems = "scatter.elems"
	// ScatterBytes counts the payload bytes distributed by scatters.
	ScatterBytes = "scatter.bytes"
	// Reduce counts completed reductions.
	Reduce = "reduce"
	// Abort counts collectives that failed for the whole group.
	Abort = "abort"
)

// Values is a snapshot of counter values.
type Values map[string]int64

// Add sums the values in w into v.
func (v Values) Add(w Values) {
	for k, n := range w {
		v[k] += n
	}
}

// String returns the values sorted by name, as name:value pairs.
func (v Values) String() string {
	keys := make([]string, 0, len(v))
	for key := range v {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for i, key := range keys {
		keys[i] = fmt.Sprintf("%s:%d", key, v[key])
	}
	return strings.Join(keys, " ")
}

// A Map is a set of counters keyed by name.
type Map struct {
	mu     sync.Mutex
	values map[string]*Int
}

// NewMap returns a fresh Map.
func NewMap() *Map {
	return &Map{values: make(map[string]*Int)}
}

// Int returns the counter with the provided name, creating it if
// needed.
func (m *Map) Int(name string) *Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.values[name]
	if v == nil {
		v = new(Int)
		m.values[name] = v
	}
	return v
}

// AddAll adds every counter in the map to vals.
func (m *Map) AddAll(vals Values) {
	m.mu.Lock()
	for k, v := range m.values {
		vals[k] += v.Get()
	}
	m.mu.Unlock()
}

// An Int is an atomic counter. A nil *Int discards updates and reads
// as zero.
type Int struct {
	val int64
}

// Add increments v by delta.
func (v *Int) Add(delta int64) {
	if v == nil {
		return
	}
	atomic.AddInt64(&v.val, delta)
}

// Get returns the counter's current value.
func (v *Int) Get() int64 {
	if v == nil {
		return 0
	}
	return atomic.LoadInt64(&v.val)
}
