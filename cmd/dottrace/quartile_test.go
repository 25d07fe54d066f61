// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"sort"
	"testing"
	"time"

	fuzz "github.com/google/gofuzz"
)

func TestQuartiles(t *testing.T) {
	for _, c := range []struct {
		name       string
		ds         []int64
		q1, q2, q3 int64
	}{
		{"One", []int64{7}, 7, 7, 7},
		{"Two", []int64{0, 100}, 0, 50, 100},
		{"ThreeLowSame", []int64{0, 0, 200}, 0, 0, 100},
		{"ThreeHighSame", []int64{0, 200, 200}, 100, 200, 200},
		{"Three", []int64{0, 100, 200}, 50, 100, 150},
		{"Four", []int64{0, 100, 200, 300}, 50, 150, 250},
		{"FiveSomeSame", []int64{0, 100, 100, 100, 200}, 100, 100, 100},
		{"Five", []int64{0, 100, 200, 300, 400}, 100, 200, 300},
		{"Six", []int64{0, 10, 20, 30, 40, 50}, 10, 25, 40},
	} {
		c := c
		t.Run(c.name, func(t *testing.T) {
			ds := make([]time.Duration, len(c.ds))
			for i := range ds {
				ds[i] = time.Duration(c.ds[i])
			}
			q1, q2, q3 := quartiles(ds)
			if got, want := q1, time.Duration(c.q1); got != want {
				t.Errorf("q1: got %v, want %v", got, want)
			}
			if got, want := q2, time.Duration(c.q2); got != want {
				t.Errorf("q2: got %v, want %v", got, want)
			}
			if got, want := q3, time.Duration(c.q3); got != want {
				t.Errorf("q3: got %v, want %v", got, want)
			}
		})
	}
}

func TestMedianOverflow(t *testing.T) {
	const max = time.Duration(1<<63 - 1)
	if got, want := median([]time.Duration{max, max}), max; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

// TestQuartilesFuzz verifies that the quartiles of fuzzed durations
// are ordered and lie within [min, max].
func TestQuartilesFuzz(t *testing.T) {
	const N = 10000
	f := fuzz.New()
	for i := 0; i < N; i++ {
		var ds []time.Duration
		f.Fuzz(&ds)
		if len(ds) == 0 {
			continue
		}
		sort.Slice(ds, func(i, j int) bool { return ds[i] < ds[j] })
		min, max := ds[0], ds[len(ds)-1]
		q1, q2, q3 := quartiles(ds)
		if q1 < min || q2 < q1 || q3 < q2 || max < q3 {
			t.Errorf("%v: quartiles %v %v %v out of order", ds, q1, q2, q3)
		}
	}
}
