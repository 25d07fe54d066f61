// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import "time"

// quartiles returns the quartiles of the sorted, non-empty durations
// ds by Tukey's hinges: q2 is the median of ds; q1 and q3 are the
// medians of the lower and upper halves, each of which includes q2
// when len(ds) is odd.
func quartiles(ds []time.Duration) (q1, q2, q3 time.Duration) {
	n := len(ds)
	half := (n + 1) / 2
	q1 = median(ds[:half])
	q2 = median(ds)
	q3 = median(ds[n-half:])
	return
}

// median returns the median of the sorted, non-empty durations ds.
func median(ds []time.Duration) time.Duration {
	mid := len(ds) / 2
	if len(ds)%2 == 1 {
		return ds[mid]
	}
	a, b := ds[mid-1], ds[mid]
	// Average without overflow.
	return a/2 + b/2 + (a%2+b%2)/2
}
