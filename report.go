// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigdot

import (
	"fmt"
	"io"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
)

// A Report is the coordinator's account of a run.
type Report struct {
	// Processes is the number of participants.
	Processes int
	// Result is the inner product computed by the participants.
	Result float64
	// Elapsed is the time from the end of the scatters to the end of
	// the reduction.
	Elapsed time.Duration
	// RootResult is the inner product recomputed sequentially by the
	// coordinator.
	RootResult float64
	// RootElapsed is the duration of the sequential recomputation.
	RootElapsed time.Duration
}

// Speedup returns the ratio of the sequential time to the
// distributed time. It is +Inf if the distributed time is zero,
// whatever the sequential time.
func (r *Report) Speedup() float64 {
	if r.Elapsed <= 0 {
		return math.Inf(1)
	}
	return r.RootElapsed.Seconds() / r.Elapsed.Seconds()
}

// Agree tells whether the distributed and sequential results are
// equal within the absolute or relative tolerance tol.
func (r *Report) Agree(tol float64) bool {
	return floats.EqualWithinAbsOrRel(r.Result, r.RootResult, tol, tol)
}

// WriteTo writes the report to w, one value per line.
func (r *Report) WriteTo(w io.Writer) (int64, error) {
	n, err := fmt.Fprintf(w, "Processes : %d\n"+
		"Processes result : %g\n"+
		"Processes time : %g\n"+
		"Root result : %g\n"+
		"Root time : %g\n"+
		"Speeding up : %g\n",
		r.Processes,
		r.Result,
		r.Elapsed.Seconds(),
		r.RootResult,
		r.RootElapsed.Seconds(),
		r.Speedup(),
	)
	return int64(n), err
}

// DefaultTolerance returns the tolerance within which results of
// summing n products in different orders are expected to agree.
func DefaultTolerance(n int) float64 {
	if n < 1 {
		n = 1
	}
	return float64(n) * math.Pow(2, -52)
}
