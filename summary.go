// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigdot

import (
	"fmt"
	"io"

	"gonum.org/v1/gonum/stat"
)

// A Sample is the mean and standard deviation of a set of
// measurements.
type Sample struct {
	Mean, StdDev float64
}

func (s Sample) String() string {
	return fmt.Sprintf("%g ± %g", s.Mean, s.StdDev)
}

// Summary summarizes the reports of repeated runs.
type Summary struct {
	// Runs is the number of summarized reports.
	Runs int
	// Elapsed, RootElapsed and Speedup summarize the distributed time,
	// the sequential time (both in seconds) and the speedup.
	Elapsed, RootElapsed, Speedup Sample
}

// Summarize summarizes a set of reports. Summarize returns a zero
// Summary if there are no reports.
func Summarize(reports []*Report) Summary {
	if len(reports) == 0 {
		return Summary{}
	}
	var (
		elapsed = make([]float64, len(reports))
		root    = make([]float64, len(reports))
		speedup = make([]float64, len(reports))
	)
	for i, r := range reports {
		elapsed[i] = r.Elapsed.Seconds()
		root[i] = r.RootElapsed.Seconds()
		speedup[i] = r.Speedup()
	}
	return Summary{
		Runs:        len(reports),
		Elapsed:     sample(elapsed),
		RootElapsed: sample(root),
		Speedup:     sample(speedup),
	}
}

func sample(x []float64) Sample {
	if len(x) == 1 {
		return Sample{Mean: x[0]}
	}
	mean, std := stat.MeanStdDev(x, nil)
	return Sample{Mean: mean, StdDev: std}
}

// WriteTo writes the summary to w.
func (s Summary) WriteTo(w io.Writer) (int64, error) {
	n, err := fmt.Fprintf(w, "Runs : %d\n"+
		"Processes time : %s\n"+
		"Root time : %s\n"+
		"Speeding up : %s\n",
		s.Runs, s.Elapsed, s.RootElapsed, s.Speedup)
	return int64(n), err
}
