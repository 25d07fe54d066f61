// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

/*
	Package bigdot computes the inner product of two large vectors
	across a fixed set of participants, and compares the distributed
	computation against a sequential one.

	The computation is expressed as a single program that every
	participant runs (see Run). Participants are identified by a rank
	in [0, P) and communicate only through two collective operations
	provided by a Comm:

	1. Scatter splits a vector owned by one participant into P equal,
	contiguous chunks and delivers one chunk to each participant.

	2. Reduce sums one scalar per participant and delivers the sum to
	a single participant.

	The coordinator (rank 0 by default) generates the vectors,
	scatters them, and after the reduction recomputes the inner
	product sequentially, producing a Report with both results, both
	timings, and the resulting speedup.

	Vector lengths that are not evenly divisible by the number of
	participants are rejected with an errors.Invalid error; no element
	is ever silently dropped.

	Comm implementations, and the machinery to start participants
	in-process or on bigmachine machines, are provided by package
	github.com/grailbio/bigdot/exec.
*/
package bigdot
