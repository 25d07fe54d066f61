// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigdot

import "context"

// A Comm is a participant's handle to a fixed group of participants.
// Each participant has its own Comm; a Comm is not safe for
// concurrent use.
//
// Scatter and Reduce are collective: every participant in the group
// must call them, in the same order, and no participant returns from a
// call until the collective has completed for the whole group. A
// collective either completes for every participant or fails for
// every participant with an error.
type Comm interface {
	// Rank returns the participant's rank, in [0, Size()).
	Rank() int
	// Size returns the number of participants in the group.
	Size() int

	// Scatter distributes the vector full, which is owned by
	// participant root, in Size() equal contiguous chunks, one per
	// participant in rank order. Full is ignored on other participants.
	// Scatter returns the calling participant's chunk, which is owned
	// by the caller.
	Scatter(ctx context.Context, root int, full Vector) (Vector, error)

	// Reduce sums v over all participants. The sum is returned to
	// participant root; other participants receive 0.
	Reduce(ctx context.Context, root int, v float64) (float64, error)
}
