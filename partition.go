// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigdot

import (
	"fmt"

	"github.com/grailbio/base/errors"
)

// ChunkLen returns the length of each of the p chunks of a vector of
// length n. ChunkLen returns an errors.Invalid error if p is not
// positive or if n is not evenly divisible by p.
func ChunkLen(n, p int) (int, error) {
	if p <= 0 {
		return 0, errors.E(errors.Invalid, fmt.Sprintf("invalid participant count %d", p))
	}
	if n < 0 {
		return 0, errors.E(errors.Invalid, fmt.Sprintf("invalid vector length %d", n))
	}
	if n%p != 0 {
		return 0, errors.E(errors.Invalid,
			fmt.Sprintf("vector length %d is not divisible by participant count %d", n, p))
	}
	return n / p, nil
}

// Chunk returns a copy of the rank-th of p contiguous chunks of v.
// The caller must ensure that len(v) is divisible by p.
func Chunk(v Vector, rank, p int) Vector {
	m := len(v) / p
	c := make(Vector, m)
	copy(c, v[rank*m:(rank+1)*m])
	return c
}

// Split returns all p chunks of v in rank order. Split returns an
// errors.Invalid error under the same conditions as ChunkLen.
func Split(v Vector, p int) ([]Vector, error) {
	if _, err := ChunkLen(len(v), p); err != nil {
		return nil, err
	}
	chunks := make([]Vector, p)
	for i := range chunks {
		chunks[i] = Chunk(v, i, p)
	}
	return chunks, nil
}
