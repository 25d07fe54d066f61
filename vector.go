// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigdot

import (
	"fmt"
	"math/rand"
)

// DefaultN is the default vector length.
const DefaultN = 10000000

// DefaultSeed is the default seed used to generate vectors.
const DefaultSeed int64 = 1

// A Vector is a sequence of double-precision values. Vectors are
// never mutated after they are created: chunks are always copies.
type Vector []float64

// Random returns two vectors of length n whose elements are drawn
// uniformly from [0, 1). For each index i, x[i] is drawn before y[i].
// The same seed always produces the same vectors.
func Random(n int, seed int64) (x, y Vector) {
	if n <= 0 {
		return Vector{}, Vector{}
	}
	r := rand.New(rand.NewSource(seed))
	x = make(Vector, n)
	y = make(Vector, n)
	for i := 0; i < n; i++ {
		x[i] = r.Float64()
		y[i] = r.Float64()
	}
	return
}

// Dot returns the inner product of x and y, summed in ascending
// index order. Dot panics if the vectors differ in length.
func Dot(x, y Vector) float64 {
	if len(x) != len(y) {
		panic(fmt.Sprintf("bigdot.Dot: length mismatch: %d != %d", len(x), len(y)))
	}
	var sum float64
	for i := range x {
		sum += x[i] * y[i]
	}
	return sum
}
