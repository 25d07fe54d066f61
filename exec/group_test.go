// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"reflect"
	"sync"
	"testing"
	"time"

	fuzz "github.com/google/gofuzz"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/bigdot"
	"github.com/grailbio/bigdot/stats"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

// runGroup runs fn concurrently for every participant of a new group
// of size p and returns each participant's error.
func runGroup(ctx context.Context, p int, fn func(ctx context.Context, comm bigdot.Comm) error) (*Group, []error) {
	var (
		g    = NewGroup(p)
		errs = make([]error, p)
		wg   sync.WaitGroup
	)
	for rank := 0; rank < p; rank++ {
		rank := rank
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[rank] = fn(ctx, g.Comm(rank))
		}()
	}
	wg.Wait()
	return g, errs
}

func fuzzVector(n int) bigdot.Vector {
	fz := fuzz.New()
	v := make(bigdot.Vector, n)
	for i := range v {
		fz.Fuzz(&v[i])
	}
	return v
}

func TestGroupScatter(t *testing.T) {
	const N = 60
	full := fuzzVector(N)
	for _, p := range []int{1, 2, 3, 4, 5, 6, 10, 60} {
		var (
			mu     sync.Mutex
			chunks = make([]bigdot.Vector, p)
		)
		_, errs := runGroup(context.Background(), p, func(ctx context.Context, comm bigdot.Comm) error {
			var in bigdot.Vector
			if comm.Rank() == 0 {
				in = full
			}
			chunk, err := comm.Scatter(ctx, 0, in)
			if err != nil {
				return err
			}
			mu.Lock()
			chunks[comm.Rank()] = chunk
			mu.Unlock()
			return nil
		})
		for _, err := range errs {
			assert.NoError(t, err)
		}
		var got bigdot.Vector
		for rank, chunk := range chunks {
			if got, want := len(chunk), N/p; got != want {
				t.Errorf("p=%d, rank %d: got %v, want %v", p, rank, got, want)
			}
			got = append(got, chunk...)
		}
		if !reflect.DeepEqual(got, full) {
			t.Errorf("p=%d: concatenated chunks differ from scattered vector", p)
		}
	}
}

func TestGroupScatterNonzeroRoot(t *testing.T) {
	full := bigdot.Vector{1, 2, 3, 4, 5, 6}
	chunks := make([]bigdot.Vector, 3)
	_, errs := runGroup(context.Background(), 3, func(ctx context.Context, comm bigdot.Comm) error {
		var in bigdot.Vector
		if comm.Rank() == 2 {
			in = full
		}
		chunk, err := comm.Scatter(ctx, 2, in)
		chunks[comm.Rank()] = chunk
		return err
	})
	for _, err := range errs {
		assert.NoError(t, err)
	}
	expect.EQ(t, chunks, []bigdot.Vector{{1, 2}, {3, 4}, {5, 6}})
}

func TestGroupScatterCopies(t *testing.T) {
	full := bigdot.Vector{1, 2, 3, 4}
	var chunk0 bigdot.Vector
	_, errs := runGroup(context.Background(), 2, func(ctx context.Context, comm bigdot.Comm) error {
		var in bigdot.Vector
		if comm.Rank() == 0 {
			in = full
		}
		chunk, err := comm.Scatter(ctx, 0, in)
		if comm.Rank() == 0 {
			chunk0 = chunk
		}
		return err
	})
	for _, err := range errs {
		assert.NoError(t, err)
	}
	chunk0[0] = 100
	if got, want := full[0], 1.0; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestGroupReduce(t *testing.T) {
	const P = 7
	partials := fuzzVector(P)
	var result float64
	_, errs := runGroup(context.Background(), P, func(ctx context.Context, comm bigdot.Comm) error {
		sum, err := comm.Reduce(ctx, 0, partials[comm.Rank()])
		if err != nil {
			return err
		}
		if comm.Rank() == 0 {
			result = sum
		} else if sum != 0 {
			t.Errorf("rank %d: got %v, want 0", comm.Rank(), sum)
		}
		return nil
	})
	for _, err := range errs {
		assert.NoError(t, err)
	}
	want := partials[0]
	for _, x := range partials[1:] {
		want += x
	}
	// Partials are summed in rank order, so the result is exact.
	if got := result; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestGroupOnes(t *testing.T) {
	ones := bigdot.Vector{1, 1, 1, 1, 1, 1, 1, 1}
	var (
		mu       sync.Mutex
		partials = make([]float64, 2)
		global   float64
	)
	_, errs := runGroup(context.Background(), 2, func(ctx context.Context, comm bigdot.Comm) error {
		var x, y bigdot.Vector
		if comm.Rank() == 0 {
			x, y = ones, ones
		}
		lx, err := comm.Scatter(ctx, 0, x)
		if err != nil {
			return err
		}
		ly, err := comm.Scatter(ctx, 0, y)
		if err != nil {
			return err
		}
		if got, want := len(lx), 4; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
		partial := bigdot.Dot(lx, ly)
		sum, err := comm.Reduce(ctx, 0, partial)
		mu.Lock()
		partials[comm.Rank()] = partial
		if comm.Rank() == 0 {
			global = sum
		}
		mu.Unlock()
		return err
	})
	for _, err := range errs {
		assert.NoError(t, err)
	}
	expect.EQ(t, partials, []float64{4, 4})
	expect.EQ(t, global, 8.0)
	expect.EQ(t, bigdot.Dot(ones, ones), 8.0)
}

func TestGroupIndivisible(t *testing.T) {
	full := make(bigdot.Vector, 10)
	_, errs := runGroup(context.Background(), 3, func(ctx context.Context, comm bigdot.Comm) error {
		var in bigdot.Vector
		if comm.Rank() == 0 {
			in = full
		}
		_, err := comm.Scatter(ctx, 0, in)
		return err
	})
	for rank, err := range errs {
		if !errors.Is(errors.Invalid, err) {
			t.Errorf("rank %d: got %v, want invalid", rank, err)
		}
	}
}

func TestGroupMismatch(t *testing.T) {
	_, errs := runGroup(context.Background(), 2, func(ctx context.Context, comm bigdot.Comm) error {
		if comm.Rank() == 0 {
			_, err := comm.Scatter(ctx, 0, bigdot.Vector{1, 2})
			return err
		}
		_, err := comm.Reduce(ctx, 0, 1)
		return err
	})
	for rank, err := range errs {
		if !errors.Is(errors.Invalid, err) {
			t.Errorf("rank %d: got %v, want invalid", rank, err)
		}
	}
}

func TestGroupAbandoned(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	g, errs := runGroup(ctx, 3, func(ctx context.Context, comm bigdot.Comm) error {
		if comm.Rank() == 2 {
			// This participant never joins the collective.
			return nil
		}
		_, err := comm.Reduce(ctx, 0, 1)
		return err
	})
	for rank, err := range errs[:2] {
		if !errors.Is(errors.Canceled, err) {
			t.Errorf("rank %d: got %v, want canceled", rank, err)
		}
	}
	values := make(stats.Values)
	g.Stats(values)
	if got, want := values[stats.Abort], int64(1); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := values[stats.Reduce], int64(0); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestGroupStats(t *testing.T) {
	const N, P = 12, 4
	full := fuzzVector(N)
	g, errs := runGroup(context.Background(), P, func(ctx context.Context, comm bigdot.Comm) error {
		var in bigdot.Vector
		if comm.Rank() == 0 {
			in = full
		}
		for i := 0; i < 2; i++ {
			if _, err := comm.Scatter(ctx, 0, in); err != nil {
				return err
			}
		}
		_, err := comm.Reduce(ctx, 0, 1)
		return err
	})
	for _, err := range errs {
		assert.NoError(t, err)
	}
	values := make(stats.Values)
	g.Stats(values)
	expect.EQ(t, values, stats.Values{
		stats.Scatter:      2,
		stats.ScatterElems: 2 * N,
		stats.ScatterBytes: 2 * 8 * N,
		stats.Reduce:       1,
	})
}
