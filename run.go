// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigdot

import (
	"context"
	"fmt"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
)

// Config parameterizes a run. Every participant must run with the
// same Config.
type Config struct {
	// N is the length of the generated vectors.
	N int
	// Seed seeds the coordinator's vector generator.
	Seed int64
	// Root is the rank of the coordinator.
	Root int
}

// DefaultConfig returns the default run configuration.
func DefaultConfig() Config {
	return Config{N: DefaultN, Seed: DefaultSeed}
}

// Validate checks that the configuration can be run by p
// participants.
func (c Config) Validate(p int) error {
	if c.N <= 0 {
		return errors.E(errors.Invalid, fmt.Sprintf("invalid vector length %d", c.N))
	}
	if c.Root < 0 || c.Root >= p {
		return errors.E(errors.Invalid, fmt.Sprintf("root %d out of range [0, %d)", c.Root, p))
	}
	_, err := ChunkLen(c.N, p)
	return err
}

// Run runs one participant of the distributed inner product. Every
// participant of comm's group must call Run with the same config.
//
// The coordinator (config.Root) generates the two vectors and
// scatters them; each participant computes the inner product of its
// chunks, and the partial results are summed at the coordinator. The
// coordinator then recomputes the inner product sequentially and
// returns a Report. Other participants return a nil Report.
//
// If task is non-nil, Run reports its progress there.
func Run(ctx context.Context, comm Comm, config Config, task *status.Task) (*Report, error) {
	var (
		rank = comm.Rank()
		p    = comm.Size()
	)
	if err := config.Validate(p); err != nil {
		return nil, err
	}
	coordinator := rank == config.Root

	var x, y Vector
	if coordinator {
		printf(task, "generating vectors of length %d", config.N)
		x, y = Random(config.N, config.Seed)
	}
	printf(task, "scattering")
	localX, err := comm.Scatter(ctx, config.Root, x)
	if err != nil {
		return nil, errors.E(err, "scatter x")
	}
	localY, err := comm.Scatter(ctx, config.Root, y)
	if err != nil {
		return nil, errors.E(err, "scatter y")
	}
	start := time.Now()
	printf(task, "computing %d products", len(localX))
	partial := Dot(localX, localY)
	localX, localY = nil, nil
	printf(task, "reducing")
	global, err := comm.Reduce(ctx, config.Root, partial)
	if err != nil {
		return nil, errors.E(err, "reduce")
	}
	elapsed := time.Since(start)
	log.Debug.Printf("participant %d/%d: partial %g", rank, p, partial)
	if !coordinator {
		printf(task, "done: partial %g", partial)
		return nil, nil
	}

	printf(task, "recomputing sequentially")
	start = time.Now()
	sequential := Dot(x, y)
	report := &Report{
		Processes:   p,
		Result:      global,
		Elapsed:     elapsed,
		RootResult:  sequential,
		RootElapsed: time.Since(start),
	}
	if !report.Agree(DefaultTolerance(config.N)) {
		log.Printf("distributed result %g differs from sequential result %g", global, sequential)
	}
	printf(task, "done: speedup %.2f", report.Speedup())
	return report, nil
}

func printf(task *status.Task, format string, args ...interface{}) {
	if task == nil {
		return
	}
	task.Printf(format, args...)
}
