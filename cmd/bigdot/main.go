// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Command bigdot computes the inner product of two random vectors
// across a set of participants, and compares the result and its
// running time with a sequential computation by the coordinator.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/grailbio/base/must"
	"github.com/grailbio/bigdot/dotcmd"
	"github.com/grailbio/bigdot/dotflags"
	"github.com/grailbio/bigdot/exec"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `usage: bigdot [flags]

Command bigdot generates two random vectors of length -n on the
coordinator, scatters them across -p participants, sums the
participants' partial inner products, and recomputes the inner
product sequentially. It prints:

	Processes : number of participants
	Processes result : distributed inner product
	Processes time : seconds from the end of the scatters to the end of the reduction
	Root result : sequential inner product
	Root time : seconds taken by the sequential computation
	Speeding up : root time / processes time

The vector length must be divisible by the number of participants.

`)
		flag.PrintDefaults()
		os.Exit(2)
	}
	dotcmd.Main(func(sess *exec.Session, fl dotflags.Flags, args []string) error {
		must.True(len(args) == 0, "bigdot takes no arguments")
		_, err := dotcmd.Bench(context.Background(), sess, fl, os.Stdout)
		return err
	})
}
