// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Command dottrace summarizes a trace written by a bigdot session
// (see the -trace flag of bigdot). For each run, it prints the
// distribution of the participants' durations for each operation.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bigdot/internal/trace"
)

func main() {
	log.AddFlags()
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `usage: dottrace path

Command dottrace reads the bigdot trace at path, which may be any
location supported by github.com/grailbio/base/file, and prints, for
each run, the start, span, and quartiles of the participants'
durations of each operation.
`)
		flag.PrintDefaults()
		os.Exit(2)
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
	}
	ctx := context.Background()
	events, err := readEvents(ctx, flag.Arg(0))
	if err != nil {
		log.Fatal(err)
	}
	if err := writeSummary(os.Stdout, newSession(events)); err != nil {
		log.Fatal(err)
	}
}

func readEvents(ctx context.Context, path string) (events []trace.Event, err error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := f.Close(ctx); err == nil {
			err = closeErr
		}
	}()
	var t trace.T
	if err := t.Decode(f.Reader(ctx)); err != nil {
		return nil, fmt.Errorf("decoding %s: %v", path, err)
	}
	return t.Events, nil
}

func writeSummary(w io.Writer, s *session) error {
	tw := tabwriter.NewWriter(w, 4, 4, 1, ' ', 0)
	for _, r := range s.Runs() {
		fmt.Fprintf(tw, "run %d\tn=%d\tp=%d\t%v\n", r.index, r.n, r.p, r.duration)
		for _, e := range r.errs {
			fmt.Fprintf(tw, "\terror: %s\n", e)
		}
		fmt.Fprintln(tw, "\top\tcount\tstart\tspan\tmin\tq1\tq2\tq3\tmax\t")
		for _, stat := range s.OpStats(r.index) {
			fmt.Fprintf(tw, "\t%s\t%d\t%v\t%v\t%v\t%v\t%v\t%v\t%v\t\n",
				stat.op, stat.count, stat.start, stat.duration,
				stat.min, stat.q1, stat.q2, stat.q3, stat.max)
		}
	}
	return tw.Flush()
}
