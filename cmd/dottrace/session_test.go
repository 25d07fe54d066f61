// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/grailbio/bigdot/internal/trace"
	"github.com/grailbio/testutil/expect"
)

func testEvents() []trace.Event {
	x := func(pid, tid int, ts, dur int64, cat, name string, args map[string]interface{}) trace.Event {
		if args == nil {
			args = map[string]interface{}{}
		}
		return trace.Event{Pid: pid, Tid: tid, Ts: ts, Dur: dur, Ph: "X", Cat: cat, Name: name, Args: args}
	}
	runArgs := map[string]interface{}{"n": float64(40), "p": float64(2)}
	return []trace.Event{
		{Pid: 1, Tid: 0, Ph: "M", Name: "process_name", Args: map[string]interface{}{"name": "run 1"}},
		x(1, 1, 0, 100, trace.CatRun, "run", runArgs),
		x(1, 2, 5, 80, trace.CatRun, "run", runArgs),
		x(1, 1, 10, 10, trace.CatCollective, "scatter", nil),
		x(1, 2, 10, 30, trace.CatCollective, "scatter", nil),
		x(1, 1, 60, 20, trace.CatCollective, "reduce", nil),
		x(1, 2, 50, 30, trace.CatCollective, "reduce", nil),
		x(2, 1, 200, 5, trace.CatRun, "run", map[string]interface{}{"n": float64(40), "p": float64(1), "error": "boom"}),
	}
}

func TestSession(t *testing.T) {
	s := newSession(testEvents())
	runs := s.Runs()
	if got, want := len(runs), 2; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	expect.EQ(t, runs[0].index, 1)
	expect.EQ(t, runs[0].n, 40)
	expect.EQ(t, runs[0].p, 2)
	expect.EQ(t, runs[0].duration, 100*time.Microsecond)
	expect.EQ(t, len(runs[0].errs), 0)
	expect.EQ(t, len(runs[1].errs), 1)

	stats := s.OpStats(1)
	if got, want := len(stats), 3; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	ops := []string{stats[0].op, stats[1].op, stats[2].op}
	expect.EQ(t, ops, []string{"run", "scatter", "reduce"})
	scatter := stats[1]
	expect.EQ(t, scatter.count, 2)
	expect.EQ(t, scatter.start, 10*time.Microsecond)
	expect.EQ(t, scatter.duration, 30*time.Microsecond)
	expect.EQ(t, scatter.min, 10*time.Microsecond)
	expect.EQ(t, scatter.q2, 20*time.Microsecond)
	expect.EQ(t, scatter.max, 30*time.Microsecond)
	reduce := stats[2]
	expect.EQ(t, reduce.start, 50*time.Microsecond)
	expect.EQ(t, reduce.duration, 30*time.Microsecond)
}

func TestWriteSummary(t *testing.T) {
	var b bytes.Buffer
	if err := writeSummary(&b, newSession(testEvents())); err != nil {
		t.Fatal(err)
	}
	out := b.String()
	for _, want := range []string{"run 1", "run 2", "scatter", "reduce", "participant 0: run: boom"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q does not contain %q", out, want)
		}
	}
}
