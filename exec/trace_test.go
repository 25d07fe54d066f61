// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/grailbio/bigdot"
	"github.com/grailbio/bigdot/internal/trace"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

func TestTracer(t *testing.T) {
	tr := newTracer()
	tr.Span(1, 0, trace.CatCollective, "scatter", "seq", 0)(nil)
	tr.Span(1, 1, trace.CatCollective, "scatter", "seq", 0)(errors.New("boom"))
	tr.Span(2, 0, trace.CatRun, "run")(nil)
	var b bytes.Buffer
	assert.NoError(t, tr.Marshal(&b))
	var decoded trace.T
	assert.NoError(t, decoded.Decode(&b))
	var (
		complete int
		meta     = make(map[string]int)
	)
	for _, event := range decoded.Events {
		switch event.Ph {
		case "X":
			complete++
			expect.EQ(t, event.Tid >= 1, true)
			if event.Dur <= 0 {
				t.Errorf("event %v: nonpositive duration", event)
			}
		case "M":
			meta[event.Name]++
		default:
			t.Errorf("unexpected event %v", event)
		}
	}
	expect.EQ(t, complete, 3)
	expect.EQ(t, meta["process_name"], 2)
	expect.EQ(t, meta["thread_name"], 3)
	for _, event := range decoded.Events {
		if event.Ph == "X" && event.Tid == 2 {
			expect.EQ(t, event.Args["error"], "boom")
		}
	}
}

func TestTracerNested(t *testing.T) {
	tr := newTracer()
	endRun := tr.Span(1, 0, trace.CatRun, "run")
	time.Sleep(20 * time.Millisecond)
	endScatter := tr.Span(1, 0, trace.CatCollective, "scatter")
	time.Sleep(5 * time.Millisecond)
	endScatter(nil)
	endRun(nil)

	var b bytes.Buffer
	assert.NoError(t, tr.Marshal(&b))
	var decoded trace.T
	assert.NoError(t, decoded.Decode(&b))
	spans := make(map[string]trace.Event)
	for _, event := range decoded.Events {
		if event.Ph == "X" {
			spans[event.Name] = event
		}
	}
	run, scatter := spans["run"], spans["scatter"]
	if got, want := scatter.Ts-run.Ts, int64(20000); got < want {
		t.Errorf("scatter starts %dus after run, want at least %dus", got, want)
	}
	if got, want := scatter.Dur, int64(5000); got < want {
		t.Errorf("got duration %d, want at least %d", got, want)
	}
	// Allow for truncation to microseconds.
	if scatter.Ts+scatter.Dur > run.Ts+run.Dur+2 {
		t.Errorf("scatter %v ends after run %v", scatter, run)
	}
}

func TestNilTracer(t *testing.T) {
	var tr *tracer
	tr.Span(1, 0, trace.CatRun, "run")(nil)
	comm := NewGroup(1).Comm(0)
	if got := traceComm(tr, 1, comm); got != comm {
		t.Error("nil tracer instrumented comm")
	}
}

func TestSessionTrace(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	path := filepath.Join(dir, "trace.json")
	const p = 3
	sess := Start(Local, Parallelism(p), TracePath(path))
	for i := 0; i < 2; i++ {
		_, err := sess.Run(context.Background(), bigdot.Config{N: 30, Seed: 1})
		assert.NoError(t, err)
	}
	sess.Shutdown()

	f, err := os.Open(path)
	assert.NoError(t, err)
	defer f.Close()
	var decoded trace.T
	assert.NoError(t, decoded.Decode(f))
	counts := make(map[string]int)
	pids := make(map[int]bool)
	for _, event := range decoded.Events {
		if event.Ph != "X" {
			continue
		}
		counts[event.Name]++
		pids[event.Pid] = true
		if _, ok := event.Args["error"]; ok {
			t.Errorf("unexpected error in %v", event)
		}
	}
	// Each participant of each run scatters twice and reduces once.
	expect.EQ(t, counts["run"], 2*p)
	expect.EQ(t, counts["scatter"], 2*2*p)
	expect.EQ(t, counts["reduce"], 2*p)
	expect.EQ(t, len(pids), 2)
}
