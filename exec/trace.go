// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bigdot"
	"github.com/grailbio/bigdot/internal/trace"
)

// A tracer records the spans of participants' runs and collective
// calls as complete ("X") events in the Chrome tracing format. Each run
// is a "process"; each participant is a "thread" of its run.
type tracer struct {
	mu     sync.Mutex
	events []trace.Event
	// named records the (pid, tid) pairs for which name metadata
	// has been emitted; tid 0 names the process.
	named map[[2]int]bool
	// start is the time the tracer was created; timestamps are
	// offsets from it.
	start time.Time
}

func newTracer() *tracer {
	return &tracer{named: make(map[[2]int]bool), start: time.Now()}
}

// Span starts a span named name for participant rank of the given run.
// The returned func ends the span, recording err if it is non-nil.
// Span is a no-op on a nil tracer.
func (t *tracer) Span(run, rank int, cat, name string, args ...interface{}) (end func(err error)) {
	if t == nil {
		return func(error) {}
	}
	if len(args)%2 != 0 {
		panic("tracer.Span: invalid arguments")
	}
	start := time.Now()
	return func(err error) {
		end := time.Now()
		event := trace.Event{
			Pid:  run,
			Tid:  rank + 1,
			Ph:   "X",
			Name: name,
			Cat:  cat,
			Args: make(map[string]interface{}, len(args)/2+1),
		}
		for i := 0; i < len(args); i += 2 {
			event.Args[fmt.Sprint(args[i])] = args[i+1]
		}
		if err != nil {
			event.Args["error"] = err.Error()
		}
		t.mu.Lock()
		defer t.mu.Unlock()
		event.Ts = start.Sub(t.start).Nanoseconds() / 1e3
		event.Dur = end.Sub(start).Nanoseconds() / 1e3
		if event.Dur == 0 {
			event.Dur = 1
		}
		t.name(run, 0, "process_name", fmt.Sprintf("run %d", run))
		t.name(run, rank+1, "thread_name", fmt.Sprintf("participant %d", rank))
		t.events = append(t.events, event)
	}
}

// name emits a metadata event naming (pid, tid), once. Name is called
// with t.mu held.
func (t *tracer) name(pid, tid int, kind, name string) {
	key := [2]int{pid, tid}
	if t.named[key] {
		return
	}
	t.named[key] = true
	t.events = append(t.events, trace.Event{
		Pid:  pid,
		Tid:  tid,
		Ph:   "M",
		Name: kind,
		Args: map[string]interface{}{"name": name},
	})
}

// Marshal writes the trace captured by t to w.
func (t *tracer) Marshal(w io.Writer) error {
	t.mu.Lock()
	tr := trace.T{Events: make([]trace.Event, len(t.events))}
	copy(tr.Events, t.events)
	t.mu.Unlock()
	return tr.Encode(w)
}

func writeTraceFile(tracer *tracer, path string) {
	ctx := context.Background()
	f, err := file.Create(ctx, path)
	if err != nil {
		log.Error.Printf("error creating trace file at %q: %v", path, err)
		return
	}
	if err := tracer.Marshal(f.Writer(ctx)); err != nil {
		log.Error.Printf("error marshaling to trace file at %q: %v", path, err)
	}
	if err := f.Close(ctx); err != nil {
		log.Error.Printf("error closing trace file at %q: %v", path, err)
	}
}

// tracedComm records a span for each collective call of a
// participant.
type tracedComm struct {
	bigdot.Comm
	tracer *tracer
	run    int
	seq    int
}

// traceComm returns comm, instrumented by tracer if it is non-nil.
func traceComm(tracer *tracer, run int, comm bigdot.Comm) bigdot.Comm {
	if tracer == nil {
		return comm
	}
	return &tracedComm{Comm: comm, tracer: tracer, run: run}
}

func (c *tracedComm) Scatter(ctx context.Context, root int, full bigdot.Vector) (bigdot.Vector, error) {
	end := c.tracer.Span(c.run, c.Rank(), trace.CatCollective, "scatter", "seq", c.seq, "root", root)
	c.seq++
	chunk, err := c.Comm.Scatter(ctx, root, full)
	end(err)
	return chunk, err
}

func (c *tracedComm) Reduce(ctx context.Context, root int, v float64) (float64, error) {
	end := c.tracer.Span(c.run, c.Rank(), trace.CatCollective, "reduce", "seq", c.seq, "root", root)
	c.seq++
	sum, err := c.Comm.Reduce(ctx, root, v)
	end(err)
	return sum, err
}
