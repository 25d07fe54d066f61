// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/grailbio/base/limitbuf"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bigdot/internal/trace"
)

// run summarizes a single traced run.
type run struct {
	index int
	// n and p are the vector length and number of participants, as
	// recorded by the participants' run spans; they are zero if no
	// run span was recorded.
	n, p     int
	duration time.Duration
	errs     []string
}

// span is a single complete event of a run.
type span struct {
	run      int
	rank     int
	name     string
	start    time.Duration
	duration time.Duration
}

// opStat summarizes the spans of one operation (run, scatter, or
// reduce) across the participants of a run.
type opStat struct {
	run   int
	op    string
	count int
	// start is measured as an offset from the start of tracing.
	start    time.Duration
	duration time.Duration
	min      time.Duration
	q1       time.Duration
	q2       time.Duration
	q3       time.Duration
	max      time.Duration
}

// session is the interpretation of the events of a bigdot trace.
type session struct {
	runs    []run
	opStats []opStat
}

func newSession(events []trace.Event) *session {
	spans, runs := buildSpans(events)
	return &session{runs: runs, opStats: buildOpStats(spans)}
}

// Runs returns the runs of the session, ordered by index.
func (s *session) Runs() []run {
	return s.runs
}

// OpStats returns the operation statistics of the run with the
// provided index, ordered by start time.
func (s *session) OpStats(index int) []opStat {
	var stats []opStat
	for _, stat := range s.opStats {
		if stat.run == index {
			stats = append(stats, stat)
		}
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].start == stats[j].start {
			return stats[i].op < stats[j].op
		}
		return stats[i].start < stats[j].start
	})
	return stats
}

func buildSpans(events []trace.Event) ([]span, []run) {
	var (
		spans []span
		runs  = make(map[int]*run)
	)
	for _, event := range events {
		if event.Ph != "X" {
			continue
		}
		if event.Tid < 1 {
			log.Printf("dropping event without participant: %#v", event)
			continue
		}
		s := span{
			run:      event.Pid,
			rank:     event.Tid - 1,
			name:     event.Name,
			start:    time.Duration(event.Ts) * time.Microsecond,
			duration: time.Duration(event.Dur) * time.Microsecond,
		}
		spans = append(spans, s)
		r := runs[s.run]
		if r == nil {
			r = &run{index: s.run}
			runs[s.run] = r
		}
		if msg, ok := event.Args["error"].(string); ok {
			r.errs = append(r.errs, fmt.Sprintf("participant %d: %s: %s", s.rank, s.name, truncatef(msg)))
		}
		if event.Cat != trace.CatRun {
			continue
		}
		if s.duration > r.duration {
			r.duration = s.duration
		}
		r.n = argInt(event.Args, "n")
		r.p = argInt(event.Args, "p")
	}
	list := make([]run, 0, len(runs))
	for _, r := range runs {
		list = append(list, *r)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].index < list[j].index })
	return spans, list
}

func buildOpStats(spans []span) []opStat {
	type runOp struct {
		run int
		op  string
	}
	type accum struct {
		minStart  time.Duration
		maxEnd    time.Duration
		durations []time.Duration
	}
	accums := make(map[runOp]*accum)
	for _, s := range spans {
		key := runOp{s.run, s.name}
		a := accums[key]
		if a == nil {
			a = &accum{minStart: 1<<63 - 1}
			accums[key] = a
		}
		if s.start < a.minStart {
			a.minStart = s.start
		}
		if end := s.start + s.duration; end > a.maxEnd {
			a.maxEnd = end
		}
		a.durations = append(a.durations, s.duration)
	}
	stats := make([]opStat, 0, len(accums))
	for key, a := range accums {
		ds := a.durations
		sort.Slice(ds, func(i, j int) bool { return ds[i] < ds[j] })
		q1, q2, q3 := quartiles(ds)
		stats = append(stats, opStat{
			run:      key.run,
			op:       key.op,
			count:    len(ds),
			start:    a.minStart,
			duration: a.maxEnd - a.minStart,
			min:      ds[0],
			q1:       q1,
			q2:       q2,
			q3:       q3,
			max:      ds[len(ds)-1],
		})
	}
	return stats
}

// argInt returns the integer argument named key; JSON decodes numbers
// as float64.
func argInt(args map[string]interface{}, key string) int {
	v, _ := args[key].(float64)
	return int(v)
}

func truncatef(v interface{}) string {
	b := limitbuf.NewLogger(80)
	fmt.Fprint(b, v)
	return b.String()
}
