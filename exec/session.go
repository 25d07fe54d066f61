// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
	"github.com/grailbio/bigdot"
	"github.com/grailbio/bigdot/stats"
	"github.com/grailbio/bigmachine"
)

// An Executor starts the participants of a run and provides them
// with a communicator.
type Executor interface {
	// Start starts the executor for the provided session. Start
	// returns a function that should be called to shut down the
	// executor.
	Start(sess *Session) (shutdown func())

	// Run runs every participant of a distributed inner product with
	// the provided configuration, and returns the coordinator's
	// report. If any participant fails, the run fails for all
	// participants and the first error is returned.
	// Runs are numbered from 1 within a session.
	Run(ctx context.Context, run int, config bigdot.Config, group *status.Group) (*bigdot.Report, error)

	// Stats adds the executor's collective counters to values.
	Stats(values stats.Values)

	// HandleDebug adds executor-specific debug handlers to the
	// provided http.ServeMux.
	HandleDebug(handler *http.ServeMux)
}

// Session represents a bigdot compute session: a fixed number of
// participants provided by a single executor. A session may run
// multiple computations.
//
// Some executors launch multiple copies of the binary: in these
// worker processes, Start does not return.
type Session struct {
	index    int32
	shutdown func()
	p        int
	executor Executor
	status   *status.Status

	tracePath string
	tracer    *tracer

	mu   sync.Mutex
	runs int
}

// An Option represents a session configuration parameter value.
type Option func(s *Session)

// Local configures a session with the local executor: participants
// are goroutines in the current process.
var Local Option = func(s *Session) {
	s.executor = newLocalExecutor()
}

// Bigmachine configures a session using the bigmachine executor
// configured with the provided system. The driver process acts as the
// coordinator; every other participant runs on its own machine.
func Bigmachine(system bigmachine.System) Option {
	return func(s *Session) {
		s.executor = newBigmachineExecutor(system)
	}
}

// Parallelism configures the session with the provided number of
// participants.
func Parallelism(p int) Option {
	if p <= 0 {
		panic("exec.Parallelism: p <= 0")
	}
	return func(s *Session) {
		s.p = p
	}
}

// Status configures the session with a status object to which
// run statuses are reported.
func Status(status *status.Status) Option {
	return func(s *Session) {
		s.status = status
	}
}

// TracePath configures the path to which a trace of the session's
// runs is written on shutdown. The path may name any location
// supported by github.com/grailbio/base/file, such as S3.
func TracePath(path string) Option {
	return func(s *Session) {
		s.tracePath = path
	}
}

var nextSessionIndex int32

// Start creates and starts a new session, configuring it according to
// the provided options. If no executor is configured, the session uses
// the local executor. If no parallelism is configured, the session
// has a single participant.
func Start(options ...Option) *Session {
	s := &Session{index: atomic.AddInt32(&nextSessionIndex, 1) - 1}
	for _, opt := range options {
		opt(s)
	}
	if s.p == 0 {
		s.p = 1
	}
	if s.executor == nil {
		s.executor = newLocalExecutor()
	}
	if s.tracePath != "" {
		s.tracer = newTracer()
	}
	s.shutdown = s.executor.Start(s)
	return s
}

// Run runs the distributed inner product with the session's
// participants and returns the coordinator's report.
func (s *Session) Run(ctx context.Context, config bigdot.Config) (*bigdot.Report, error) {
	if err := config.Validate(s.p); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.runs++
	run := s.runs
	s.mu.Unlock()
	var group *status.Group
	if s.status != nil {
		group = s.status.Groupf("run %d (n=%d, p=%d)", run, config.N, s.p)
	}
	log.Debug.Printf("session %d: run %d: n=%d p=%d seed=%d", s.index, run, config.N, s.p, config.Seed)
	report, err := s.executor.Run(ctx, run, config, group)
	if err == nil && report == nil {
		err = errors.E(errors.Invalid, "coordinator produced no report")
	}
	return report, err
}

// Parallelism returns the number of participants in this session.
func (s *Session) Parallelism() int {
	return s.p
}

// Status returns the session's status aggregator, which may be nil.
func (s *Session) Status() *status.Status {
	return s.status
}

// Stats returns a snapshot of the session's collective counters.
func (s *Session) Stats() stats.Values {
	values := make(stats.Values)
	s.executor.Stats(values)
	return values
}

// HandleDebug registers the session's debug handlers on the provided
// mux.
func (s *Session) HandleDebug(handler *http.ServeMux) {
	s.executor.HandleDebug(handler)
	if s.tracer == nil {
		return
	}
	handler.HandleFunc("/debug/trace", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := s.tracer.Marshal(w); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}

// Shutdown tears down resources associated with this session. If the
// session is traced, Shutdown writes the trace.
func (s *Session) Shutdown() {
	if s.shutdown != nil {
		s.shutdown()
	}
	if s.tracer != nil {
		writeTraceFile(s.tracer, s.tracePath)
	}
}

func startTask(group *status.Group, rank, p int) *status.Task {
	if group == nil {
		return nil
	}
	return group.Startf("participant %d/%d", rank, p)
}

func doneTask(task *status.Task, err error) {
	if task == nil {
		return
	}
	if err != nil {
		task.Printf("error: %v", err)
	}
	task.Done()
}
