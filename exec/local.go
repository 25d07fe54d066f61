// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"net/http"
	"sync"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
	"github.com/grailbio/bigdot"
	"github.com/grailbio/bigdot/internal/trace"
	"github.com/grailbio/bigdot/stats"
	"golang.org/x/sync/errgroup"
)

// localExecutor runs each participant in its own goroutine in the
// current process. Participants of a run share a Group.
type localExecutor struct {
	sess *Session

	mu    sync.Mutex
	stats stats.Values
}

func newLocalExecutor() *localExecutor {
	return &localExecutor{stats: make(stats.Values)}
}

func (l *localExecutor) Start(sess *Session) (shutdown func()) {
	l.sess = sess
	return func() {}
}

func (l *localExecutor) Run(ctx context.Context, run int, config bigdot.Config, group *status.Group) (*bigdot.Report, error) {
	var (
		p       = l.sess.p
		comms   = NewGroup(p)
		reports = make([]*bigdot.Report, p)
	)
	g, ctx := errgroup.WithContext(ctx)
	for rank := 0; rank < p; rank++ {
		rank := rank
		comm := traceComm(l.sess.tracer, run, comms.Comm(rank))
		g.Go(func() error {
			task := startTask(group, rank, p)
			end := l.sess.tracer.Span(run, rank, trace.CatRun, "run", "n", config.N, "p", p)
			report, err := bigdot.Run(ctx, comm, config, task)
			end(err)
			doneTask(task, err)
			if err != nil {
				log.Debug.Printf("exec.Local: participant %d: %v", rank, err)
				return err
			}
			reports[rank] = report
			return nil
		})
	}
	err := g.Wait()
	l.mu.Lock()
	comms.Stats(l.stats)
	l.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return reports[config.Root], nil
}

func (l *localExecutor) Stats(values stats.Values) {
	l.mu.Lock()
	values.Add(l.stats)
	l.mu.Unlock()
}

func (*localExecutor) HandleDebug(*http.ServeMux) {}
