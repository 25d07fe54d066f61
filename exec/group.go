// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"fmt"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/sync/ctxsync"
	"github.com/grailbio/bigdot"
	"github.com/grailbio/bigdot/stats"
)

type collectiveKind int

const (
	kindScatter collectiveKind = iota
	kindReduce
)

func (k collectiveKind) String() string {
	switch k {
	case kindScatter:
		return "scatter"
	case kindReduce:
		return "reduce"
	default:
		return fmt.Sprintf("collective(%d)", int(k))
	}
}

// A collective is the rendezvous state of one collective operation.
// Collectives are keyed by their sequence number: the n-th collective
// call of every participant joins the same collective.
type collective struct {
	kind collectiveKind
	root int

	arrived, departed int

	chunks   []bigdot.Vector
	partials []float64
	sum      float64

	done bool
	err  error
}

// A Group is a set of in-process participants that communicate
// through shared rendezvous state. Every participant of a group owns
// one Comm, retrieved by Comm.
type Group struct {
	p     int
	stats *stats.Map

	mu          sync.Mutex
	cond        *ctxsync.Cond
	collectives map[int]*collective
}

// NewGroup returns a new group of p participants.
func NewGroup(p int) *Group {
	if p <= 0 {
		panic("exec.NewGroup: p <= 0")
	}
	g := &Group{
		p:           p,
		stats:       stats.NewMap(),
		collectives: make(map[int]*collective),
	}
	g.cond = ctxsync.NewCond(&g.mu)
	return g
}

// Comm returns the communicator of the participant with the given
// rank.
func (g *Group) Comm(rank int) bigdot.Comm {
	if rank < 0 || rank >= g.p {
		panic(fmt.Sprintf("exec.Group.Comm: rank %d out of range [0, %d)", rank, g.p))
	}
	return &groupComm{group: g, rank: rank}
}

// Stats adds the group's counters to values.
func (g *Group) Stats(values stats.Values) {
	g.stats.AddAll(values)
}

// join enters the calling participant into the collective with the
// given sequence number, deposits its contribution, and waits for the
// collective to complete or fail. Join is called with g.mu held.
func (g *Group) join(ctx context.Context, seq int, kind collectiveKind, root int, deposit func(c *collective) error) (*collective, error) {
	c := g.collectives[seq]
	if c == nil {
		c = &collective{
			kind:     kind,
			root:     root,
			chunks:   make([]bigdot.Vector, g.p),
			partials: make([]float64, g.p),
		}
		g.collectives[seq] = c
	}
	switch {
	case c.err != nil:
	case c.kind != kind || c.root != root:
		g.fail(c, errors.E(errors.Invalid,
			fmt.Sprintf("collective %d mismatch: %s(root=%d) called during %s(root=%d)", seq, kind, root, c.kind, c.root)))
	default:
		if err := deposit(c); err != nil {
			g.fail(c, err)
		}
	}
	c.arrived++
	if c.err == nil && c.arrived == g.p {
		g.complete(c)
	}
	g.cond.Broadcast()
	for !c.done && c.err == nil {
		if err := g.cond.Wait(ctx); err != nil {
			g.fail(c, errors.E(errors.Canceled, fmt.Sprintf("%s %d abandoned", kind, seq), err))
			g.cond.Broadcast()
		}
	}
	c.departed++
	if c.departed == g.p {
		delete(g.collectives, seq)
	}
	return c, c.err
}

func (g *Group) fail(c *collective, err error) {
	if c.err != nil {
		return
	}
	c.err = err
	c.chunks = nil
	g.stats.Int(stats.Abort).Add(1)
}

// complete finishes the collective c once every participant has
// arrived. Partial sums are accumulated in ascending rank order, so
// that the result depends only on the group size.
func (g *Group) complete(c *collective) {
	switch c.kind {
	case kindScatter:
		var n int
		for _, chunk := range c.chunks {
			n += len(chunk)
		}
		g.stats.Int(stats.Scatter).Add(1)
		g.stats.Int(stats.ScatterElems).Add(int64(n))
		g.stats.Int(stats.ScatterBytes).Add(int64(8 * n))
	case kindReduce:
		c.sum = c.partials[0]
		for _, v := range c.partials[1:] {
			c.sum += v
		}
		g.stats.Int(stats.Reduce).Add(1)
	}
	c.done = true
}

// groupComm is the bigdot.Comm of a single participant of a Group.
type groupComm struct {
	group *Group
	rank  int
	// seq is the sequence number of the participant's next collective.
	seq int
}

func (c *groupComm) Rank() int { return c.rank }
func (c *groupComm) Size() int { return c.group.p }

func (c *groupComm) Scatter(ctx context.Context, root int, full bigdot.Vector) (bigdot.Vector, error) {
	g := c.group
	seq := c.seq
	c.seq++
	g.mu.Lock()
	defer g.mu.Unlock()
	coll, err := g.join(ctx, seq, kindScatter, root, func(coll *collective) error {
		if c.rank != root {
			return nil
		}
		chunks, err := bigdot.Split(full, g.p)
		if err != nil {
			return err
		}
		coll.chunks = chunks
		return nil
	})
	if err != nil {
		return nil, err
	}
	chunk := coll.chunks[c.rank]
	coll.chunks[c.rank] = nil
	return chunk, nil
}

func (c *groupComm) Reduce(ctx context.Context, root int, v float64) (float64, error) {
	g := c.group
	seq := c.seq
	c.seq++
	g.mu.Lock()
	defer g.mu.Unlock()
	coll, err := g.join(ctx, seq, kindReduce, root, func(coll *collective) error {
		coll.partials[c.rank] = v
		return nil
	})
	if err != nil || c.rank != root {
		return 0, err
	}
	return coll.sum, nil
}
