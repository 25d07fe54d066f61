// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"math"
	"net/http"
	"sync"

	"github.com/grailbio/base/data"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
	"github.com/grailbio/base/sync/ctxsync"
	"github.com/grailbio/bigdot"
	"github.com/grailbio/bigdot/internal/trace"
	"github.com/grailbio/bigdot/stats"
	"github.com/grailbio/bigmachine"
	"github.com/spaolacci/murmur3"
	"golang.org/x/sync/errgroup"
)

// BigmachineStatusGroup is the name of the status group used to
// report machine state.
const BigmachineStatusGroup = "bigmachine"

func init() {
	gob.Register(&participant{})
}

// bigmachineExecutor runs the coordinator in the driver process and
// each other participant on its own bigmachine machine. Machine i
// hosts the participant of rank i+1. Only the driver can be the
// root of a collective.
type bigmachineExecutor struct {
	system bigmachine.System

	sess *Session
	b    *bigmachine.B

	machinesOnce sync.Once
	machinesErr  error

	mu       sync.Mutex
	machines []*bigmachine.Machine

	status *status.Group
	stats  *stats.Map
}

func newBigmachineExecutor(system bigmachine.System) *bigmachineExecutor {
	return &bigmachineExecutor{system: system, stats: stats.NewMap()}
}

// Start starts the underlying bigmachine. In worker processes, Start
// does not return.
func (b *bigmachineExecutor) Start(sess *Session) (shutdown func()) {
	b.sess = sess
	b.b = bigmachine.Start(b.system)
	if status := sess.Status(); status != nil {
		b.status = status.Group(BigmachineStatusGroup)
	}
	return b.b.Shutdown
}

// initMachines starts one machine for each non-coordinator
// participant and waits for all of them to be running.
func (b *bigmachineExecutor) initMachines(ctx context.Context) error {
	b.machinesOnce.Do(func() {
		n := b.sess.p - 1
		if n == 0 {
			return
		}
		log.Printf("starting %d bigmachines", n)
		machines, err := b.b.Start(ctx, n, bigmachine.Services{
			"Participant": &participant{},
		})
		if err != nil {
			b.machinesErr = err
			return
		}
		g, _ := errgroup.WithContext(ctx)
		for i := range machines {
			m := machines[i]
			var task *status.Task
			if b.status != nil {
				task = b.status.Startf("participant %d", i+1)
				task.Print("waiting for machine to boot")
			}
			g.Go(func() error {
				<-m.Wait(bigmachine.Running)
				if err := m.Err(); err != nil {
					log.Error.Printf("machine %s failed to start: %v", m.Addr, err)
					doneTask(task, err)
					return err
				}
				if task != nil {
					task.Title(m.Addr)
					task.Print("running")
				}
				log.Printf("machine %v is ready", m.Addr)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			b.machinesErr = err
			return
		}
		b.mu.Lock()
		b.machines = machines
		b.mu.Unlock()
	})
	return b.machinesErr
}

// Machines returns the machines hosting the remote participants, in
// rank order; it is empty until they are all running.
func (b *bigmachineExecutor) Machines() []*bigmachine.Machine {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.machines
}

func (b *bigmachineExecutor) Run(ctx context.Context, runIndex int, config bigdot.Config, group *status.Group) (*bigdot.Report, error) {
	if config.Root != 0 {
		return nil, errors.E(errors.NotSupported, fmt.Sprintf("root %d: only the driver may be root", config.Root))
	}
	if err := b.initMachines(ctx); err != nil {
		return nil, err
	}
	run := uint64(runIndex)
	if err := b.join(ctx, run, func(int) bigdot.Config { return config }); err != nil {
		return nil, err
	}
	return b.drive(ctx, runIndex, config, group)
}

// join starts the remote participants of a run, each with the
// configuration returned by config for its rank. If any participant
// fails to join, the run is aborted on every machine.
func (b *bigmachineExecutor) join(ctx context.Context, run uint64, config func(rank int) bigdot.Config) error {
	var (
		machines = b.Machines()
		p        = len(machines) + 1
	)
	g, ctx := errgroup.WithContext(ctx)
	for i, m := range machines {
		i, m := i, m
		g.Go(func() error {
			req := joinRequest{Run: run, Rank: i + 1, Size: p, Config: config(i + 1)}
			return m.Call(ctx, "Participant.Join", req, nil)
		})
	}
	if err := g.Wait(); err != nil {
		b.abort(run)
		return err
	}
	return nil
}

// drive runs the coordinator of a joined run in the driver process and
// then waits for every remote participant. If the coordinator fails,
// including when a remote participant's failure surfaces through a
// collective, the run is aborted on every machine.
func (b *bigmachineExecutor) drive(ctx context.Context, runIndex int, config bigdot.Config, group *status.Group) (*bigdot.Report, error) {
	var (
		machines = b.Machines()
		p        = len(machines) + 1
		run      = uint64(runIndex)
	)
	comm := traceComm(b.sess.tracer, runIndex, &driverComm{machines: machines, run: run, stats: b.stats})
	task := startTask(group, 0, p)
	end := b.sess.tracer.Span(runIndex, 0, trace.CatRun, "run", "n", config.N, "p", p)
	report, err := bigdot.Run(ctx, comm, config, task)
	end(err)
	doneTask(task, err)
	if err != nil {
		b.abort(run)
		return nil, err
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, m := range machines {
		m := m
		g.Go(func() error {
			return m.Call(gctx, "Participant.Wait", run, nil)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return report, nil
}

// abort cancels a run on every machine. Abort is best effort: errors
// are logged.
func (b *bigmachineExecutor) abort(run uint64) {
	b.stats.Int(stats.Abort).Add(1)
	var wg sync.WaitGroup
	for _, m := range b.Machines() {
		m := m
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.Call(context.Background(), "Participant.Abort", run, nil); err != nil {
				log.Error.Printf("abort run %d on %s: %v", run, m.Addr, err)
			}
		}()
	}
	wg.Wait()
}

func (b *bigmachineExecutor) Stats(values stats.Values) {
	b.stats.AddAll(values)
	for _, m := range b.Machines() {
		var remote stats.Values
		if err := m.Call(context.Background(), "Participant.Stats", struct{}{}, &remote); err != nil {
			log.Error.Printf("stats %s: %v", m.Addr, err)
			continue
		}
		values.Add(remote)
	}
}

func (b *bigmachineExecutor) HandleDebug(handler *http.ServeMux) {
	b.b.HandleDebug(handler)
}

// checksum returns the murmur3 hash of the little-endian encoding
// of v.
func checksum(v bigdot.Vector) uint64 {
	h := murmur3.New64()
	var buf [8]byte
	for _, x := range v {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(x))
		h.Write(buf[:])
	}
	return h.Sum64()
}

// driverComm is the coordinator's communicator: collectives are
// carried out by calls to the participants' machines.
type driverComm struct {
	machines []*bigmachine.Machine
	run      uint64
	stats    *stats.Map
	seq      int
}

func (c *driverComm) Rank() int { return 0 }
func (c *driverComm) Size() int { return len(c.machines) + 1 }

func (c *driverComm) Scatter(ctx context.Context, root int, full bigdot.Vector) (bigdot.Vector, error) {
	seq := c.seq
	c.seq++
	if root != 0 {
		return nil, errors.E(errors.NotSupported, fmt.Sprintf("scatter %d: root %d", seq, root))
	}
	chunks, err := bigdot.Split(full, c.Size())
	if err != nil {
		return nil, err
	}
	g, ctx := errgroup.WithContext(ctx)
	for i, m := range c.machines {
		i, m := i, m
		g.Go(func() error {
			chunk := chunks[i+1]
			msg := chunkMessage{Run: c.run, Seq: seq, Data: chunk, Sum: checksum(chunk)}
			return m.Call(ctx, "Participant.Deliver", msg, nil)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	c.stats.Int(stats.Scatter).Add(1)
	c.stats.Int(stats.ScatterElems).Add(int64(len(full)))
	c.stats.Int(stats.ScatterBytes).Add(int64(8 * len(full)))
	log.Debug.Printf("run %d: scatter %d: delivered %s", c.run, seq, data.Size(8*len(full)))
	return chunks[0], nil
}

func (c *driverComm) Reduce(ctx context.Context, root int, v float64) (float64, error) {
	seq := c.seq
	c.seq++
	if root != 0 {
		return 0, errors.E(errors.NotSupported, fmt.Sprintf("reduce %d: root %d", seq, root))
	}
	partials := make([]float64, c.Size())
	partials[0] = v
	g, ctx := errgroup.WithContext(ctx)
	for i, m := range c.machines {
		i, m := i, m
		g.Go(func() error {
			return m.Call(ctx, "Participant.Partial", partialRequest{Run: c.run, Seq: seq}, &partials[i+1])
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	sum := partials[0]
	for _, x := range partials[1:] {
		sum += x
	}
	c.stats.Int(stats.Reduce).Add(1)
	return sum, nil
}

type joinRequest struct {
	Run    uint64
	Rank   int
	Size   int
	Config bigdot.Config
}

type chunkMessage struct {
	Run  uint64
	Seq  int
	Data bigdot.Vector
	Sum  uint64
}

type partialRequest struct {
	Run uint64
	Seq int
}

// remoteRun is the state of a run on a participant's machine.
type remoteRun struct {
	cancel   func()
	chunks   map[int]bigdot.Vector
	partials map[int]float64
	done     bool
	err      error
}

// participant is the bigmachine service that hosts a non-coordinator
// participant.
type participant struct {
	// Exported satisfies gob: we need at least one exported field.
	Exported struct{}

	mu    sync.Mutex
	cond  *ctxsync.Cond
	runs  map[uint64]*remoteRun
	stats *stats.Map
}

func (p *participant) Init(b *bigmachine.B) error {
	p.cond = ctxsync.NewCond(&p.mu)
	p.runs = make(map[uint64]*remoteRun)
	p.stats = stats.NewMap()
	return nil
}

// Join starts the participant's run. The run proceeds in the
// background; its outcome is retrieved by Wait.
func (p *participant) Join(ctx context.Context, req joinRequest, _ *struct{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.runs[req.Run] != nil {
		return errors.E(errors.Exists, fmt.Sprintf("run %d", req.Run))
	}
	runCtx, cancel := context.WithCancel(context.Background())
	r := &remoteRun{
		cancel:   cancel,
		chunks:   make(map[int]bigdot.Vector),
		partials: make(map[int]float64),
	}
	p.runs[req.Run] = r
	comm := &mailboxComm{p: p, run: req.Run, state: r, rank: req.Rank, size: req.Size}
	go func() {
		_, err := bigdot.Run(runCtx, comm, req.Config, nil)
		if err != nil {
			log.Error.Printf("run %d: participant %d: %v", req.Run, req.Rank, err)
		}
		p.mu.Lock()
		r.done = true
		r.err = err
		p.cond.Broadcast()
		p.mu.Unlock()
		cancel()
	}()
	return nil
}

// Deliver places a scattered chunk in the run's mailbox.
func (p *participant) Deliver(ctx context.Context, msg chunkMessage, _ *struct{}) error {
	if sum := checksum(msg.Data); sum != msg.Sum {
		return errors.E(errors.Integrity,
			fmt.Sprintf("run %d: scatter %d: checksum %x, expected %x", msg.Run, msg.Seq, sum, msg.Sum))
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	r := p.runs[msg.Run]
	if r == nil {
		return errors.E(errors.NotExist, fmt.Sprintf("run %d", msg.Run))
	}
	r.chunks[msg.Seq] = msg.Data
	p.stats.Int(stats.Scatter).Add(1)
	p.stats.Int(stats.ScatterElems).Add(int64(len(msg.Data)))
	p.stats.Int(stats.ScatterBytes).Add(int64(8 * len(msg.Data)))
	p.cond.Broadcast()
	return nil
}

// Partial waits for the participant's contribution to a reduction and
// returns it.
func (p *participant) Partial(ctx context.Context, req partialRequest, v *float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	r := p.runs[req.Run]
	if r == nil {
		return errors.E(errors.NotExist, fmt.Sprintf("run %d", req.Run))
	}
	for {
		if x, ok := r.partials[req.Seq]; ok {
			*v = x
			delete(r.partials, req.Seq)
			p.stats.Int(stats.Reduce).Add(1)
			p.cond.Broadcast()
			return nil
		}
		if r.done {
			if r.err != nil {
				return r.err
			}
			return errors.E(errors.Invalid, fmt.Sprintf("run %d finished without reduce %d", req.Run, req.Seq))
		}
		if err := p.cond.Wait(ctx); err != nil {
			return err
		}
	}
}

// Wait waits for the run to finish and returns its error.
func (p *participant) Wait(ctx context.Context, run uint64, _ *struct{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	r := p.runs[run]
	if r == nil {
		return errors.E(errors.NotExist, fmt.Sprintf("run %d", run))
	}
	for !r.done {
		if err := p.cond.Wait(ctx); err != nil {
			return err
		}
	}
	delete(p.runs, run)
	return r.err
}

// Abort cancels the run and discards its state.
func (p *participant) Abort(ctx context.Context, run uint64, _ *struct{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if r := p.runs[run]; r != nil {
		r.cancel()
		delete(p.runs, run)
		p.stats.Int(stats.Abort).Add(1)
	}
	return nil
}

// Stats returns the participant's counters.
func (p *participant) Stats(ctx context.Context, _ struct{}, values *stats.Values) error {
	*values = make(stats.Values)
	p.stats.AddAll(*values)
	return nil
}

// mailboxComm is the communicator of a participant hosted by a
// machine: chunks arrive through Deliver, and partials leave through
// Partial.
type mailboxComm struct {
	p     *participant
	run   uint64
	state *remoteRun
	rank  int
	size  int
	seq   int
}

func (c *mailboxComm) Rank() int { return c.rank }
func (c *mailboxComm) Size() int { return c.size }

func (c *mailboxComm) Scatter(ctx context.Context, root int, _ bigdot.Vector) (bigdot.Vector, error) {
	seq := c.seq
	c.seq++
	if root != 0 {
		return nil, errors.E(errors.NotSupported, fmt.Sprintf("scatter %d: root %d", seq, root))
	}
	c.p.mu.Lock()
	defer c.p.mu.Unlock()
	for {
		if chunk, ok := c.state.chunks[seq]; ok {
			delete(c.state.chunks, seq)
			return chunk, nil
		}
		if err := c.p.cond.Wait(ctx); err != nil {
			return nil, errors.E(errors.Canceled, fmt.Sprintf("scatter %d abandoned", seq), err)
		}
	}
}

func (c *mailboxComm) Reduce(ctx context.Context, root int, v float64) (float64, error) {
	seq := c.seq
	c.seq++
	if root != 0 {
		return 0, errors.E(errors.NotSupported, fmt.Sprintf("reduce %d: root %d", seq, root))
	}
	c.p.mu.Lock()
	defer c.p.mu.Unlock()
	c.state.partials[seq] = v
	c.p.cond.Broadcast()
	for {
		if _, ok := c.state.partials[seq]; !ok {
			return 0, nil
		}
		if err := c.p.cond.Wait(ctx); err != nil {
			return 0, errors.E(errors.Canceled, fmt.Sprintf("reduce %d abandoned", seq), err)
		}
	}
}
