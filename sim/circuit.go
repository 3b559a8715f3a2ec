// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

// Package sim provides a reference simulation engine for flip/flop circuits.
//
// A circuit is made of wire segments, grouped into clusters by a
// flipflop.Allocator, and of gates. A gate reads the cluster of its input
// segment and drives the cluster of its output segment:
//
//	Flip: out = !in (inverting)
//	Flop: out = in
//
// All gates are updated simultaneously: during a tick, every gate reads the
// state of its input cluster as it stood at the end of the previous tick. A
// cluster is powered if any gate driving it outputs true.
//
package sim

import (
	"context"
	"runtime"
	"sync"

	"github.com/db47h/flipflop"
	"github.com/pkg/errors"
)

// Kind is the kind of a gate.
//
type Kind int

// Gate kinds.
//
const (
	Flip Kind = iota // inverting
	Flop             // non-inverting
)

func (k Kind) String() string {
	switch k {
	case Flip:
		return "flip"
	case Flop:
		return "flop"
	}
	return "unknown"
}

// A Gate is a single input logic element.
//
type Gate struct {
	Kind Kind
	In   flipflop.SegmentID
	Out  flipflop.SegmentID
}

type span struct {
	lo, hi int
}

// Circuit is a runnable circuit simulation. It implements flipflop.Engine and
// flipflop.Observer.
//
type Circuit struct {
	mu    sync.Mutex
	gates []Gate
	s0    []bool // gate outputs frame #0
	s1    []bool // gate outputs frame #1
	in    []flipflop.ClusterID
	out   []flipflop.ClusterID
	stale bool
	prev  []bool // cluster states at the previous tick
	cur   []bool // cluster states at the current tick
	tick  uint64

	wc []chan span
	wg sync.WaitGroup
}

// NewCircuit returns a new circuit with the given gates.
//
// workers is the number of goroutines used to update gates each tick. If less
// or equal to 0, the value of GOMAXPROCS will be used.
//
// Callers must make sure to call Dispose() once the circuit is no longer needed
// in order to release allocated resources.
//
func NewCircuit(workers int, gates ...Gate) *Circuit {
	c := &Circuit{stale: true}
	for _, g := range gates {
		c.addGate(g)
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(-1)
	}
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		wc := make(chan span, 1)
		c.wc = append(c.wc, wc)
		go worker(c, wc)
	}
	return c
}

func worker(c *Circuit, wc <-chan span) {
	for {
		s, ok := <-wc
		if !ok {
			c.wg.Done()
			return
		}
		c.eval(s.lo, s.hi)
		c.wg.Done()
	}
}

// Dispose stops worker goroutines.
//
func (c *Circuit) Dispose() {
	c.wg.Add(len(c.wc))
	for _, wc := range c.wc {
		close(wc)
	}
	c.wg.Wait()
}

func (c *Circuit) addGate(g Gate) int {
	c.gates = append(c.gates, g)
	// a flip with an unpowered input is on.
	c.s0 = append(c.s0, g.Kind == Flip)
	c.s1 = append(c.s1, false)
	c.in = append(c.in, flipflop.NoCluster)
	c.out = append(c.out, flipflop.NoCluster)
	c.stale = true
	return len(c.gates) - 1
}

// AddGate adds a gate and returns its index.
//
func (c *Circuit) AddGate(g Gate) (int, error) {
	if g.Kind != Flip && g.Kind != Flop {
		return -1, errors.Errorf("invalid gate kind %d", g.Kind)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addGate(g), nil
}

// RemoveGate removes gate i. The last gate takes its index.
//
func (c *Circuit) RemoveGate(i int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i < 0 || i >= len(c.gates) {
		return errors.Errorf("gate %d out of range", i)
	}
	last := len(c.gates) - 1
	c.gates[i], c.s0[i] = c.gates[last], c.s0[last]
	c.gates, c.s0, c.s1 = c.gates[:last], c.s0[:last], c.s1[:last]
	c.in, c.out = c.in[:last], c.out[:last]
	c.stale = true
	return nil
}

// Gates returns a copy of the gate list.
//
func (c *Circuit) Gates() []Gate {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Gate(nil), c.gates...)
}

// Output returns the output state of gate i.
//
func (c *Circuit) Output(i int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.s0[i]
}

// Ticks returns the number of ticks run so far.
//
func (c *Circuit) Ticks() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tick
}

// TopologyChanged implements flipflop.Observer.
//
func (c *Circuit) TopologyChanged(_ flipflop.Topology, _ flipflop.Change) {
	c.mu.Lock()
	c.stale = true
	c.mu.Unlock()
}

func (c *Circuit) refresh(topo flipflop.Topology) {
	for i, g := range c.gates {
		c.in[i] = topo.ClusterOf(g.In)
		c.out[i] = topo.ClusterOf(g.Out)
	}
	c.stale = false
}

// drive computes cluster states from gate outputs s.
//
func (c *Circuit) drive(dst []bool, s []bool) {
	for i := range dst {
		dst[i] = false
	}
	for i, o := range c.out {
		if o != flipflop.NoCluster && int(o) < len(dst) && s[i] {
			dst[o] = true
		}
	}
}

func (c *Circuit) eval(lo, hi int) {
	for i := lo; i < hi; i++ {
		in := c.in[i] != flipflop.NoCluster && int(c.in[i]) < len(c.prev) && c.prev[c.in[i]]
		c.s1[i] = (c.gates[i].Kind == Flip) != in
	}
}

// Tick implements flipflop.Engine.
//
func (c *Circuit) Tick(ctx context.Context, topo flipflop.Topology, emit func(flipflop.Fact)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stale {
		c.refresh(topo)
	}
	live := topo.Live()
	if cap(c.prev) < live {
		c.prev = make([]bool, live)
		c.cur = make([]bool, live)
	}
	c.prev, c.cur = c.prev[:live], c.cur[:live]
	if c.tick > 0 {
		c.drive(c.prev, c.s0)
	} else {
		// wires are unpowered until the first tick.
		for i := range c.prev {
			c.prev[i] = false
		}
	}

	n := len(c.gates)
	size := (n + len(c.wc) - 1) / len(c.wc)
	for k, lo := 0, 0; lo < n; k, lo = k+1, lo+size {
		hi := lo + size
		if hi > n {
			hi = n
		}
		c.wg.Add(1)
		c.wc[k] <- span{lo, hi}
	}
	c.wg.Wait()
	c.s0, c.s1 = c.s1, c.s0
	c.tick++

	c.drive(c.cur, c.s0)
	for i := 0; i < live; i++ {
		emit(flipflop.Fact{Cluster: flipflop.ClusterID(i), Powered: c.cur[i], WasPowered: c.prev[i]})
	}
	return nil
}
