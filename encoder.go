// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

package flipflop

import (
	"sync"

	"github.com/gogpu/gg"
	"github.com/pkg/errors"
)

// Topology maps segments to cluster ids. It is implemented by Allocator.
//
type Topology interface {
	ClusterOf(s SegmentID) ClusterID
	Live() int
}

// InstanceID is a stable handle to a renderable instance.
//
type InstanceID uint64

// An Instance is a renderable rectangle, in world coordinates.
//
type Instance struct {
	Position [2]float64
	Size     [2]float64
	Z        uint8
	Color    gg.RGBA     // explicit color, used when Index is Sentinel
	Index    RenderIndex // set by the Encoder only
}

// A Binding attaches an instance to the cluster of a segment.
//
// Delayed selects the cluster's state at the previous tick (layouts with a
// selector only) and Invert swaps the palette entries.
//
type Binding struct {
	Segment SegmentID
	Delayed bool
	Invert  bool
}

// InstanceSet is a read-only view of an instance store.
//
type InstanceSet interface {
	Each(fn func(id InstanceID, inst Instance))
	Get(id InstanceID) (Instance, bool)
	Len() int
	Generation() uint64
}

type instanceView struct {
	e *Encoder
}

func (v instanceView) Each(fn func(InstanceID, Instance)) { v.e.Each(fn) }
func (v instanceView) Get(id InstanceID) (Instance, bool) { return v.e.Get(id) }
func (v instanceView) Len() int { return v.e.Len() }
func (v instanceView) Generation() uint64 { return v.e.Generation() }

// Encoder stores renderable instances and stamps their RenderIndex.
//
// Stamping happens when an instance is inserted or rebound, and when Apply is
// called with the Change of a topology edit. This is the only way an
// instance's Index is ever modified.
//
// Each, Get, Len and Generation may be called concurrently with any other
// method. Methods that stamp instances read the topology and must be
// serialized with topology edits.
//
type Encoder struct {
	layout   Layout
	topo     Topology
	fallback gg.RGBA

	mu    sync.RWMutex
	items []Instance
	color []gg.RGBA // explicit colors
	binds []*Binding
	ids   []InstanceID
	index map[InstanceID]int
	bySeg map[SegmentID]map[InstanceID]struct{}
	next  InstanceID
	gen   uint64
}

// NewEncoder returns a new encoder for layout l. Instances bound to segments
// that have no cluster are drawn with the fallback color.
//
func NewEncoder(l Layout, topo Topology, fallback gg.RGBA) *Encoder {
	return &Encoder{
		layout:   l,
		topo:     topo,
		fallback: fallback,
		index:    make(map[InstanceID]int),
		bySeg:    make(map[SegmentID]map[InstanceID]struct{}),
	}
}

// Layout returns the encoder's layout.
//
func (e *Encoder) Layout() Layout { return e.layout }

func (e *Encoder) check(b *Binding) error {
	if b != nil && b.Delayed && e.layout.SelectorBits == 0 {
		return errors.Errorf("layout v%d has no delayed selector", e.layout.Version)
	}
	return nil
}

// stamp computes the RenderIndex of instance i.
//
func (e *Encoder) stamp(i int) {
	b := e.binds[i]
	e.items[i].Color = e.color[i]
	if b == nil {
		e.items[i].Index = Sentinel
		return
	}
	c := e.topo.ClusterOf(b.Segment)
	if c == NoCluster {
		e.items[i].Index = Sentinel
		e.items[i].Color = e.fallback
		return
	}
	r, err := e.layout.Encode(c, b.Delayed, b.Invert)
	if err != nil {
		// cluster ids are bounded by the layout's capacity.
		panic(errors.Wrapf(err, "instance %d", e.ids[i]))
	}
	e.items[i].Index = r
}

func (e *Encoder) bind(id InstanceID, b *Binding) {
	if b == nil {
		return
	}
	set := e.bySeg[b.Segment]
	if set == nil {
		set = make(map[InstanceID]struct{})
		e.bySeg[b.Segment] = set
	}
	set[id] = struct{}{}
}

func (e *Encoder) unbind(id InstanceID, b *Binding) {
	if b == nil {
		return
	}
	if set := e.bySeg[b.Segment]; set != nil {
		delete(set, id)
		if len(set) == 0 {
			delete(e.bySeg, b.Segment)
		}
	}
}

// Insert adds a new instance. Static instances (b == nil) always use their
// explicit color.
//
func (e *Encoder) Insert(inst Instance, b *Binding) (InstanceID, error) {
	if err := e.check(b); err != nil {
		return 0, err
	}
	if b != nil {
		bb := *b
		b = &bb
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.next
	e.next++
	i := len(e.items)
	e.items = append(e.items, inst)
	e.color = append(e.color, inst.Color)
	e.binds = append(e.binds, b)
	e.ids = append(e.ids, id)
	e.index[id] = i
	e.bind(id, b)
	e.stamp(i)
	e.gen++
	return id, nil
}

// Update replaces the geometry and explicit color of an instance. Its
// binding and RenderIndex are left untouched.
//
func (e *Encoder) Update(id InstanceID, inst Instance) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	i, ok := e.index[id]
	if !ok {
		return false
	}
	inst.Index = e.items[i].Index
	e.items[i] = inst
	e.color[i] = inst.Color
	e.stamp(i)
	e.gen++
	return true
}

// Rebind changes the binding of an instance and restamps it.
//
func (e *Encoder) Rebind(id InstanceID, b *Binding) error {
	if err := e.check(b); err != nil {
		return err
	}
	if b != nil {
		bb := *b
		b = &bb
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	i, ok := e.index[id]
	if !ok {
		return errors.Errorf("unknown instance %d", id)
	}
	e.unbind(id, e.binds[i])
	e.binds[i] = b
	e.bind(id, b)
	e.stamp(i)
	e.gen++
	return nil
}

// Remove removes an instance. The last instance is moved into its place.
//
func (e *Encoder) Remove(id InstanceID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	i, ok := e.index[id]
	if !ok {
		return false
	}
	e.unbind(id, e.binds[i])
	delete(e.index, id)
	last := len(e.items) - 1
	if i != last {
		e.items[i] = e.items[last]
		e.color[i] = e.color[last]
		e.binds[i] = e.binds[last]
		e.ids[i] = e.ids[last]
		e.index[e.ids[i]] = i
	}
	e.items = e.items[:last]
	e.color = e.color[:last]
	e.binds[last] = nil
	e.binds = e.binds[:last]
	e.ids = e.ids[:last]
	e.gen++
	return true
}

// Apply restamps every instance bound to a segment affected by ch and returns
// the number of restamped instances.
//
func (e *Encoder) Apply(ch Change) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, ss := range [2][]SegmentID{ch.Rebound, ch.Unbound} {
		for _, s := range ss {
			for id := range e.bySeg[s] {
				e.stamp(e.index[id])
				n++
			}
		}
	}
	if n > 0 {
		e.gen++
	}
	return n
}

// Get returns a copy of an instance.
//
func (e *Encoder) Get(id InstanceID) (Instance, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	i, ok := e.index[id]
	if !ok {
		return Instance{}, false
	}
	return e.items[i], true
}

// Len returns the instance count.
//
func (e *Encoder) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.items)
}

// Generation returns a counter incremented on every change to the instance
// set. Renderers compare it to decide whether instance buffers must be
// uploaded again.
//
func (e *Encoder) Generation() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.gen
}

// Each calls fn for every instance in storage order. fn must not call other
// Encoder methods.
//
func (e *Encoder) Each(fn func(id InstanceID, inst Instance)) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for i := range e.items {
		fn(e.ids[i], e.items[i])
	}
}
