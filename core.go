// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

package flipflop

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/gg"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// An Engine evaluates the circuit. Tick runs one simulation step and must call
// emit exactly once for every live cluster id in [0, topo.Live()).
//
type Engine interface {
	Tick(ctx context.Context, topo Topology, emit func(Fact)) error
}

// An Observer is an Engine that wants to be notified synchronously of
// topology changes.
//
type Observer interface {
	TopologyChanged(topo Topology, ch Change)
}

// Config configures a Core.
//
type Config struct {
	// Packed buffer layout used by the packer and the encoder.
	Layout Layout
	// Layout the renderer was built for. Zero means Layout.
	RendererLayout Layout
	Engine         Engine
	Palette        Palette
	// Color of cluster bound instances whose cluster could not be allocated.
	Fallback gg.RGBA
	Log      *logrus.Entry
}

// Core coordinates the cluster allocator, the state packer, the index encoder
// and the palette resolver.
//
// Topology edits and ticks are serialized: an edit never happens while a tick
// is being evaluated or packed. Renderers never wait for a tick: Frame,
// Resolver, Instances and Viewport only touch atomically published state.
//
type Core struct {
	mu     sync.Mutex // serializes edits and ticks
	layout Layout
	alloc  *Allocator
	packer *Packer
	enc    *Encoder
	res    *Resolver
	engine Engine
	facts  []Fact
	log    *logrus.Entry

	view atomic.Pointer[Viewport]

	subMu sync.Mutex
	subs  []func(*Frame)
}

// New returns a new Core. It fails if the layout is invalid or if the
// renderer layout does not match the encoder layout.
//
func New(cfg Config) (*Core, error) {
	if cfg.Engine == nil {
		return nil, errors.New("no simulation engine")
	}
	if err := cfg.Layout.Valid(); err != nil {
		return nil, err
	}
	rl := cfg.RendererLayout
	if rl == (Layout{}) {
		rl = cfg.Layout
	}
	pal := cfg.Palette
	if pal == (Palette{}) {
		pal = DefaultPalette
	}
	log := cfg.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	alloc := NewAllocator(cfg.Layout.Capacity(), log)
	enc := NewEncoder(cfg.Layout, alloc, cfg.Fallback)
	res, err := NewResolver(rl, enc.Layout(), pal)
	if err != nil {
		return nil, err
	}
	c := &Core{
		layout: cfg.Layout,
		alloc:  alloc,
		packer: NewPacker(cfg.Layout),
		enc:    enc,
		res:    res,
		engine: cfg.Engine,
		log:    log.WithField("component", "core"),
	}
	v := NewViewport(800, 600)
	c.view.Store(&v)
	c.log.WithField("layout", cfg.Layout.String()).Info("core ready")
	return c, nil
}

// Layout returns the packed buffer layout.
//
func (c *Core) Layout() Layout { return c.layout }

// Resolver returns the palette resolver.
//
func (c *Core) Resolver() *Resolver { return c.res }

// Instances returns a read-only view of the instance store. Instances are
// modified through Core methods only.
//
func (c *Core) Instances() InstanceSet { return instanceView{c.enc} }

// Frame returns the last published frame. Callers must release it.
//
func (c *Core) Frame() *Frame { return c.packer.Acquire() }

// SetPalette atomically replaces the palette.
//
func (c *Core) SetPalette(p Palette) { c.res.SetPalette(p) }

// Viewport returns the current viewport.
//
func (c *Core) Viewport() Viewport { return *c.view.Load() }

// SetViewport atomically replaces the viewport.
//
func (c *Core) SetViewport(v Viewport) { c.view.Store(&v) }

// OnPublish registers fn to be called after every tick that published a dirty
// frame. The frame is only valid for the duration of the call.
//
func (c *Core) OnPublish(fn func(*Frame)) {
	c.subMu.Lock()
	c.subs = append(c.subs, fn)
	c.subMu.Unlock()
}

// ClusterOf returns the cluster id of segment s.
//
func (c *Core) ClusterOf(s SegmentID) ClusterID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alloc.ClusterOf(s)
}

// Live returns the live cluster count.
//
func (c *Core) Live() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alloc.Live()
}

func (c *Core) apply(op string, ch Change) Change {
	n := c.enc.Apply(ch)
	if o, ok := c.engine.(Observer); ok {
		o.TopologyChanged(c.alloc, ch)
	}
	c.log.WithFields(logrus.Fields{
		"op":        op,
		"live":      ch.Live,
		"rebound":   len(ch.Rebound),
		"unbound":   len(ch.Unbound),
		"restamped": n,
	}).Debug("topology changed")
	return ch
}

// Rebuild replaces the whole topology.
//
func (c *Core) Rebuild(g Graph) Change {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.apply("rebuild", c.alloc.Rebuild(g))
}

// AddSegment adds segment s connected to neighbors.
//
func (c *Core) AddSegment(s SegmentID, neighbors ...SegmentID) (Change, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, err := c.alloc.Add(s, neighbors...)
	if err != nil {
		return ch, err
	}
	return c.apply("add", ch), nil
}

// RemoveSegment removes segment s.
//
func (c *Core) RemoveSegment(s SegmentID) (Change, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, err := c.alloc.Remove(s)
	if err != nil {
		return ch, err
	}
	return c.apply("remove", ch), nil
}

// Connect connects segments x and y.
//
func (c *Core) Connect(x, y SegmentID) (Change, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, err := c.alloc.Connect(x, y)
	if err != nil {
		return ch, err
	}
	return c.apply("connect", ch), nil
}

// Disconnect removes the connection between segments x and y.
//
func (c *Core) Disconnect(x, y SegmentID) (Change, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, err := c.alloc.Disconnect(x, y)
	if err != nil {
		return ch, err
	}
	return c.apply("disconnect", ch), nil
}

// AddInstance adds a renderable instance. b is nil for static instances.
//
func (c *Core) AddInstance(inst Instance, b *Binding) (InstanceID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enc.Insert(inst, b)
}

// RebindInstance changes the binding of an instance.
//
func (c *Core) RebindInstance(id InstanceID, b *Binding) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enc.Rebind(id, b)
}

// UpdateInstance updates the geometry and explicit color of an instance.
//
func (c *Core) UpdateInstance(id InstanceID, inst Instance) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enc.Update(id, inst)
}

// RemoveInstance removes an instance.
//
func (c *Core) RemoveInstance(id InstanceID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enc.Remove(id)
}

// Step runs one tick: the engine reports the state of every cluster, then the
// packer publishes a new frame. The returned frame is not acquired.
//
func (c *Core) Step(ctx context.Context) (*Frame, error) {
	c.mu.Lock()
	c.facts = c.facts[:0]
	err := c.engine.Tick(ctx, c.alloc, func(f Fact) { c.facts = append(c.facts, f) })
	if err != nil {
		c.mu.Unlock()
		return nil, errors.Wrap(err, "engine tick")
	}
	f, err := c.packer.Pack(c.alloc.Live(), c.facts)
	if err != nil {
		c.mu.Unlock()
		return nil, errors.Wrap(err, "pack")
	}
	if !f.Dirty {
		c.mu.Unlock()
		return f, nil
	}
	// hold f until subscribers are done with it.
	f.readers.Add(1)
	c.mu.Unlock()

	c.subMu.Lock()
	subs := c.subs
	c.subMu.Unlock()
	for _, fn := range subs {
		fn(f)
	}
	f.Release()
	return f, nil
}

// Run ticks at the given rate (in Hz) until ctx is done or a tick fails.
//
func (c *Core) Run(ctx context.Context, rate float64) error {
	if rate <= 0 {
		return errors.Errorf("invalid tick rate %v", rate)
	}
	t := time.NewTicker(time.Duration(float64(time.Second) / rate))
	defer t.Stop()
	c.log.WithField("rate", rate).Info("simulation started")
	for {
		select {
		case <-ctx.Done():
			c.log.Info("simulation stopped")
			return ctx.Err()
		case <-t.C:
			if _, err := c.Step(ctx); err != nil {
				c.log.WithError(err).Error("tick failed")
				return err
			}
		}
	}
}
