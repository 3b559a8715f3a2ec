// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

package flipflop

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/pkg/errors"
)

// A Fact is the state of one cluster at the end of a tick.
//
type Fact struct {
	Cluster    ClusterID
	Powered    bool
	WasPowered bool // state at the previous tick, used by layouts with a delayed selector
}

// A Frame is a published packed state buffer. Frames are immutable once
// published.
//
// Renderers obtain frames with Packer.Acquire and must Release them once done.
//
type Frame struct {
	Layout Layout
	Words  []uint32
	Tick   uint64
	Dirty  bool // at least one bit differs from the previous frame

	readers atomic.Int32
}

// Release releases a frame obtained with Acquire.
//
func (f *Frame) Release() {
	if f.readers.Add(-1) < 0 {
		panic("frame released more times than acquired")
	}
}

// Bit returns the bit at position pos.
//
func (f *Frame) Bit(pos int) bool {
	return f.Words[pos/wordBits]>>uint(pos%wordBits)&1 != 0
}

// Powered returns the powered state of cluster c.
//
func (f *Frame) Powered(c ClusterID) bool {
	return f.Bit(f.Layout.Slot(c))
}

// Bytes returns the little-endian image of the frame's words, as uploaded to
// a GPU buffer.
//
func (f *Frame) Bytes() []byte {
	b := make([]byte, len(f.Words)*4)
	for i, w := range f.Words {
		binary.LittleEndian.PutUint32(b[i*4:], w)
	}
	return b
}

// A Packer serializes per-cluster powered states into packed state buffers,
// once per tick.
//
// Pack must be called from a single goroutine. Acquire and Latest may be
// called concurrently with Pack.
//
type Packer struct {
	layout Layout
	front  atomic.Pointer[Frame]
	spare  *Frame
	seen   []uint64
	tick   uint64
}

// NewPacker returns a new packer for layout l. An initial frame with all
// clusters unpowered is published.
//
func NewPacker(l Layout) *Packer {
	p := &Packer{layout: l}
	p.front.Store(p.newFrame())
	return p
}

func (p *Packer) newFrame() *Frame {
	return &Frame{Layout: p.layout, Words: make([]uint32, p.layout.Words())}
}

// Layout returns the packer's layout.
//
func (p *Packer) Layout() Layout { return p.layout }

// Latest returns the last published frame without acquiring it. The frame's
// words may be reused by a later call to Pack unless the frame is acquired.
//
func (p *Packer) Latest() *Frame { return p.front.Load() }

// Acquire returns the last published frame. The frame's content is guaranteed
// not to change until it is released. Acquire never blocks.
//
func (p *Packer) Acquire() *Frame {
	for {
		f := p.front.Load()
		f.readers.Add(1)
		if p.front.Load() == f {
			return f
		}
		// a new frame was published in between and f may be reused.
		f.readers.Add(-1)
	}
}

// Pack writes one fact per live cluster into the next buffer and publishes it.
// Every cluster id in [0, live) must be present exactly once in facts. The
// order of facts does not matter.
//
// On error, nothing is published.
//
func (p *Packer) Pack(live int, facts []Fact) (*Frame, error) {
	if live < 0 || live > p.layout.Capacity() {
		return nil, errors.Wrapf(ErrCapacity, "%d live clusters, capacity %d", live, p.layout.Capacity())
	}
	f := p.spare
	if f == nil {
		f = p.newFrame()
	}
	for i := range f.Words {
		f.Words[i] = 0
	}

	n := (live + 63) / 64
	if cap(p.seen) < n {
		p.seen = make([]uint64, n)
	}
	seen := p.seen[:n]
	for i := range seen {
		seen[i] = 0
	}

	delayed := p.layout.SelectorBits > 0
	for _, ft := range facts {
		c := ft.Cluster
		if c < 0 || int(c) >= live {
			return nil, errors.Errorf("fact for cluster %d out of range [0, %d)", c, live)
		}
		if seen[c/64]&(1<<uint(c%64)) != 0 {
			return nil, errors.Errorf("cluster %d written twice", c)
		}
		seen[c/64] |= 1 << uint(c%64)
		pos := p.layout.Slot(c)
		if ft.Powered {
			f.Words[pos/wordBits] |= 1 << uint(pos%wordBits)
		}
		if delayed && ft.WasPowered {
			pos++
			f.Words[pos/wordBits] |= 1 << uint(pos%wordBits)
		}
	}
	if len(facts) != live {
		return nil, errors.Errorf("got %d facts for %d live clusters", len(facts), live)
	}

	prev := p.front.Load()
	f.Dirty = false
	for i, w := range f.Words {
		if w != prev.Words[i] {
			f.Dirty = true
			break
		}
	}
	p.tick++
	f.Tick = p.tick

	p.front.Store(f)
	// prev can be written to again only if no renderer holds it. Readers that
	// acquire it from now on will notice the new front and back off.
	if prev.readers.Load() == 0 {
		p.spare = prev
	} else {
		p.spare = nil
	}
	return f, nil
}
