// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

package flipflop

import (
	"sync/atomic"

	"github.com/gogpu/gg"
	"github.com/pkg/errors"
)

// A Palette holds the colors of cluster driven instances.
//
type Palette struct {
	Off gg.RGBA
	On  gg.RGBA
}

// DefaultPalette is black when off and red when on.
//
var DefaultPalette = Palette{Off: gg.RGB(0, 0, 0), On: gg.RGB(1, 0, 0)}

// At returns the palette entry i: 0 for Off, 1 for On.
//
func (p *Palette) At(i uint32) gg.RGBA {
	if i == 0 {
		return p.Off
	}
	return p.On
}

// Resolver turns a RenderIndex and a packed state buffer into a color.
//
// This is the host-side copy of the decode done in the vertex shader. Any
// difference between the two is a bug.
//
type Resolver struct {
	layout  Layout
	palette atomic.Pointer[Palette]
}

// NewResolver returns a resolver for frames produced with the encoder layout
// enc. It fails with ErrLayoutMismatch if enc and the resolver layout l are
// different.
//
func NewResolver(l Layout, enc Layout, p Palette) (*Resolver, error) {
	if err := l.Valid(); err != nil {
		return nil, err
	}
	if err := CheckLayout(enc, l); err != nil {
		return nil, errors.Wrap(err, "resolver")
	}
	r := &Resolver{layout: l}
	r.palette.Store(&p)
	return r, nil
}

// Layout returns the resolver's layout.
//
func (r *Resolver) Layout() Layout { return r.layout }

// Palette returns the current palette.
//
func (r *Resolver) Palette() Palette { return *r.palette.Load() }

// SetPalette atomically replaces the palette.
//
func (r *Resolver) SetPalette(p Palette) { r.palette.Store(&p) }

func (r *Resolver) frameCheck(f *Frame) {
	if f.Layout != r.layout {
		panic(errors.Wrapf(ErrLayoutMismatch, "frame %v, resolver %v", f.Layout, r.layout))
	}
}

// Entry returns the palette entry selected by idx in frame f: 0 or 1. It
// panics if idx is the Sentinel or addresses a bit outside of the buffer.
//
func (r *Resolver) Entry(idx RenderIndex, f *Frame) uint32 {
	r.frameCheck(f)
	pos := uint32(idx) >> 1
	if int(pos) >= r.layout.Bits() {
		panic(errors.Errorf("RenderIndex %#x out of range for layout %v", uint32(idx), r.layout))
	}
	word := pos / wordBits
	bit := pos % wordBits
	on := f.Words[word]>>bit&1 != 0
	invert := idx&1 != 0
	if on != invert {
		return 1
	}
	return 0
}

// Resolve returns the color of an instance with RenderIndex idx and explicit
// color explicit.
//
func (r *Resolver) Resolve(idx RenderIndex, explicit gg.RGBA, f *Frame) gg.RGBA {
	if idx == Sentinel {
		return explicit
	}
	p := r.palette.Load()
	return p.At(r.Entry(idx, f))
}

// EntryBranchless computes the same value as Entry using only shifts, masks
// and XOR, the way the vertex shader does. idx must not be the Sentinel and
// range checks are left to the caller.
//
func EntryBranchless(idx RenderIndex, words []uint32) uint32 {
	pos := uint32(idx) >> 1
	return (words[pos>>5] >> (pos & 31) & 1) ^ (uint32(idx) & 1)
}
