// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

// Package soft implements a CPU fallback renderer for flipflop instances.
//
// It performs the same work as the instanced GPU pipeline: every instance is
// transformed by the viewport and filled with the color selected by its
// RenderIndex in the current frame.
//
package soft

import (
	"sort"

	"github.com/db47h/flipflop"
	"github.com/gogpu/gg"
	"github.com/pkg/errors"
)

// Instances is implemented by flipflop.InstanceSet and *flipflop.Encoder.
//
type Instances interface {
	Each(fn func(id flipflop.InstanceID, inst flipflop.Instance))
}

// Renderer draws instances on a gg.Context.
//
type Renderer struct {
	Background gg.RGBA

	buf []flipflop.Instance
}

// Draw clears dc and draws all instances with colors resolved from frame f.
// Instances with a higher Z are drawn on top; instances with the same Z are
// drawn in storage order.
//
func (r *Renderer) Draw(dc *gg.Context, insts Instances, res *flipflop.Resolver, f *flipflop.Frame, v flipflop.Viewport) error {
	r.buf = r.buf[:0]
	insts.Each(func(_ flipflop.InstanceID, inst flipflop.Instance) {
		r.buf = append(r.buf, inst)
	})
	sort.SliceStable(r.buf, func(i, j int) bool { return r.buf[i].Z < r.buf[j].Z })

	dc.ClearWithColor(r.Background)
	dc.Push()
	defer dc.Pop()
	dc.SetTransform(v.WorldToScreen())
	for i := range r.buf {
		inst := &r.buf[i]
		c := res.Resolve(inst.Index, inst.Color, f)
		dc.SetRGBA(c.R, c.G, c.B, c.A)
		dc.DrawRectangle(inst.Position[0], inst.Position[1], inst.Size[0], inst.Size[1])
		if err := dc.Fill(); err != nil {
			return errors.Wrapf(err, "fill instance at %v", inst.Position)
		}
	}
	return nil
}

// Snapshot renders the last frame of core into a new width x height
// context.
//
func Snapshot(core *flipflop.Core, width, height int, bg gg.RGBA) (*gg.Context, error) {
	f := core.Frame()
	defer f.Release()
	v := core.Viewport()
	v.Width, v.Height = width, height
	dc := gg.NewContext(width, height)
	r := Renderer{Background: bg}
	if err := r.Draw(dc, core.Instances(), core.Resolver(), f, v); err != nil {
		return nil, err
	}
	return dc, nil
}
