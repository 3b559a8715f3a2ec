// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

// Package term renders flipflop instances on a terminal.
//
// Each terminal cell is a pixel of the viewport: a cell is painted with the
// color of the topmost instance covering its center.
//
package term

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/db47h/flipflop"
	"github.com/gdamore/tcell/v2"
	"github.com/gogpu/gg"
	colorful "github.com/lucasb-eyer/go-colorful"
)

// Cell is the rune used to draw instances.
//
const Cell = '█'

// Color converts a gg color to a terminal color. Alpha is ignored.
//
func Color(c gg.RGBA) tcell.Color {
	r, g, b := colorful.Color{R: c.R, G: c.G, B: c.B}.Clamped().RGB255()
	return tcell.NewRGBColor(int32(r), int32(g), int32(b))
}

// Renderer draws instances on a tcell screen.
//
type Renderer struct {
	Screen     tcell.Screen
	Background gg.RGBA

	buf []flipflop.Instance
}

// Draw clears the screen and draws all instances with colors resolved from
// frame f. The viewport size is overridden by the screen size. Show is not
// called.
//
func (r *Renderer) Draw(insts interface {
	Each(func(flipflop.InstanceID, flipflop.Instance))
}, res *flipflop.Resolver, f *flipflop.Frame, v flipflop.Viewport) {
	v.Width, v.Height = r.Screen.Size()
	r.buf = r.buf[:0]
	insts.Each(func(_ flipflop.InstanceID, inst flipflop.Instance) {
		r.buf = append(r.buf, inst)
	})
	sort.SliceStable(r.buf, func(i, j int) bool { return r.buf[i].Z < r.buf[j].Z })

	r.Screen.Fill(' ', tcell.StyleDefault.Background(Color(r.Background)))
	m := v.WorldToScreen()
	for i := range r.buf {
		inst := &r.buf[i]
		p0 := m.TransformPoint(gg.Pt(inst.Position[0], inst.Position[1]))
		p1 := m.TransformPoint(gg.Pt(inst.Position[0]+inst.Size[0], inst.Position[1]+inst.Size[1]))
		x0, x1 := cells(p0.X, p1.X, v.Width)
		y0, y1 := cells(p0.Y, p1.Y, v.Height)
		st := tcell.StyleDefault.Foreground(Color(res.Resolve(inst.Index, inst.Color, f)))
		for y := y0; y < y1; y++ {
			for x := x0; x < x1; x++ {
				r.Screen.SetContent(x, y, Cell, nil, st)
			}
		}
	}
}

// cells returns the range of cells whose center lies between a and b,
// clipped to [0, max).
//
func cells(a, b float64, max int) (int, int) {
	if a > b {
		a, b = b, a
	}
	lo := int(math.Ceil(a - 0.5))
	hi := int(math.Ceil(b - 0.5))
	if lo < 0 {
		lo = 0
	}
	if hi > max {
		hi = max
	}
	return lo, hi
}

// Run redraws the last frame of core every interval until ctx is done or the
// user quits with Escape, Ctrl-C or q. Arrow keys pan the view and +/- zoom.
// The screen must be initialized.
//
func Run(ctx context.Context, s tcell.Screen, core *flipflop.Core, interval time.Duration) error {
	r := Renderer{Screen: s, Background: gg.RGB(0.1, 0.1, 0.1)}
	events := make(chan tcell.Event, 16)
	quit := make(chan struct{})
	defer close(quit)
	go func() {
		for {
			ev := s.PollEvent()
			if ev == nil {
				return
			}
			select {
			case events <- ev:
			case <-quit:
				return
			}
		}
	}()

	t := time.NewTicker(interval)
	defer t.Stop()
	draw := func() {
		f := core.Frame()
		r.Draw(core.Instances(), core.Resolver(), f, core.Viewport())
		f.Release()
		s.Show()
	}
	draw()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-events:
			if !handle(core, ev) {
				return nil
			}
			if _, ok := ev.(*tcell.EventResize); ok {
				s.Sync()
			}
			draw()
		case <-t.C:
			draw()
		}
	}
}

// handle applies a key event to the core's viewport. It returns false when
// the user asked to quit.
//
func handle(core *flipflop.Core, ev tcell.Event) bool {
	k, ok := ev.(*tcell.EventKey)
	if !ok {
		return true
	}
	v := core.Viewport()
	step := 4 / v.Zoom
	switch k.Key() {
	case tcell.KeyEscape, tcell.KeyCtrlC:
		return false
	case tcell.KeyLeft:
		v.Pan.X -= step
	case tcell.KeyRight:
		v.Pan.X += step
	case tcell.KeyUp:
		v.Pan.Y += step
	case tcell.KeyDown:
		v.Pan.Y -= step
	case tcell.KeyRune:
		switch k.Rune() {
		case 'q':
			return false
		case '+':
			v.Zoom *= 2
		case '-':
			if v.Zoom > 1.0/64 {
				v.Zoom /= 2
			}
		}
	}
	core.SetViewport(v)
	return true
}
