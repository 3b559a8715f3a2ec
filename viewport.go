// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

package flipflop

import "github.com/gogpu/gg"

// Viewport is the camera and surface size used to draw a frame. World
// coordinates have y pointing up; screen coordinates are pixels with y
// pointing down.
//
// A Viewport is a value: owners publish a new one for every frame that needs
// it (see Core.SetViewport).
//
type Viewport struct {
	Pan    gg.Point // world position at the center of the screen
	Zoom   float64  // pixels per world unit
	Width  int
	Height int
}

// NewViewport returns a viewport of the given pixel size centered on the
// world origin.
//
func NewViewport(width, height int) Viewport {
	return Viewport{Zoom: 16, Width: width, Height: height}
}

// ViewProj returns the view-projection transform from world coordinates to
// clip space ([-1, 1] on both axes).
//
func (v Viewport) ViewProj() gg.Matrix {
	proj := gg.Scale(2/float64(v.Width), 2/float64(v.Height))
	view := gg.Scale(v.Zoom, v.Zoom).Multiply(gg.Translate(-v.Pan.X, -v.Pan.Y))
	return proj.Multiply(view)
}

// ClipToScreen returns the transform from clip space to pixels.
//
func (v Viewport) ClipToScreen() gg.Matrix {
	w, h := float64(v.Width)/2, float64(v.Height)/2
	return gg.Matrix{
		A: w, B: 0, C: w,
		D: 0, E: -h, F: h,
	}
}

// WorldToScreen returns the transform from world coordinates to pixels.
//
func (v Viewport) WorldToScreen() gg.Matrix {
	return v.ClipToScreen().Multiply(v.ViewProj())
}

// WorldAt returns the world position under the pixel at (x, y), typically the
// mouse cursor.
//
func (v Viewport) WorldAt(x, y float64) gg.Point {
	return gg.Pt(
		(x-float64(v.Width)/2)/v.Zoom+v.Pan.X,
		-(y-float64(v.Height)/2)/v.Zoom+v.Pan.Y,
	)
}
