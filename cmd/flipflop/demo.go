// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

package main

import (
	"fmt"
	"strings"

	"github.com/db47h/flipflop"
	"github.com/db47h/flipflop/internal/graphspec"
	"github.com/db47h/flipflop/sim"
	"github.com/gogpu/gg"
	"github.com/pkg/errors"
)

var gateColor = map[sim.Kind]gg.RGBA{
	sim.Flip: gg.RGB(0.2, 0.4, 0.9),
	sim.Flop: gg.RGB(0.2, 0.8, 0.4),
}

// demo returns a ring oscillator of n inverters (n must be odd) with a delay
// line of flops hanging off its first wire.
//
// Ring wire i is made of segments 2i and 2i+1 (two touching halves); delay
// wire k is segment 1000+k.
//
func demo(n, delay int) (flipflop.Graph, []sim.Gate, error) {
	if n < 1 || n%2 == 0 {
		return flipflop.Graph{}, nil, errors.Errorf("ring length must be odd, got %d", n)
	}
	var parts []string
	for i := 0; i < n; i++ {
		parts = append(parts, fmt.Sprintf("%d-%d", 2*i, 2*i+1))
	}
	for k := 0; k < delay; k++ {
		parts = append(parts, fmt.Sprint(1000+k))
	}
	g, err := graphspec.Parse(strings.Join(parts, ","))
	if err != nil {
		return g, nil, err
	}

	var gates []sim.Gate
	for i := 0; i < n; i++ {
		gates = append(gates, sim.Gate{Kind: sim.Flip, In: flipflop.SegmentID(2*i + 1), Out: flipflop.SegmentID(2 * ((i + 1) % n))})
	}
	in := flipflop.SegmentID(1)
	for k := 0; k < delay; k++ {
		out := flipflop.SegmentID(1000 + k)
		gates = append(gates, sim.Gate{Kind: sim.Flop, In: in, Out: out})
		in = out
	}
	return g, gates, nil
}

type placed struct {
	inst flipflop.Instance
	b    *flipflop.Binding
}

// scene adds one row of instances per gate: its input wire, the gate body,
// and an indicator lit when the gate output is off. Layouts with a delayed
// selector also show the previous state of the input wire.
//
func scene(core *flipflop.Core, gates []sim.Gate) error {
	delayed := core.Layout().SelectorBits > 0
	y0 := float64(len(gates)) * 1.5
	for i, gt := range gates {
		y := y0 - float64(3*i)
		insts := []placed{
			{flipflop.Instance{Position: [2]float64{-6, y}, Size: [2]float64{8, 1}}, &flipflop.Binding{Segment: gt.In}},
			{flipflop.Instance{Position: [2]float64{2, y - 0.5}, Size: [2]float64{2, 2}, Z: 1, Color: gateColor[gt.Kind]}, nil},
			{flipflop.Instance{Position: [2]float64{4.5, y}, Size: [2]float64{1, 1}, Z: 2}, &flipflop.Binding{Segment: gt.Out, Invert: true}},
		}
		if delayed {
			insts = append(insts, placed{flipflop.Instance{Position: [2]float64{-6, y - 1}, Size: [2]float64{8, 0.5}}, &flipflop.Binding{Segment: gt.In, Delayed: true}})
		}
		for _, it := range insts {
			if _, err := core.AddInstance(it.inst, it.b); err != nil {
				return errors.Wrapf(err, "gate %d", i)
			}
		}
	}
	return nil
}
