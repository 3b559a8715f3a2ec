package sim_test

import (
	"context"
	"testing"

	"github.com/db47h/flipflop"
	"github.com/db47h/flipflop/internal/graphspec"
	"github.com/db47h/flipflop/sim"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

func tick(t *testing.T, c *sim.Circuit, topo flipflop.Topology) []flipflop.Fact {
	t.Helper()
	var fs []flipflop.Fact
	if err := c.Tick(context.Background(), topo, func(f flipflop.Fact) { fs = append(fs, f) }); err != nil {
		t.Fatal(err)
	}
	if len(fs) != topo.Live() {
		t.Fatalf("got %d facts for %d clusters", len(fs), topo.Live())
	}
	return fs
}

func TestCircuit_ringOscillator(t *testing.T) {
	a := flipflop.NewAllocator(32, nil)
	a.Rebuild(graphspec.MustParse("0"))
	c := sim.NewCircuit(0, sim.Gate{Kind: sim.Flip, In: 0, Out: 0})
	defer c.Dispose()

	// the wire starts unpowered, so the first tick powers it.
	want := true
	for i := 0; i < 10; i++ {
		fs := tick(t, c, a)
		if fs[0].Powered != want || fs[0].WasPowered == want {
			t.Fatalf("tick %d: got %+v, expected powered=%v", i+1, fs[0], want)
		}
		want = !want
	}
	if c.Ticks() != 10 {
		t.Errorf("Ticks() = %d", c.Ticks())
	}
}

func TestCircuit_flopChain(t *testing.T) {
	a := flipflop.NewAllocator(32, nil)
	a.Rebuild(graphspec.MustParse("0, 1, 2"))
	c := sim.NewCircuit(2,
		sim.Gate{Kind: sim.Flip, In: 0, Out: 0},
		sim.Gate{Kind: sim.Flop, In: 0, Out: 1},
		sim.Gate{Kind: sim.Flop, In: 1, Out: 2},
	)
	defer c.Dispose()

	var hist [][]flipflop.Fact
	for i := 0; i < 8; i++ {
		hist = append(hist, tick(t, c, a))
	}
	for i := 1; i < len(hist); i++ {
		for k := 1; k < 3; k++ {
			if hist[i][k].Powered != hist[i-1][k-1].Powered {
				t.Fatalf("tick %d: cluster %d = %v, expected cluster %d of previous tick (%v)",
					i+1, k, hist[i][k].Powered, k-1, hist[i-1][k-1].Powered)
			}
		}
	}
}

// On the first tick, gates read every wire as unpowered.
//
func TestCircuit_firstTick(t *testing.T) {
	a := flipflop.NewAllocator(32, nil)
	a.Rebuild(graphspec.MustParse("0, 1, 2"))
	c := sim.NewCircuit(1,
		sim.Gate{Kind: sim.Flip, In: 0, Out: 1},
		sim.Gate{Kind: sim.Flop, In: 1, Out: 2},
	)
	defer c.Dispose()
	fs := tick(t, c, a)
	for i, f := range fs {
		if f.WasPowered {
			t.Errorf("cluster %d: powered before the first tick", i)
		}
	}
	if !fs[1].Powered || fs[2].Powered {
		t.Fatalf("tick 1: got %+v, expected only cluster 1 powered", fs)
	}
	if fs = tick(t, c, a); !fs[2].Powered {
		t.Errorf("tick 2: flop output not powered")
	}
}

func TestCircuit_wiredOr(t *testing.T) {
	a := flipflop.NewAllocator(32, nil)
	a.Rebuild(graphspec.MustParse("0, 1, 2"))
	// an unpowered flop and an inverter of an unpowered wire share cluster 2.
	c := sim.NewCircuit(1,
		sim.Gate{Kind: sim.Flop, In: 0, Out: 2},
		sim.Gate{Kind: sim.Flip, In: 1, Out: 2},
	)
	defer c.Dispose()
	for i := 0; i < 3; i++ {
		if fs := tick(t, c, a); !fs[2].Powered {
			t.Fatalf("tick %d: cluster 2 not powered", i+1)
		}
	}
}

func TestCircuit_gates(t *testing.T) {
	c := sim.NewCircuit(1)
	defer c.Dispose()
	if _, err := c.AddGate(sim.Gate{Kind: sim.Kind(7)}); err == nil {
		t.Error("expected error for invalid gate kind")
	}
	for i := 0; i < 3; i++ {
		if _, err := c.AddGate(sim.Gate{Kind: sim.Flop, In: flipflop.SegmentID(i), Out: flipflop.SegmentID(i)}); err != nil {
			t.Fatal(err)
		}
	}
	if err := c.RemoveGate(0); err != nil {
		t.Fatal(err)
	}
	if err := c.RemoveGate(5); err == nil {
		t.Error("expected error for out of range gate")
	}
	gs := c.Gates()
	if len(gs) != 2 || gs[0].In != 2 || gs[1].In != 1 {
		t.Errorf("Gates() = %v", gs)
	}
	if sim.Flip.String() != "flip" || sim.Flop.String() != "flop" || sim.Kind(7).String() != "unknown" {
		t.Error("wrong kind names")
	}
}

// Editing the topology through a Core refreshes the gate bindings.
//
func TestCircuit_core(t *testing.T) {
	c := sim.NewCircuit(0,
		sim.Gate{Kind: sim.Flip, In: 0, Out: 0},
		sim.Gate{Kind: sim.Flop, In: 0, Out: 1},
	)
	defer c.Dispose()
	log, _ := test.NewNullLogger()
	core, err := flipflop.New(flipflop.Config{Layout: flipflop.V3, Engine: c, Log: logrus.NewEntry(log)})
	if err != nil {
		t.Fatal(err)
	}
	core.Rebuild(graphspec.MustParse("0, 1, 2"))
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		if _, err = core.Step(ctx); err != nil {
			t.Fatal(err)
		}
	}
	// merge the flop output with segment 2.
	if _, err = core.Connect(1, 2); err != nil {
		t.Fatal(err)
	}
	f, err := core.Step(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if core.Live() != 2 {
		t.Fatalf("Live() = %d", core.Live())
	}
	osc := core.ClusterOf(0)
	out := core.ClusterOf(2)
	res := core.Resolver()
	now, _ := flipflop.V3.Encode(out, false, false)
	prev, _ := flipflop.V3.Encode(osc, true, false)
	// the flop output at this tick is the oscillator state at the previous one.
	if res.Entry(now, f) != res.Entry(prev, f) {
		t.Errorf("flop output %d, oscillator delayed %d", res.Entry(now, f), res.Entry(prev, f))
	}
}
