// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

// Package fftest provides utility functions for testing layouts and
// resolvers.
//
package fftest

import (
	"math/rand"
	"testing"
	"time"

	"github.com/db47h/flipflop"
)

// RandomFrame packs a random state for live clusters and returns the
// published frame along with the facts used to build it.
//
func RandomFrame(t testing.TB, r *rand.Rand, l flipflop.Layout, live int) (*flipflop.Frame, []flipflop.Fact) {
	t.Helper()
	facts := make([]flipflop.Fact, live)
	for i := range facts {
		facts[i] = flipflop.Fact{
			Cluster:    flipflop.ClusterID(i),
			Powered:    r.Int63()&1 != 0,
			WasPowered: r.Int63()&1 != 0,
		}
	}
	r.Shuffle(len(facts), func(i, j int) { facts[i], facts[j] = facts[j], facts[i] })
	p := flipflop.NewPacker(l)
	f, err := p.Pack(live, facts)
	if err != nil {
		t.Fatal(err)
	}
	return f, facts
}

// CompareResolvers checks that the host-side resolver and the branchless
// decode used by shaders agree on iter random frames, for every live cluster
// and every selector/invert combination of layout l.
//
func CompareResolvers(t *testing.T, l flipflop.Layout, live int, iter int) {
	t.Helper()

	seed := time.Now().UnixNano()
	r := rand.New(rand.NewSource(seed))
	res, err := flipflop.NewResolver(l, l, flipflop.DefaultPalette)
	if err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	checks := 0
	for it := 0; it < iter; it++ {
		f, facts := RandomFrame(t, r, l, live)
		for _, ft := range facts {
			for _, delayed := range delayedFlags(l) {
				for _, invert := range []bool{false, true} {
					idx, err := l.Encode(ft.Cluster, delayed, invert)
					if err != nil {
						t.Fatal(err)
					}
					host := res.Entry(idx, f)
					gpu := flipflop.EntryBranchless(idx, f.Words)
					if host != gpu {
						t.Fatalf("seed %d: index %#x: host entry %d, branchless entry %d", seed, uint32(idx), host, gpu)
					}
					state := ft.Powered
					if delayed {
						state = ft.WasPowered
					}
					if want := state != invert; (host == 1) != want {
						t.Fatalf("seed %d: cluster %d (delayed=%v invert=%v): got entry %d", seed, ft.Cluster, delayed, invert, host)
					}
					checks++
				}
			}
		}
	}
	t.Logf("%v: %d checks in %v", l, checks, time.Since(start))
}

func delayedFlags(l flipflop.Layout) []bool {
	if l.SelectorBits > 0 {
		return []bool{false, true}
	}
	return []bool{false}
}
