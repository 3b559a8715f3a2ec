package flipflop_test

import (
	"math/rand"
	"reflect"
	"testing"

	"github.com/db47h/flipflop"
	"github.com/db47h/flipflop/internal/graphspec"
	"github.com/pkg/errors"
)

type seg = flipflop.SegmentID

func rebuild(t *testing.T, a *flipflop.Allocator, spec string) flipflop.Change {
	t.Helper()
	return a.Rebuild(graphspec.MustParse(spec))
}

func expectClusters(t *testing.T, a *flipflop.Allocator, want map[seg]flipflop.ClusterID) {
	t.Helper()
	for s, c := range want {
		if got := a.ClusterOf(s); got != c {
			t.Errorf("ClusterOf(%d) = %d, expected %d", s, got, c)
		}
	}
}

func TestAllocator_groups(t *testing.T) {
	a := flipflop.NewAllocator(flipflop.V1.Capacity(), nil)
	// three unrelated segments, a group of 3 and a group of 5.
	rebuild(t, a, "0, 1, 2, 10-11-12-10, 20-21-22-23-24-20, 20-22, 21-23")
	if a.Live() != 5 {
		t.Fatalf("Live() = %d, expected 5", a.Live())
	}
	if m := a.Members(3); !reflect.DeepEqual(m, []seg{10, 11, 12}) {
		t.Errorf("Members(3) = %v", m)
	}
	if m := a.Members(4); !reflect.DeepEqual(m, []seg{20, 21, 22, 23, 24}) {
		t.Errorf("Members(4) = %v", m)
	}

	ch, err := a.Add(30, 12, 20)
	if err != nil {
		t.Fatal(err)
	}
	if a.Live() != 4 || ch.Live != 4 {
		t.Fatalf("Live() = %d, expected 4", a.Live())
	}
	expectClusters(t, a, map[seg]flipflop.ClusterID{0: 0, 1: 1, 2: 2})
	for _, s := range []seg{10, 11, 12, 20, 21, 22, 23, 24, 30} {
		if c := a.ClusterOf(s); c != 3 {
			t.Errorf("ClusterOf(%d) = %d, expected 3", s, c)
		}
	}
	if want := []seg{20, 21, 22, 23, 24, 30}; !reflect.DeepEqual(ch.Rebound, want) {
		t.Errorf("Rebound = %v, expected %v", ch.Rebound, want)
	}
}

// A merge keeps ids dense: the highest cluster, unrelated to the merge, moves
// into the freed id and is the only other renumbered cluster.
//
func TestAllocator_mergeRelocate(t *testing.T) {
	a := flipflop.NewAllocator(flipflop.V1.Capacity(), nil)
	rebuild(t, a, "0-1-2, 10-11-12-13-14, 100, 101, 102")
	expectClusters(t, a, map[seg]flipflop.ClusterID{0: 0, 10: 1, 100: 2, 101: 3, 102: 4})

	ch, err := a.Add(50, 2, 10)
	if err != nil {
		t.Fatal(err)
	}
	if a.Live() != 4 {
		t.Fatalf("Live() = %d, expected 4", a.Live())
	}
	expectClusters(t, a, map[seg]flipflop.ClusterID{0: 0, 10: 0, 50: 0, 100: 2, 101: 3, 102: 1})
	if want := []seg{10, 11, 12, 13, 14, 50, 102}; !reflect.DeepEqual(ch.Rebound, want) {
		t.Errorf("Rebound = %v, expected %v", ch.Rebound, want)
	}
}

func TestAllocator_relocate(t *testing.T) {
	a := flipflop.NewAllocator(flipflop.V1.Capacity(), nil)
	rebuild(t, a, "0, 1, 2, 3")
	ch, err := a.Connect(0, 1)
	if err != nil {
		t.Fatal(err)
	}
	// id 1 is freed and the highest cluster takes its place.
	expectClusters(t, a, map[seg]flipflop.ClusterID{0: 0, 1: 0, 2: 2, 3: 1})
	if want := []seg{1, 3}; !reflect.DeepEqual(ch.Rebound, want) {
		t.Errorf("Rebound = %v, expected %v", ch.Rebound, want)
	}
	// connecting twice is a no-op
	ch, err = a.Connect(1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !ch.Empty() {
		t.Errorf("unexpected change %+v", ch)
	}
}

func TestAllocator_split(t *testing.T) {
	a := flipflop.NewAllocator(flipflop.V1.Capacity(), nil)
	rebuild(t, a, "0-1-2-3, 4")
	ch, err := a.Remove(1)
	if err != nil {
		t.Fatal(err)
	}
	expectClusters(t, a, map[seg]flipflop.ClusterID{0: 0, 1: flipflop.NoCluster, 2: 2, 3: 2, 4: 1})
	if want := []seg{2, 3}; !reflect.DeepEqual(ch.Rebound, want) {
		t.Errorf("Rebound = %v, expected %v", ch.Rebound, want)
	}
	if a.Live() != 3 {
		t.Errorf("Live() = %d, expected 3", a.Live())
	}
	if n := a.Neighbors(0); len(n) != 0 {
		t.Errorf("Neighbors(0) = %v", n)
	}

	ch, err = a.Disconnect(2, 3)
	if err != nil {
		t.Fatal(err)
	}
	expectClusters(t, a, map[seg]flipflop.ClusterID{2: 2, 3: 3})
	if want := []seg{3}; !reflect.DeepEqual(ch.Rebound, want) {
		t.Errorf("Rebound = %v, expected %v", ch.Rebound, want)
	}
}

func TestAllocator_removeLast(t *testing.T) {
	a := flipflop.NewAllocator(flipflop.V1.Capacity(), nil)
	rebuild(t, a, "0, 1, 2")
	if _, err := a.Remove(0); err != nil {
		t.Fatal(err)
	}
	expectClusters(t, a, map[seg]flipflop.ClusterID{0: flipflop.NoCluster, 1: 1, 2: 0})
	if !reflect.DeepEqual(a.Segments(), []seg{1, 2}) {
		t.Errorf("Segments() = %v", a.Segments())
	}
	// removed ids can be reused
	if _, err := a.Add(0, 1); err != nil {
		t.Fatal(err)
	}
	expectClusters(t, a, map[seg]flipflop.ClusterID{0: 1, 1: 1, 2: 0})
}

func TestAllocator_malformed(t *testing.T) {
	a := flipflop.NewAllocator(flipflop.V1.Capacity(), nil)
	ch := a.Rebuild(flipflop.Graph{
		Segments: []seg{0, 1, 2},
		Edges:    []flipflop.Edge{{0, 1}, {1, 5}, {2, 2}, {-1, 0}},
	})
	if len(ch.Dropped) != 3 {
		t.Errorf("dropped %v, expected 3 edges", ch.Dropped)
	}
	expectClusters(t, a, map[seg]flipflop.ClusterID{0: 0, 1: 0, 2: 1})

	ch, err := a.Add(7, 0, 9, 7)
	if err != nil {
		t.Fatal(err)
	}
	if want := []flipflop.Edge{{7, 9}, {7, 7}}; !reflect.DeepEqual(ch.Dropped, want) {
		t.Errorf("dropped %v, expected %v", ch.Dropped, want)
	}
	expectClusters(t, a, map[seg]flipflop.ClusterID{7: 0})
}

func TestAllocator_errors(t *testing.T) {
	a := flipflop.NewAllocator(flipflop.V1.Capacity(), nil)
	rebuild(t, a, "0-1")
	if _, err := a.Add(-1); err == nil {
		t.Error("Add(-1): expected error")
	}
	if _, err := a.Add(1); err == nil {
		t.Error("Add(1): expected error for existing segment")
	}
	for name, fn := range map[string]func() error{
		"remove":     func() error { _, err := a.Remove(4); return err },
		"connect":    func() error { _, err := a.Connect(0, 4); return err },
		"disconnect": func() error { _, err := a.Disconnect(4, 0); return err },
	} {
		if err := fn(); errors.Cause(err) != flipflop.ErrUnknownSegment {
			t.Errorf("%s: got error %v, expected %v", name, err, flipflop.ErrUnknownSegment)
		}
	}
}

func TestAllocator_overflow(t *testing.T) {
	a := flipflop.NewAllocator(2, nil)
	rebuild(t, a, "0, 1, 2")
	if a.Live() != 2 || a.Overflow() != 1 {
		t.Fatalf("Live() = %d, Overflow() = %d", a.Live(), a.Overflow())
	}
	expectClusters(t, a, map[seg]flipflop.ClusterID{2: flipflop.NoCluster})

	ch, err := a.Remove(0)
	if err != nil {
		t.Fatal(err)
	}
	expectClusters(t, a, map[seg]flipflop.ClusterID{1: 0, 2: 1})
	if want := []seg{1, 2}; !reflect.DeepEqual(ch.Rebound, want) {
		t.Errorf("Rebound = %v, expected %v", ch.Rebound, want)
	}
	if a.Overflow() != 0 {
		t.Errorf("Overflow() = %d", a.Overflow())
	}
}

func TestAllocator_unbound(t *testing.T) {
	a := flipflop.NewAllocator(2, nil)
	rebuild(t, a, "0, 5")
	ch := rebuild(t, a, "0, 1, 5")
	if want := []seg{5}; !reflect.DeepEqual(ch.Unbound, want) {
		t.Errorf("Unbound = %v, expected %v", ch.Unbound, want)
	}
	if want := []seg{1}; !reflect.DeepEqual(ch.Rebound, want) {
		t.Errorf("Rebound = %v, expected %v", ch.Rebound, want)
	}
}

// checkAllocator verifies that ids are dense and that two segments share an
// id if and only if they are connected.
//
func checkAllocator(t *testing.T, a *flipflop.Allocator) {
	t.Helper()
	comp := make(map[seg]int)
	n := 0
	for _, s := range a.Segments() {
		if _, ok := comp[s]; ok {
			continue
		}
		comp[s] = n
		q := []seg{s}
		for len(q) > 0 {
			x := q[0]
			q = q[1:]
			for _, y := range a.Neighbors(x) {
				if _, ok := comp[y]; !ok {
					comp[y] = n
					q = append(q, y)
				}
			}
		}
		n++
	}
	if a.Live() != n {
		t.Fatalf("Live() = %d, expected %d components", a.Live(), n)
	}
	byID := make(map[flipflop.ClusterID]int)
	for s, k := range comp {
		c := a.ClusterOf(s)
		if c < 0 || int(c) >= a.Live() {
			t.Fatalf("segment %d: cluster %d out of range", s, c)
		}
		if prev, ok := byID[c]; ok && prev != k {
			t.Fatalf("cluster %d spans two components", c)
		}
		byID[c] = k
	}
	if len(byID) != n {
		t.Fatalf("%d cluster ids for %d components", len(byID), n)
	}
}

func TestAllocator_random(t *testing.T) {
	const segs = 48
	r := rand.New(rand.NewSource(42))
	a := flipflop.NewAllocator(flipflop.V1.Capacity(), nil)
	rebuild(t, a, "")
	for i := 0; i < 2000; i++ {
		s := seg(r.Intn(segs))
		live := a.Segments()
		switch op := r.Intn(4); {
		case op == 0 && len(live) > 0:
			if _, err := a.Remove(live[r.Intn(len(live))]); err != nil {
				t.Fatal(err)
			}
		case op == 1 && len(live) > 1:
			if _, err := a.Connect(live[r.Intn(len(live))], live[r.Intn(len(live))]); err != nil {
				t.Fatal(err)
			}
		case op == 2 && len(live) > 1:
			x := live[r.Intn(len(live))]
			if n := a.Neighbors(x); len(n) > 0 {
				if _, err := a.Disconnect(x, n[r.Intn(len(n))]); err != nil {
					t.Fatal(err)
				}
			}
		default:
			if a.ClusterOf(s) != flipflop.NoCluster {
				continue
			}
			var nb []seg
			for k := r.Intn(3); k > 0 && len(live) > 0; k-- {
				nb = append(nb, live[r.Intn(len(live))])
			}
			if _, err := a.Add(s, nb...); err != nil {
				t.Fatal(err)
			}
		}
		checkAllocator(t, a)
	}
}
