// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

// Package dsu implements an arena-indexed disjoint-set forest.
//
package dsu

// Forest is a disjoint-set forest over the integers [0, Len()).
// Nodes are indices into flat arrays; there are no pointers between nodes.
//
type Forest struct {
	parent []int32
	size   []int32
}

// New returns a forest of n singleton sets.
//
func New(n int) *Forest {
	f := &Forest{}
	f.Grow(n)
	return f
}

// Len returns the number of nodes in the forest.
//
func (f *Forest) Len() int { return len(f.parent) }

// Grow extends the forest with singleton nodes until it holds at least n
// nodes.
//
func (f *Forest) Grow(n int) {
	for i := len(f.parent); i < n; i++ {
		f.parent = append(f.parent, int32(i))
		f.size = append(f.size, 1)
	}
}

// Find returns the representative of the set containing i. Paths are halved
// along the way.
//
func (f *Forest) Find(i int) int {
	p := f.parent
	x := int32(i)
	for p[x] != x {
		p[x] = p[p[x]]
		x = p[x]
	}
	return int(x)
}

// Union merges the sets containing a and b and returns the representative of
// the merged set. The larger set's root becomes the new root.
//
func (f *Forest) Union(a, b int) int {
	ra, rb := f.Find(a), f.Find(b)
	if ra == rb {
		return ra
	}
	if f.size[ra] < f.size[rb] {
		ra, rb = rb, ra
	}
	f.parent[rb] = int32(ra)
	f.size[ra] += f.size[rb]
	return ra
}

// Same reports whether a and b belong to the same set.
//
func (f *Forest) Same(a, b int) bool { return f.Find(a) == f.Find(b) }

// Size returns the size of the set containing i.
//
func (f *Forest) Size(i int) int { return int(f.size[f.Find(i)]) }

// Reset turns i back into a singleton.
//
// Reset does not fix up other nodes pointing to i: callers must reset every
// member of a set, then rebuild it with Union. This is how a set is split.
//
func (f *Forest) Reset(i int) {
	f.parent[i] = int32(i)
	f.size[i] = 1
}
