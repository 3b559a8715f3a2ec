// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

package flipflop

import (
	"sort"

	"github.com/db47h/flipflop/internal/dsu"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// SegmentID identifies a wire segment. Segment ids are owned by the simulation
// engine's topology and must be non-negative.
//
type SegmentID int

// ClusterID is the dense id of a cluster of connected segments.
//
type ClusterID int32

// NoCluster is the ClusterID of segments that have no cluster binding: dead
// segments or segments of a component that did not fit in the packed buffer.
//
const NoCluster ClusterID = -1

// An Edge connects two touching segments.
//
type Edge [2]SegmentID

// A Graph is a connectivity graph: nodes are segments, edges are touching
// pairs.
//
type Graph struct {
	Segments []SegmentID
	Edges    []Edge
}

// A Change describes the effects of a topology edit on segment to cluster
// bindings.
//
type Change struct {
	Rebound []SegmentID // live segments bound to a new cluster id
	Unbound []SegmentID // segments that lost their binding: removed or capacity exceeded
	Dropped []Edge      // malformed edges that were ignored
	Live    int         // live cluster count after the edit
}

// Empty returns true if the change does not affect any binding.
//
func (c *Change) Empty() bool {
	return len(c.Rebound) == 0 && len(c.Unbound) == 0
}

type segment struct {
	live bool
	adj  []SegmentID
}

type cluster struct {
	id      ClusterID // NoCluster for overflow components
	members []SegmentID
}

// Allocator groups connected segments into clusters and assigns them dense
// ids in [0, Live()).
//
// Connected components are tracked with a disjoint-set forest. Ids are
// assigned in a deterministic order and edits only renumber the clusters they
// affect: a merge keeps the smallest id of the merged clusters, a split keeps
// the id for the part holding the smallest segment id. When an id is freed,
// the cluster with the highest id is moved into the hole in order to keep ids
// dense.
//
// An Allocator is not safe for concurrent use.
//
type Allocator struct {
	capacity int
	segs     []segment
	forest   *dsu.Forest
	owner    []*cluster // valid at forest roots only
	clusters []*cluster // indexed by ClusterID
	overflow []*cluster
	log      *logrus.Entry

	touched map[SegmentID]ClusterID // bindings before the current edit
	dropped []Edge
}

// NewAllocator returns a new allocator that can bind at most capacity
// clusters. If log is nil, the standard logrus logger is used.
//
func NewAllocator(capacity int, log *logrus.Entry) *Allocator {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Allocator{
		capacity: capacity,
		forest:   dsu.New(0),
		log:      log.WithField("component", "allocator"),
	}
}

// Capacity returns the maximum number of live clusters.
//
func (a *Allocator) Capacity() int { return a.capacity }

// Live returns the live cluster count.
//
func (a *Allocator) Live() int { return len(a.clusters) }

// Overflow returns the number of connected components that could not be bound
// to a cluster id.
//
func (a *Allocator) Overflow() int { return len(a.overflow) }

func (a *Allocator) isLive(s SegmentID) bool {
	return s >= 0 && int(s) < len(a.segs) && a.segs[s].live
}

func (a *Allocator) clusterOf(s SegmentID) *cluster {
	return a.owner[a.forest.Find(int(s))]
}

// ClusterOf returns the cluster id of segment s, or NoCluster if s is not a
// live segment or if its component is not bound.
//
func (a *Allocator) ClusterOf(s SegmentID) ClusterID {
	if !a.isLive(s) {
		return NoCluster
	}
	return a.clusterOf(s).id
}

// Members returns the segments of cluster id in ascending order.
//
func (a *Allocator) Members(id ClusterID) []SegmentID {
	if id < 0 || int(id) >= len(a.clusters) {
		return nil
	}
	m := append([]SegmentID(nil), a.clusters[id].members...)
	sort.Slice(m, func(i, j int) bool { return m[i] < m[j] })
	return m
}

// Segments returns the live segments in ascending order.
//
func (a *Allocator) Segments() []SegmentID {
	var out []SegmentID
	for i := range a.segs {
		if a.segs[i].live {
			out = append(out, SegmentID(i))
		}
	}
	return out
}

// Neighbors returns the segments connected to s.
//
func (a *Allocator) Neighbors(s SegmentID) []SegmentID {
	if !a.isLive(s) {
		return nil
	}
	return append([]SegmentID(nil), a.segs[s].adj...)
}

func (a *Allocator) grow(s SegmentID) {
	n := int(s) + 1
	if n <= len(a.segs) {
		return
	}
	a.segs = append(a.segs, make([]segment, n-len(a.segs))...)
	a.owner = append(a.owner, make([]*cluster, n-len(a.owner))...)
	a.forest.Grow(n)
}

func (a *Allocator) begin() {
	a.touched = make(map[SegmentID]ClusterID)
	a.dropped = nil
}

// touch records the binding of s before it is modified.
//
func (a *Allocator) touch(ss ...SegmentID) {
	for _, s := range ss {
		if _, ok := a.touched[s]; !ok {
			a.touched[s] = a.ClusterOf(s)
		}
	}
}

func (a *Allocator) end() Change {
	a.promote()
	ch := Change{Dropped: a.dropped, Live: len(a.clusters)}
	for s, before := range a.touched {
		switch now := a.ClusterOf(s); {
		case now == before:
		case now == NoCluster:
			ch.Unbound = append(ch.Unbound, s)
		default:
			ch.Rebound = append(ch.Rebound, s)
		}
	}
	sort.Slice(ch.Rebound, func(i, j int) bool { return ch.Rebound[i] < ch.Rebound[j] })
	sort.Slice(ch.Unbound, func(i, j int) bool { return ch.Unbound[i] < ch.Unbound[j] })
	a.touched = nil
	a.dropped = nil
	return ch
}

func (a *Allocator) drop(e Edge) {
	a.dropped = append(a.dropped, e)
	a.log.WithFields(logrus.Fields{"from": e[0], "to": e[1]}).Warn("malformed edge dropped")
}

// newCluster binds members (which must form a single forest tree rooted at
// root) to a new cluster id, or to an overflow component if the allocator is
// full.
//
func (a *Allocator) newCluster(root int, members []SegmentID) *cluster {
	c := &cluster{id: NoCluster, members: members}
	a.owner[root] = c
	if len(a.clusters) < a.capacity {
		c.id = ClusterID(len(a.clusters))
		a.clusters = append(a.clusters, c)
		return c
	}
	a.overflow = append(a.overflow, c)
	a.log.WithFields(logrus.Fields{
		"segments": len(members),
		"capacity": a.capacity,
	}).Warn(ErrCapacity.Error())
	return c
}

// release frees the id (or overflow slot) of c. The cluster with the highest
// id is moved into the freed slot.
//
func (a *Allocator) release(c *cluster) {
	if c.id == NoCluster {
		for i, o := range a.overflow {
			if o == c {
				a.overflow = append(a.overflow[:i], a.overflow[i+1:]...)
				break
			}
		}
		return
	}
	last := len(a.clusters) - 1
	if int(c.id) != last {
		moved := a.clusters[last]
		a.touch(moved.members...)
		moved.id = c.id
		a.clusters[c.id] = moved
	}
	a.clusters[last] = nil
	a.clusters = a.clusters[:last]
	c.id = NoCluster
}

// promote binds overflow components to free ids, smallest segment first.
//
func (a *Allocator) promote() {
	if len(a.overflow) == 0 || len(a.clusters) >= a.capacity {
		return
	}
	sort.Slice(a.overflow, func(i, j int) bool {
		return minSegment(a.overflow[i].members) < minSegment(a.overflow[j].members)
	})
	for len(a.overflow) > 0 && len(a.clusters) < a.capacity {
		c := a.overflow[0]
		a.overflow = a.overflow[1:]
		a.touch(c.members...)
		c.id = ClusterID(len(a.clusters))
		a.clusters = append(a.clusters, c)
		a.log.WithFields(logrus.Fields{"cluster": c.id, "segments": len(c.members)}).Info("overflow component bound")
	}
}

// merge merges clusters x and y and returns the surviving cluster, which is
// the one with the smallest id. Bound clusters win over overflow components.
//
func (a *Allocator) merge(x, y *cluster) *cluster {
	if x == y {
		return x
	}
	if y.id != NoCluster && (x.id == NoCluster || y.id < x.id) {
		x, y = y, x
	}
	a.touch(y.members...)
	r := a.forest.Union(int(x.members[0]), int(y.members[0]))
	a.owner[r] = x
	x.members = append(x.members, y.members...)
	a.release(y)
	return x
}

func minSegment(ss []SegmentID) SegmentID {
	m := ss[0]
	for _, s := range ss[1:] {
		if s < m {
			m = s
		}
	}
	return m
}

func (a *Allocator) link(x, y SegmentID) bool {
	for _, n := range a.segs[x].adj {
		if n == y {
			return false
		}
	}
	a.segs[x].adj = append(a.segs[x].adj, y)
	a.segs[y].adj = append(a.segs[y].adj, x)
	return true
}

func (a *Allocator) unlink(x, y SegmentID) bool {
	if !a.detach(x, y) {
		return false
	}
	a.detach(y, x)
	return true
}

// detach removes y from the adjacency list of x.
//
func (a *Allocator) detach(x, y SegmentID) bool {
	adj := a.segs[x].adj
	for i, n := range adj {
		if n == y {
			adj[i] = adj[len(adj)-1]
			a.segs[x].adj = adj[:len(adj)-1]
			return true
		}
	}
	return false
}

// Rebuild discards the current topology and allocates clusters for graph g.
// Cluster ids are assigned in ascending order of each component's smallest
// segment. Edges referencing segments that are not in g.Segments are dropped.
//
func (a *Allocator) Rebuild(g Graph) Change {
	a.begin()
	for i := range a.segs {
		if a.segs[i].live {
			a.touch(SegmentID(i))
		}
	}
	for _, s := range g.Segments {
		if s >= 0 {
			a.touch(s)
		}
	}

	a.segs = nil
	a.owner = nil
	a.clusters = nil
	a.overflow = nil
	a.forest = dsu.New(0)

	for _, s := range g.Segments {
		if s < 0 {
			continue
		}
		a.grow(s)
		a.segs[s].live = true
	}
	for _, e := range g.Edges {
		if !a.isLive(e[0]) || !a.isLive(e[1]) || e[0] == e[1] {
			a.drop(e)
			continue
		}
		a.link(e[0], e[1])
		a.forest.Union(int(e[0]), int(e[1]))
	}

	byRoot := make(map[int]*cluster)
	for i := range a.segs {
		if !a.segs[i].live {
			continue
		}
		r := a.forest.Find(i)
		if c := byRoot[r]; c != nil {
			c.members = append(c.members, SegmentID(i))
			continue
		}
		byRoot[r] = a.newCluster(r, []SegmentID{SegmentID(i)})
	}
	return a.end()
}

// Add adds segment s connected to the given neighbors. s joins the cluster of
// its neighbors, merging them if they belong to different clusters, or
// creates a new singleton cluster if it has no live neighbor.
//
// Neighbors that are not live segments are dropped and reported in the
// returned Change. It is an error to add a segment that already exists.
//
func (a *Allocator) Add(s SegmentID, neighbors ...SegmentID) (Change, error) {
	if s < 0 {
		return Change{}, errors.Errorf("invalid segment id %d", s)
	}
	if a.isLive(s) {
		return Change{}, errors.Errorf("segment %d already exists", s)
	}
	a.begin()
	a.touch(s)
	a.grow(s)
	a.forest.Reset(int(s))
	a.segs[s] = segment{live: true}

	var target *cluster
	for _, n := range neighbors {
		if n == s || !a.isLive(n) {
			a.drop(Edge{s, n})
			continue
		}
		if !a.link(s, n) {
			continue
		}
		c := a.clusterOf(n)
		if target == nil {
			r := a.forest.Union(int(s), int(n))
			a.owner[r] = c
			c.members = append(c.members, s)
			target = c
			continue
		}
		target = a.merge(target, c)
	}
	if target == nil {
		a.newCluster(int(s), []SegmentID{s})
	}
	return a.end(), nil
}

// Remove removes segment s. If s was holding its cluster together, the
// cluster is split. The recomputation only visits the former members of s's
// cluster.
//
func (a *Allocator) Remove(s SegmentID) (Change, error) {
	if !a.isLive(s) {
		return Change{}, errors.Wrapf(ErrUnknownSegment, "remove %d", s)
	}
	a.begin()
	c := a.clusterOf(s)
	a.touch(c.members...)
	for _, n := range a.segs[s].adj {
		a.detach(n, s)
	}
	a.segs[s] = segment{}
	a.split(c, s)
	return a.end(), nil
}

// Connect adds an edge between the live segments x and y, merging their
// clusters if needed.
//
func (a *Allocator) Connect(x, y SegmentID) (Change, error) {
	if !a.isLive(x) || !a.isLive(y) {
		return Change{}, errors.Wrapf(ErrUnknownSegment, "connect %d-%d", x, y)
	}
	a.begin()
	if x != y && a.link(x, y) {
		a.merge(a.clusterOf(x), a.clusterOf(y))
	}
	return a.end(), nil
}

// Disconnect removes the edge between x and y, splitting their cluster if
// this was the last path between them.
//
func (a *Allocator) Disconnect(x, y SegmentID) (Change, error) {
	if !a.isLive(x) || !a.isLive(y) {
		return Change{}, errors.Wrapf(ErrUnknownSegment, "disconnect %d-%d", x, y)
	}
	a.begin()
	if a.unlink(x, y) {
		c := a.clusterOf(x)
		a.touch(c.members...)
		a.split(c, -1)
	}
	return a.end(), nil
}

// split recomputes the connected components of cluster c after segment
// removed (if >= 0) was detached from it. Only members of c are visited.
//
func (a *Allocator) split(c *cluster, removed SegmentID) {
	members := c.members[:0:0]
	for _, m := range c.members {
		a.forest.Reset(int(m))
		if m != removed {
			members = append(members, m)
		}
	}
	if len(members) == 0 {
		a.release(c)
		return
	}
	sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })

	seen := make(map[SegmentID]bool, len(members))
	first := true
	for _, m := range members {
		if seen[m] {
			continue
		}
		seen[m] = true
		comp := []SegmentID{m}
		for i := 0; i < len(comp); i++ {
			for _, n := range a.segs[comp[i]].adj {
				if !seen[n] {
					seen[n] = true
					a.forest.Union(int(m), int(n))
					comp = append(comp, n)
				}
			}
		}
		r := a.forest.Find(int(m))
		if first {
			c.members = comp
			a.owner[r] = c
			first = false
			continue
		}
		a.newCluster(r, comp)
	}
}
