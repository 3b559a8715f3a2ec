// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

package flipflop

import (
	"fmt"

	"github.com/pkg/errors"
)

// Errors returned by this package. Use errors.Cause to test for them.
//
var (
	ErrLayoutMismatch = errors.New("layout version mismatch")
	ErrCapacity       = errors.New("cluster capacity exceeded")
	ErrUnknownSegment = errors.New("unknown segment")
)

// wordBits is the width of a host-side word in a packed buffer.
//
const wordBits = 32

// A Layout describes the packed state buffer and the RenderIndex encoding
// shared by the State Packer, the Index Encoder and the Palette Resolver.
//
// Any change to any of these fields makes a new layout version. Producers and
// consumers built for different layouts must not be mixed (see CheckLayout).
//
type Layout struct {
	Version      int
	GroupBits    int // group width as seen by the GPU: 32 or 128
	GroupCount   int
	SelectorBits int // 0, or 1 when RenderIndex carries a "delayed" selector
}

// Declared layout versions.
//
// V1 is the default and the one used by the command line tool.
//
var (
	V1 = Layout{Version: 1, GroupBits: 32, GroupCount: 1024}
	V2 = Layout{Version: 2, GroupBits: 128, GroupCount: 1024}
	V3 = Layout{Version: 3, GroupBits: 32, GroupCount: 1024, SelectorBits: 1}
)

var layouts = []Layout{V1, V2, V3}

// LayoutByVersion returns the declared layout with the given version number.
//
func LayoutByVersion(v int) (Layout, error) {
	for _, l := range layouts {
		if l.Version == v {
			return l, nil
		}
	}
	return Layout{}, errors.Errorf("unknown layout version %d", v)
}

func (l Layout) String() string {
	return fmt.Sprintf("v%d(%dx%d bits, selector %d)", l.Version, l.GroupCount, l.GroupBits, l.SelectorBits)
}

// Bits returns the total number of bits in a packed buffer.
//
func (l Layout) Bits() int { return l.GroupBits * l.GroupCount }

// Words returns the number of 32 bits host words in a packed buffer.
//
func (l Layout) Words() int { return l.Bits() / wordBits }

// Capacity returns the maximum number of clusters that can be represented
// simultaneously.
//
func (l Layout) Capacity() int { return l.Bits() >> uint(l.SelectorBits) }

// Valid checks that the layout is self-consistent.
//
func (l Layout) Valid() error {
	switch {
	case l.GroupBits != 32 && l.GroupBits != 128:
		return errors.Errorf("layout v%d: invalid group width %d", l.Version, l.GroupBits)
	case l.GroupCount <= 0:
		return errors.Errorf("layout v%d: invalid group count %d", l.Version, l.GroupCount)
	case l.SelectorBits != 0 && l.SelectorBits != 1:
		return errors.Errorf("layout v%d: invalid selector width %d", l.Version, l.SelectorBits)
	case uint64(l.Capacity())<<uint(l.SelectorBits+1) > uint64(Sentinel):
		return errors.Errorf("layout v%d: capacity %d overflows RenderIndex", l.Version, l.Capacity())
	}
	return nil
}

// CheckLayout returns an error with cause ErrLayoutMismatch unless producer
// and consumer describe the exact same layout.
//
func CheckLayout(producer, consumer Layout) error {
	if producer != consumer {
		return errors.Wrapf(ErrLayoutMismatch, "producer %v, consumer %v", producer, consumer)
	}
	return nil
}

// RenderIndex is the per-instance value selecting either the instance's
// explicit color (Sentinel) or a cluster driven, invertible palette color.
//
type RenderIndex uint32

// Sentinel is the RenderIndex of instances with no cluster binding.
//
const Sentinel RenderIndex = 0xffffffff

// Slot returns the position of the current state bit of cluster c in a packed
// buffer.
//
func (l Layout) Slot(c ClusterID) int { return int(c) << uint(l.SelectorBits) }

// Encode returns the RenderIndex of an instance bound to cluster c.
// delayed selects the cluster's state at the previous tick and is only valid
// for layouts with a selector.
//
func (l Layout) Encode(c ClusterID, delayed, invert bool) (RenderIndex, error) {
	if c < 0 || int(c) >= l.Capacity() {
		return Sentinel, errors.Wrapf(ErrCapacity, "cluster %d, capacity %d", c, l.Capacity())
	}
	if delayed && l.SelectorBits == 0 {
		return Sentinel, errors.Errorf("layout v%d has no delayed selector", l.Version)
	}
	r := RenderIndex(c) << uint(l.SelectorBits+1)
	if delayed {
		r |= 2
	}
	if invert {
		r |= 1
	}
	return r, nil
}

// Decode is the inverse of Encode. ok is false for the Sentinel.
//
func (l Layout) Decode(r RenderIndex) (c ClusterID, delayed, invert, ok bool) {
	if r == Sentinel {
		return NoCluster, false, false, false
	}
	c = ClusterID(r >> uint(l.SelectorBits+1))
	delayed = l.SelectorBits > 0 && r&2 != 0
	invert = r&1 != 0
	return c, delayed, invert, true
}
