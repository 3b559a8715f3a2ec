package flipflop_test

import (
	"testing"
	"testing/quick"

	"github.com/db47h/flipflop"
	"github.com/pkg/errors"
)

// oneWord is a layout with a single 32 bits group.
var oneWord = flipflop.Layout{Version: 99, GroupBits: 32, GroupCount: 1}

func TestLayout_geometry(t *testing.T) {
	data := []struct {
		l     flipflop.Layout
		words int
		cap   int
	}{
		{flipflop.V1, 1024, 32768},
		{flipflop.V2, 4096, 131072},
		{flipflop.V3, 1024, 16384},
		{oneWord, 1, 32},
	}
	for _, d := range data {
		t.Run(d.l.String(), func(t *testing.T) {
			if err := d.l.Valid(); err != nil {
				t.Fatal(err)
			}
			if w := d.l.Words(); w != d.words {
				t.Errorf("Words() = %d, expected %d", w, d.words)
			}
			if c := d.l.Capacity(); c != d.cap {
				t.Errorf("Capacity() = %d, expected %d", c, d.cap)
			}
		})
	}
}

func TestLayout_Valid(t *testing.T) {
	for _, l := range []flipflop.Layout{
		{Version: 1, GroupBits: 64, GroupCount: 1024},
		{Version: 1, GroupBits: 32, GroupCount: 0},
		{Version: 1, GroupBits: 32, GroupCount: 1, SelectorBits: 2},
		{Version: 1, GroupBits: 128, GroupCount: 1 << 25},
	} {
		if err := l.Valid(); err == nil {
			t.Errorf("%v: expected error", l)
		}
	}
}

func TestLayoutByVersion(t *testing.T) {
	for _, l := range []flipflop.Layout{flipflop.V1, flipflop.V2, flipflop.V3} {
		got, err := flipflop.LayoutByVersion(l.Version)
		if err != nil {
			t.Fatal(err)
		}
		if got != l {
			t.Errorf("LayoutByVersion(%d) = %v, expected %v", l.Version, got, l)
		}
	}
	if _, err := flipflop.LayoutByVersion(42); err == nil {
		t.Error("expected error for unknown version")
	}
}

func TestCheckLayout(t *testing.T) {
	if err := flipflop.CheckLayout(flipflop.V1, flipflop.V1); err != nil {
		t.Fatal(err)
	}
	err := flipflop.CheckLayout(flipflop.V1, flipflop.V3)
	if errors.Cause(err) != flipflop.ErrLayoutMismatch {
		t.Fatalf("got error %v, expected %v", err, flipflop.ErrLayoutMismatch)
	}
}

func TestEncodeDecode(t *testing.T) {
	for _, l := range []flipflop.Layout{flipflop.V1, flipflop.V2, flipflop.V3, oneWord} {
		l := l
		t.Run(l.String(), func(t *testing.T) {
			f := func(n uint32, delayed, invert bool) bool {
				c := flipflop.ClusterID(n % uint32(l.Capacity()))
				delayed = delayed && l.SelectorBits > 0
				r, err := l.Encode(c, delayed, invert)
				if err != nil || r == flipflop.Sentinel {
					return false
				}
				dc, dd, di, ok := l.Decode(r)
				return ok && dc == c && dd == delayed && di == invert
			}
			if err := quick.Check(f, nil); err != nil {
				t.Error(err)
			}
		})
	}
}

func TestEncode_bounds(t *testing.T) {
	r, err := oneWord.Encode(31, false, false)
	if err != nil {
		t.Fatal(err)
	}
	if c, _, _, ok := oneWord.Decode(r); !ok || c != 31 {
		t.Fatalf("Decode(%#x) = %d, %v", uint32(r), c, ok)
	}
	for _, c := range []flipflop.ClusterID{32, -1} {
		r, err = oneWord.Encode(c, false, false)
		if errors.Cause(err) != flipflop.ErrCapacity {
			t.Errorf("Encode(%d): got error %v, expected %v", c, err, flipflop.ErrCapacity)
		}
		if r != flipflop.Sentinel {
			t.Errorf("Encode(%d) = %#x, expected the sentinel", c, uint32(r))
		}
	}
	if _, err = flipflop.V1.Encode(0, true, false); err == nil {
		t.Error("expected error for delayed selector on v1")
	}
	if _, _, _, ok := flipflop.V1.Decode(flipflop.Sentinel); ok {
		t.Error("Decode(Sentinel) returned ok")
	}
}
