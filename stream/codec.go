// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

// Package stream broadcasts packed state frames to remote renderers over
// websockets.
//
// Every message is a single binary websocket message:
//
//	offset size  field
//	0      4     magic "FFST"
//	4      2     layout version
//	6      2     group width in bits
//	8      4     group count
//	12     2     selector bits
//	14     2     reserved, zero
//	16     8     tick
//	24     4*n   packed words
//
// All integers are little-endian. Receivers must reject frames whose layout
// differs from the one they were built for.
//
package stream

import (
	"encoding/binary"

	"github.com/db47h/flipflop"
	"github.com/pkg/errors"
)

// Magic starts every frame message.
//
const Magic = "FFST"

// HeaderSize is the size of a frame message header.
//
const HeaderSize = 24

// Encode returns the wire image of frame f.
//
func Encode(f *flipflop.Frame) []byte {
	b := make([]byte, HeaderSize, HeaderSize+4*len(f.Words))
	copy(b, Magic)
	le := binary.LittleEndian
	le.PutUint16(b[4:], uint16(f.Layout.Version))
	le.PutUint16(b[6:], uint16(f.Layout.GroupBits))
	le.PutUint32(b[8:], uint32(f.Layout.GroupCount))
	le.PutUint16(b[12:], uint16(f.Layout.SelectorBits))
	le.PutUint64(b[16:], f.Tick)
	return append(b, f.Bytes()...)
}

// Header decodes the layout and tick of a frame message.
//
func Header(b []byte) (flipflop.Layout, uint64, error) {
	if len(b) < HeaderSize {
		return flipflop.Layout{}, 0, errors.Errorf("short frame message: %d bytes", len(b))
	}
	if string(b[:4]) != Magic {
		return flipflop.Layout{}, 0, errors.Errorf("bad magic %q", b[:4])
	}
	le := binary.LittleEndian
	l := flipflop.Layout{
		Version:      int(le.Uint16(b[4:])),
		GroupBits:    int(le.Uint16(b[6:])),
		GroupCount:   int(le.Uint32(b[8:])),
		SelectorBits: int(le.Uint16(b[12:])),
	}
	return l, le.Uint64(b[16:]), nil
}

// Decode decodes a frame message for a receiver built for layout want. It
// fails with an error whose cause is flipflop.ErrLayoutMismatch if the frame
// was produced for another layout.
//
func Decode(b []byte, want flipflop.Layout) (*flipflop.Frame, error) {
	l, tick, err := Header(b)
	if err != nil {
		return nil, err
	}
	if err = flipflop.CheckLayout(l, want); err != nil {
		return nil, errors.Wrap(err, "frame")
	}
	n := want.Words()
	if len(b) != HeaderSize+4*n {
		return nil, errors.Errorf("frame payload: got %d bytes, expected %d", len(b)-HeaderSize, 4*n)
	}
	f := &flipflop.Frame{Layout: l, Tick: tick, Words: make([]uint32, n), Dirty: true}
	for i := range f.Words {
		f.Words[i] = binary.LittleEndian.Uint32(b[HeaderSize+4*i:])
	}
	return f, nil
}
