// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

// Package graphspec parses compact descriptions of segment connectivity
// graphs.
//
// A description is a comma separated list of segment ids and paths:
//
//	"0-1-2, 3, 4-5"
//
// describes segments 0 to 5 with edges 0-1, 1-2 and 4-5. Segment 3 is
// isolated.
//
package graphspec

import (
	"unicode"

	"github.com/db47h/flipflop"
	"github.com/pkg/errors"
)

// Token types.
//
const (
	EOF = iota
	Int
	Dash
	Comma
	Raw
)

// An Item is a lexed token.
//
type Item struct {
	Type  int
	Pos   int
	Value int
}

// Lexer splits a graph description into items.
//
type Lexer struct {
	in  []rune
	pos int
}

// NewLexer returns a new lexer for input.
//
func NewLexer(input string) *Lexer {
	return &Lexer{in: []rune(input)}
}

// Lex returns the next item.
//
func (l *Lexer) Lex() Item {
	for l.pos < len(l.in) && unicode.IsSpace(l.in[l.pos]) {
		l.pos++
	}
	if l.pos >= len(l.in) {
		return Item{Type: EOF, Pos: l.pos}
	}
	start := l.pos
	r := l.in[l.pos]
	l.pos++
	switch {
	case r == '-':
		return Item{Type: Dash, Pos: start}
	case r == ',':
		return Item{Type: Comma, Pos: start}
	case '0' <= r && r <= '9':
		v := int(r - '0')
		for l.pos < len(l.in) && '0' <= l.in[l.pos] && l.in[l.pos] <= '9' {
			v = v*10 + int(l.in[l.pos]-'0')
			l.pos++
		}
		return Item{Type: Int, Pos: start, Value: v}
	}
	return Item{Type: Raw, Pos: start, Value: int(r)}
}

// Parse parses a graph description. Segments are listed in order of first
// appearance.
//
func Parse(input string) (flipflop.Graph, error) {
	var g flipflop.Graph
	seen := make(map[flipflop.SegmentID]bool)
	add := func(v int) flipflop.SegmentID {
		s := flipflop.SegmentID(v)
		if !seen[s] {
			seen[s] = true
			g.Segments = append(g.Segments, s)
		}
		return s
	}

	l := NewLexer(input)
	i := l.Lex()
	if i.Type == EOF {
		return g, nil
	}
	for {
		if i.Type != Int {
			return g, parseError(input, i.Pos, "expected segment id")
		}
		prev := add(i.Value)
		i = l.Lex()
		for i.Type == Dash {
			i = l.Lex()
			if i.Type != Int {
				return g, parseError(input, i.Pos, "expected segment id after '-'")
			}
			s := add(i.Value)
			g.Edges = append(g.Edges, flipflop.Edge{prev, s})
			prev = s
			i = l.Lex()
		}
		switch i.Type {
		case EOF:
			return g, nil
		case Comma:
			i = l.Lex()
		default:
			return g, parseError(input, i.Pos, "expected comma or end of input")
		}
	}
}

// MustParse is like Parse but panics on error.
//
func MustParse(input string) flipflop.Graph {
	g, err := Parse(input)
	if err != nil {
		panic(err)
	}
	return g
}

func parseError(in string, pos int, msg string) error {
	return errors.Errorf("in %q at pos %d: %s", in, pos+1, msg)
}
