package lsp

import (
	"sort"
	"unicode/utf8"

	"go.lsp.dev/protocol"
)

// lineIndex maps byte offsets in a document to LSP positions, which count
// characters in UTF-16 code units.
type lineIndex struct {
	text   string
	starts []int
}

func newLineIndex(text string) *lineIndex {
	starts := []int{0}
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			starts = append(starts, i+1)
		}
	}
	return &lineIndex{text: text, starts: starts}
}

// PositionAt converts a byte offset into a position. Offsets past the end
// clamp to the end of the text.
func (l *lineIndex) PositionAt(offset int) protocol.Position {
	if offset < 0 {
		offset = 0
	}
	if offset > len(l.text) {
		offset = len(l.text)
	}
	line := sort.Search(len(l.starts), func(i int) bool { return l.starts[i] > offset }) - 1
	return protocol.Position{Line: uint32(line), Character: uint32(utf16Len(l.text[l.starts[line]:offset]))}
}

// RangeOf returns the range covering text[start:end].
func (l *lineIndex) RangeOf(start, end int) protocol.Range {
	return protocol.Range{Start: l.PositionAt(start), End: l.PositionAt(end)}
}

func utf16Len(s string) int {
	n := 0
	for len(s) > 0 {
		r, size := utf8.DecodeRuneInString(s)
		s = s[size:]
		if r >= 0x10000 && r != utf8.RuneError {
			n += 2
		} else {
			n++
		}
	}
	return n
}
